// Package book holds the persisted entities of a translation project.
package book

import (
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/placeholder"
)

type ProjectStatus string

const (
	ProjectActive ProjectStatus = "active"
	ProjectPaused ProjectStatus = "paused"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type GroupStatus string

const (
	GroupPending GroupStatus = "pending"
	GroupRunning GroupStatus = "running"
	GroupPaused  GroupStatus = "paused"
	GroupReady   GroupStatus = "ready"
)

type UnitStatus string

const (
	UnitPending     UnitStatus = "pending"
	UnitTranslating UnitStatus = "translating"
	UnitTranslated  UnitStatus = "translated"
)

// PendingLike are the unit statuses the worker picks up. A unit left in
// translating by a crash is retried.
var PendingLike = []UnitStatus{UnitPending, UnitTranslating}

type BlockStatus string

const (
	BlockOK            BlockStatus = "ok"
	BlockUnvalidated   BlockStatus = "unvalidated"
	BlockHealingFailed BlockStatus = "healing_failed"
)

type Project struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SourcePath string        `json:"source_path"`
	SourceLang string        `json:"source_lang"`
	TargetLang string        `json:"target_lang"`
	Status     ProjectStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type Run struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runnable reports whether workers may make progress on the run.
func Runnable(p *Project, r *Run) bool {
	return p != nil && r != nil && p.Status == ProjectActive && r.Status == RunRunning
}

// Group is one source file of a project. Cursor is the lowest position not
// yet durably translated in the current run.
type Group struct {
	ID             int64       `json:"id"`
	ProjectID      string      `json:"project_id"`
	GroupKey       string      `json:"group_key"`
	Position       int         `json:"position"`
	Cursor         int         `json:"cursor"`
	UnitCount      int         `json:"unit_count"`
	Status         GroupStatus `json:"status"`
	ContextSummary string      `json:"context_summary,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Percent is the share of units behind the cursor.
func (g *Group) Percent() float64 {
	if g.UnitCount == 0 {
		return 100
	}
	return float64(g.Cursor) * 100 / float64(g.UnitCount)
}

type Unit struct {
	ID             int64                     `json:"id"`
	GroupID        int64                     `json:"group_id"`
	UnitKey        string                    `json:"unit_key"`
	Position       int                       `json:"position"`
	RawMarkup      string                    `json:"raw_markup"`
	ProtectedText  string                    `json:"protected_text"`
	PlaceholderMap placeholder.Map           `json:"placeholder_map"`
	TaggedText     string                    `json:"tagged_text"`
	SemanticIndex  placeholder.SemanticIndex `json:"semantic_index"`
	ContentHash    string                    `json:"content_hash"`
	Status         UnitStatus                `json:"status"`
	Dirty          bool                      `json:"dirty"`
}

// BlockTranslation is the result for one (run, unit) pair.
type BlockTranslation struct {
	RunID            string      `json:"run_id"`
	UnitID           int64       `json:"unit_id"`
	TranslatedText   string      `json:"translated_text"`
	TranslatedMarkup string      `json:"translated_markup"`
	Status           BlockStatus `json:"status"`
	RawResponse      string      `json:"raw_response,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// AdvanceCursor returns the cursor after the unit at position committed.
// The result never decreases and never exceeds total.
func AdvanceCursor(cursor, position, total int) int {
	return min(max(cursor, position+1), total)
}
