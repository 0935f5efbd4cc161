package jobs

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusDiscarded Status = "discarded"
)

// InFlight reports whether a job with this status holds its dedupe key.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

type Kind string

const (
	KindTranslateGroup   Kind = "translate_group"
	KindRetranslateDirty Kind = "retranslate_dirty"
	KindQualityGuard     Kind = "quality_guard"
)

const DefaultMaxAttempts = 5

type EnqueueRequest struct {
	Kind        Kind
	RunID       string
	GroupID     int64
	MaxAttempts int
	Delay       time.Duration
}

// DedupeKey identifies the single in-flight job allowed per kind, run and group.
func DedupeKey(kind Kind, runID string, groupID int64) string {
	return fmt.Sprintf("%s|%s|%d", kind, runID, groupID)
}

type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	RunID       string    `json:"run_id"`
	GroupID     int64     `json:"group_id"`
	DedupeKey   string    `json:"dedupe_key"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Steps       int       `json:"steps"`
	RunAt       time.Time `json:"run_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	lease uint64
}

// Outcome tells the queue what to do with a job after one step.
type Outcome int

const (
	// Done finishes the job and releases its dedupe key.
	Done Outcome = iota
	// Continue runs the same job again right away.
	Continue
	// Snooze runs the same job again after Result.Delay without using up
	// an attempt.
	Snooze
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Continue:
		return "continue"
	case Snooze:
		return "snooze"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	Delay   time.Duration
}

func DoneResult() Result                      { return Result{Outcome: Done} }
func ContinueResult() Result                  { return Result{Outcome: Continue} }
func SnoozeResult(delay time.Duration) Result { return Result{Outcome: Snooze, Delay: delay} }
