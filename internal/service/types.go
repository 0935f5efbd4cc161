package service

import (
	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/jobs"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
)

// ImportRequest names an unpacked book directory to segment and store.
type ImportRequest struct {
	Name       string
	Path       string
	SourceLang string
	TargetLang string
}

// FileError is a document that could not be segmented. The rest of the
// book is imported without it.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type ImportResult struct {
	Project *book.Project `json:"project"`
	Groups  int           `json:"groups"`
	Units   int           `json:"units"`
	Failed  []FileError   `json:"failed,omitempty"`
}

type ExportResult struct {
	Output     string   `json:"output"`
	Files      int      `json:"files"`
	Translated int      `json:"translated"`
	Missing    int      `json:"missing"`
	Incomplete []string `json:"incomplete,omitempty"`
}

// Status is the state of a project's latest run.
type Status struct {
	Project *book.Project          `json:"project"`
	Run     *book.Run              `json:"run,omitempty"`
	Groups  []persistence.Progress `json:"groups"`
	Jobs    []*jobs.Job            `json:"jobs"`
	Percent float64                `json:"percent"`
}
