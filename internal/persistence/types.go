package persistence

import "github.com/MimeLyc/contextual-book-translator/internal/book"

// Progress is a group plus the unit counters of one run.
type Progress struct {
	Group         book.Group `json:"group"`
	Translated    int        `json:"translated"`
	Dirty         int        `json:"dirty"`
	HealingFailed int        `json:"healing_failed"`
	Percent       float64    `json:"percent"`
}
