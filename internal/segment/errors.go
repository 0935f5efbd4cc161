package segment

import (
	"errors"
	"fmt"
)

// ErrParse matches every *ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports a document that could not be segmented. It only ever
// concerns one file.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
