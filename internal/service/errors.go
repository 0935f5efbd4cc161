package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/contextual-book-translator/internal/healer"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/quality"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/file"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

type ErrorType int

const (
	ErrFileNotFound ErrorType = iota
	ErrFileRead
	ErrFileWrite
	ErrParse
	ErrUnsafePath
	ErrMissingEndpointConfig
	ErrAPI
	ErrValidation
	ErrHealingFailed
	ErrSimilarityViolation
	ErrConfig
	ErrNotFound
	ErrConflict
	ErrUnknown
)

type BookTransError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *BookTransError {
	return &BookTransError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *BookTransError {
	return &BookTransError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *BookTransError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *BookTransError) Unwrap() error {
	return e.Cause
}

func (e *BookTransError) WithContext(key string, value any) *BookTransError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrFileNotFound:
		return "FileNotFound"
	case ErrFileRead:
		return "FileRead"
	case ErrFileWrite:
		return "FileWrite"
	case ErrParse:
		return "Parse"
	case ErrUnsafePath:
		return "UnsafePath"
	case ErrMissingEndpointConfig:
		return "MissingEndpointConfig"
	case ErrAPI:
		return "API"
	case ErrValidation:
		return "Validation"
	case ErrHealingFailed:
		return "HealingFailed"
	case ErrSimilarityViolation:
		return "SimilarityViolation"
	case ErrConfig:
		return "Config"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *BookTransError) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

func (h *DefaultErrorHandler) Handle(err error) bool {
	var btErr *BookTransError
	if !errors.As(err, &btErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	advice := h.GetAdvice(btErr)
	log.Error("Error Detail: %v\n advice: %s", err, advice)

	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *BookTransError) string {
	switch err.Type {
	case ErrFileNotFound:
		return "Please check that the book directory exists and is readable"
	case ErrFileRead:
		return "Please check file permissions to ensure read access and verify the file is not corrupted"
	case ErrFileWrite:
		return "Please ensure the output directory is writable and lies outside the source tree"
	case ErrParse:
		return "The document is not well-formed XHTML; fix the markup of the listed file and import again"
	case ErrUnsafePath:
		return "A document path points outside the book directory; check the book's file layout"
	case ErrMissingEndpointConfig:
		return "Configure at least one endpoint URL and a model for translation (LLM_API_URLS, LLM_MODEL or the settings API)"
	case ErrAPI:
		return "Please check that the model endpoints are reachable and the API key is correct"
	case ErrValidation:
		return "Please verify the request parameters"
	case ErrHealingFailed:
		return "Some markup tags had to be restored automatically; review the flagged units"
	case ErrSimilarityViolation:
		return "The translation is almost identical to the source; the unit was queued for retranslation"
	case ErrConfig:
		return "Please check that configuration files or environment variables are set correctly"
	case ErrNotFound:
		return "The requested project, run or unit does not exist"
	case ErrConflict:
		return "The project already has an active run; pause, resume or wait for it to finish"
	default:
		return "Please review detailed error information and check relevant configuration and files"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var btErr *BookTransError
	if errors.As(err, &btErr) {
		return btErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *BookTransError {
	return NewErrorWithCause(errorType, message, err)
}

// Classify maps package sentinels onto an ErrorType. Errors that are
// already typed keep their type.
func Classify(err error) ErrorType {
	var btErr *BookTransError
	switch {
	case err == nil:
		return ErrUnknown
	case errors.As(err, &btErr):
		return btErr.Type
	case errors.Is(err, segment.ErrParse):
		return ErrParse
	case errors.Is(err, file.ErrUnsafePath):
		return ErrUnsafePath
	case errors.Is(err, translator.ErrMissingEndpoint):
		return ErrMissingEndpointConfig
	case errors.Is(err, healer.ErrHealingFailed):
		return ErrHealingFailed
	case errors.Is(err, quality.ErrSimilarityViolation):
		return ErrSimilarityViolation
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	default:
		return ErrUnknown
	}
}

// wrap types err by Classify, falling back to fallback.
func wrap(err error, fallback ErrorType, message string) *BookTransError {
	t := Classify(err)
	if t == ErrUnknown {
		t = fallback
	}
	return WrapError(err, t, message)
}

func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
