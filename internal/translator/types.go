package translator

import (
	"context"

	"github.com/MimeLyc/contextual-book-translator/internal/termmap"
)

// Usage names the purpose a model endpoint is configured for.
type Usage string

const (
	UsageTranslate Usage = "translate"
	UsageClassify  Usage = "classify"
)

// Verdict is the outcome of a classify call.
type Verdict string

const (
	VerdictTranslated    Verdict = "translated"
	VerdictNotTranslated Verdict = "not_translated"
	VerdictAmbiguous     Verdict = "ambiguous"
)

// Request carries the tagged texts of one call. Texts use the semantic
// marker form ([[p_1]]...[[/p_1]]) and are translated item by item.
type Request struct {
	SourceLang string
	TargetLang string
	Texts      []string
	// Context is the rolling summary returned by the previous call.
	Context  string
	Glossary termmap.TermMap
}

// Result is always populated when err is nil, even when the model drifted
// from the schema; Validated tells whether it passed every check.
type Result struct {
	Translations   []string
	ContextSummary string
	Raw            string
	Validated      bool
	Attempts       int
}

// EndpointPool is the subset of the endpoint arbiter the client needs.
type EndpointPool interface {
	Checkout(ctx context.Context, candidates []string) (string, error)
	Checkin(url string)
	ReportFailure(url string)
}

type Translator interface {
	Translate(ctx context.Context, req Request) (*Result, error)
	Classify(ctx context.Context, source, translated, targetLang string) (Verdict, error)
}
