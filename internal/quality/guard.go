// Package quality flags translations that look suspiciously like their
// source text.
package quality

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// ErrSimilarityViolation matches every *SimilarityError.
var ErrSimilarityViolation = errors.New("similarity violation")

type Level int

const (
	LevelNone Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "none"
	}
}

type SimilarityError struct {
	Ratio float64
	Level Level
}

func (e *SimilarityError) Error() string {
	return fmt.Sprintf("translation is %.0f%% similar to source (%s)", e.Ratio*100, e.Level)
}

func (e *SimilarityError) Is(target error) bool { return target == ErrSimilarityViolation }

type Config struct {
	Medium float64
	High   float64
	// MinLength is the rune count below which text is never checked.
	MinLength int
}

func DefaultConfig() Config {
	return Config{Medium: 0.85, High: 0.95, MinLength: 12}
}

// Classifier asks a model whether a text was translated.
type Classifier interface {
	Classify(ctx context.Context, source, translated, targetLang string) (translator.Verdict, error)
}

type Guard struct {
	cfg        Config
	classifier Classifier
}

// NewGuard builds a guard. classifier may be nil, in which case medium
// similarity is decided by language detection alone.
func NewGuard(cfg Config, classifier Classifier) *Guard {
	def := DefaultConfig()
	if cfg.Medium <= 0 {
		cfg.Medium = def.Medium
	}
	if cfg.High <= 0 {
		cfg.High = def.High
	}
	if cfg.High < cfg.Medium {
		cfg.High = cfg.Medium
	}
	if cfg.MinLength < 0 {
		cfg.MinLength = 0
	}
	return &Guard{cfg: cfg, classifier: classifier}
}

func (g *Guard) level(ratio float64) Level {
	switch {
	case ratio >= g.cfg.High:
		return LevelHigh
	case ratio >= g.cfg.Medium:
		return LevelMedium
	default:
		return LevelNone
	}
}

// Check compares plain source and translated text. It returns a
// *SimilarityError when the unit should be translated again. Only a failed
// classify call yields any other error.
func (g *Guard) Check(ctx context.Context, source, translated, targetLang string) error {
	if utf8.RuneCountInString(Normalize(source)) < g.cfg.MinLength {
		return nil
	}
	ratio := Similarity(source, translated)
	lvl := g.level(ratio)
	switch lvl {
	case LevelNone:
		return nil
	case LevelHigh:
		return &SimilarityError{Ratio: ratio, Level: lvl}
	}

	if inTargetLanguage(translated, targetLang) {
		return nil
	}
	if g.classifier == nil {
		return &SimilarityError{Ratio: ratio, Level: lvl}
	}

	verdict, err := g.classifier.Classify(ctx, source, translated, targetLang)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	switch verdict {
	case translator.VerdictNotTranslated:
		return &SimilarityError{Ratio: ratio, Level: lvl}
	case translator.VerdictAmbiguous:
		log.Warn("Classifier undecided on a %.0f%% similar translation, keeping it", ratio*100)
	}
	return nil
}

// inTargetLanguage reports whether text is reliably detected as targetLang.
func inTargetLanguage(text, targetLang string) bool {
	tag, err := language.Parse(targetLang)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	info := whatlanggo.Detect(text)
	return info.IsReliable() && info.Lang.Iso6391() == base.String()
}
