package service

import (
	"context"
	"sync"

	"github.com/MimeLyc/contextual-book-translator/internal/translator"
)

// TranslatorFactory builds a model client for resolved endpoints.
type TranslatorFactory func(endpoints translator.Endpoints) (translator.Translator, error)

// liveTranslator forwards to the client installed by the latest run start,
// so endpoint changes apply to the next run without restarting workers.
type liveTranslator struct {
	mu      sync.RWMutex
	current translator.Translator
}

var _ translator.Translator = (*liveTranslator)(nil)

func (l *liveTranslator) set(tr translator.Translator) {
	l.mu.Lock()
	l.current = tr
	l.mu.Unlock()
}

func (l *liveTranslator) get() (translator.Translator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return nil, translator.ErrMissingEndpoint
	}
	return l.current, nil
}

func (l *liveTranslator) Translate(ctx context.Context, req translator.Request) (*translator.Result, error) {
	tr, err := l.get()
	if err != nil {
		return nil, err
	}
	return tr.Translate(ctx, req)
}

func (l *liveTranslator) Classify(ctx context.Context, source, translated, targetLang string) (translator.Verdict, error) {
	tr, err := l.get()
	if err != nil {
		return "", err
	}
	return tr.Classify(ctx, source, translated, targetLang)
}
