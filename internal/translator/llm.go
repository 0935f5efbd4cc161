package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MimeLyc/contextual-book-translator/internal/llm"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

const DefaultMaxCorrections = 3

// Option configures a Client.
type Option func(*Client)

// WithMaxCorrections sets how many corrective re-prompts follow an invalid
// answer.
func WithMaxCorrections(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxCorrections = n
		}
	}
}

// Client is the model client. Every request goes through the endpoint pool
// and is retried on another endpoint when the chosen one fails at the
// transport level.
type Client struct {
	endpoints      map[Usage]EndpointConfig
	clients        map[Usage]*llm.Client
	pool           EndpointPool
	maxCorrections int
}

var _ Translator = (*Client)(nil)

// NewClient resolves every usage type up front so that a missing endpoint
// fails here instead of in the middle of a run.
func NewClient(endpoints Endpoints, pool EndpointPool, opts ...Option) (*Client, error) {
	if pool == nil {
		return nil, errors.New("endpoint pool is required")
	}
	c := &Client{
		endpoints:      make(map[Usage]EndpointConfig),
		clients:        make(map[Usage]*llm.Client),
		pool:           pool,
		maxCorrections: DefaultMaxCorrections,
	}
	for _, usage := range []Usage{UsageTranslate, UsageClassify} {
		cfg, err := endpoints.Resolve(usage)
		if err != nil {
			return nil, err
		}
		client, err := llm.NewClient(cfg.llmConfig())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMissingEndpoint, usage, err)
		}
		c.endpoints[usage] = cfg
		c.clients[usage] = client
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call runs fn against endpoints checked out from the pool until it succeeds,
// fails with a non-retryable error, or every candidate has been tried.
func (c *Client) call(ctx context.Context, usage Usage, fn func(baseURL string) error) error {
	candidates := c.endpoints[usage].URLs
	var lastErr error
	for attempt := 0; attempt < len(candidates); attempt++ {
		url, err := c.pool.Checkout(ctx, candidates)
		if err != nil {
			return fmt.Errorf("endpoint checkout failed: %w", err)
		}
		err = fn(url)
		if err == nil {
			c.pool.Checkin(url)
			return nil
		}
		if !llm.IsRetryable(err) {
			c.pool.Checkin(url)
			return err
		}
		c.pool.ReportFailure(url)
		log.Warn("%s call on %s failed (attempt %d/%d): %v", usage, url, attempt+1, len(candidates), err)
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("all %s endpoints failed: %w", usage, lastErr)
}

// Translate translates req.Texts. Schema drift never makes it fail: after
// the corrective re-prompts run out it falls back to lenient parsing and
// then to the raw text. Errors are transport or context failures only.
func (c *Client) Translate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Texts) == 0 {
		return &Result{Validated: true}, nil
	}

	userMessage, err := buildTranslationUserMessage(req.Texts, req.Context)
	if err != nil {
		return nil, err
	}

	conv := llm.NewConversation(c.clients[UsageTranslate], buildSystemPrompt(req), 2*(c.maxCorrections+1))
	opts := llm.NewChatCompletionOptions().WithResponseFormat(translationFormat())

	message := userMessage
	raw := ""
	for attempt := 0; attempt <= c.maxCorrections; attempt++ {
		err := c.call(ctx, UsageTranslate, func(baseURL string) error {
			content, err := conv.SendMessageWithOptions(ctx, message, opts.WithBaseURL(baseURL))
			if rejectsSchema(err) && opts.ResponseFormat != nil {
				log.Warn("Endpoint %s rejected response_format, retrying without it", baseURL)
				opts.ResponseFormat = nil
				content, err = conv.SendMessageWithOptions(ctx, message, opts)
			}
			raw = content
			return err
		})
		if err != nil {
			return nil, err
		}

		out, err := parseTranslationOutput(cleanResponse(raw))
		var problems []string
		if err != nil {
			problems = []string{err.Error()}
		} else {
			problems = validateOutput(req.Texts, out)
		}
		if len(problems) == 0 {
			return &Result{
				Translations:   out.Translations,
				ContextSummary: out.ContextSummary,
				Raw:            raw,
				Validated:      true,
				Attempts:       attempt + 1,
			}, nil
		}

		log.Debug("Translation attempt %d invalid: %v", attempt+1, problems)
		message = buildCorrectionMessage(problems)
	}

	attempts := c.maxCorrections + 1
	cleaned := cleanResponse(raw)
	if out, ok := parseLenient(cleaned); ok {
		log.Warn("Translation output still invalid after %d attempts, using best-effort parse", attempts)
		return &Result{
			Translations:   fitCount(out.Translations, len(req.Texts)),
			ContextSummary: out.ContextSummary,
			Raw:            raw,
			Attempts:       attempts,
		}, nil
	}

	log.Warn("Translation output unparseable after %d attempts, using raw text", attempts)
	return &Result{
		Translations:   rawFallback(cleaned, len(req.Texts)),
		ContextSummary: req.Context,
		Raw:            raw,
		Attempts:       attempts,
	}, nil
}

// rejectsSchema reports a 400 answer, which servers without structured
// output support give for response_format.
func rejectsSchema(err error) bool {
	var se *llm.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusBadRequest
}

// Classify asks the classify endpoints whether translated is a real
// translation of source.
func (c *Client) Classify(ctx context.Context, source, translated, targetLang string) (Verdict, error) {
	client := c.clients[UsageClassify]
	messages := []llm.Message{{Role: "user", Content: buildClassifyMessage(source, translated)}}

	var verdict Verdict
	err := c.call(ctx, UsageClassify, func(baseURL string) error {
		opts := llm.NewChatCompletionOptions().
			WithSystemPrompt(buildClassifyPrompt(targetLang)).
			WithTemperature(0).
			WithResponseFormat(classifyFormat()).
			WithBaseURL(baseURL)
		resp, err := client.ChatCompletion(ctx, messages, opts)
		if err != nil {
			return err
		}
		content, err := resp.Content()
		if err != nil {
			return err
		}
		verdict = parseVerdict(cleanResponse(content))
		return nil
	})
	if err != nil {
		return "", err
	}
	return verdict, nil
}
