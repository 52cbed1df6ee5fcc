package structured

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/common/llm"
	"github.com/project-tktt/offer-collector/internal/domain"
)

// RetryConfig bounds the attempts made per offer and the backoff between them
type RetryConfig struct {
	// Total attempts including the first. Default: 5.
	MaxAttempts int
	// Delay before the first retry. Default: 500ms.
	BaseDelay time.Duration
	// Cap on a single delay. Default: 8s.
	MaxDelay time.Duration
	// Default: 2.0.
	Multiplier float64
	// Random jitter as a fraction of the delay (0.25 = ±25%). Default: 0.25.
	JitterFraction float64
}

// DefaultRetryConfig returns the retry budget used for model calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	return c
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.JitterFraction > 0 {
		jitterRange := delay * c.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Cache stores validated model output keyed by prompt text
type Cache interface {
	Get(ctx context.Context, text string) (domain.StructuredAttributes, bool, error)
	Set(ctx context.Context, text string, attrs domain.StructuredAttributes) error
}

// Extractor derives StructuredAttributes from offer text with a bounded number of model calls
type Extractor struct {
	model  llm.Model
	retry  RetryConfig
	cache  Cache
	logger *zap.Logger
}

type Option func(*Extractor)

func WithRetry(cfg RetryConfig) Option {
	return func(e *Extractor) { e.retry = cfg.withDefaults() }
}

// WithCache enables the attribute cache; nil disables it
func WithCache(c Cache) Option {
	return func(e *Extractor) { e.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExtractor(model llm.Model, opts ...Option) *Extractor {
	e := &Extractor{
		model:  model,
		retry:  DefaultRetryConfig(),
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("structured")
	return e
}

// Input is one offer's extracted text plus the search keyword for the relevance gate
type Input struct {
	Text    domain.ExtractedText
	Keyword string
	// Used in logs only
	URL string
}

// Result always carries fully populated attributes; Outcome says how they were obtained
type Result struct {
	Attributes domain.StructuredAttributes
	Outcome    domain.Outcome
	Attempts   int
	Cached     bool
}

// Extract runs the relevance gate and the bounded model retry loop.
// Schema failures and model errors never escape: after MaxAttempts the result
// is empty attributes with the fallback years. The only error is context cancellation.
func (e *Extractor) Extract(ctx context.Context, in Input) (Result, error) {
	fallback := FallbackYears(in.Text)

	offerText := OfferText(in.Text)
	if offerText == "" {
		return Result{Attributes: domain.EmptyAttributes(fallback), Outcome: domain.OutcomeNoContent}, nil
	}
	if !Relevant(offerText, in.Keyword) {
		e.logger.Debug("keyword not in offer text, skipping model",
			zap.String("url", in.URL),
			zap.String("keyword", in.Keyword),
		)
		return Result{Attributes: domain.EmptyAttributes(nil), Outcome: domain.OutcomeIrrelevant}, nil
	}

	if e.cache != nil {
		attrs, ok, err := e.cache.Get(ctx, offerText)
		if err != nil {
			e.logger.Warn("attribute cache get failed", zap.String("url", in.URL), zap.Error(err))
		} else if ok {
			return Result{Attributes: withFallback(attrs, fallback), Outcome: domain.OutcomeExtracted, Cached: true}, nil
		}
	}

	prompt := BuildPrompt(offerText)

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		attrs, err := e.attempt(ctx, prompt)
		if err == nil {
			if e.cache != nil {
				if err := e.cache.Set(ctx, offerText, attrs); err != nil {
					e.logger.Warn("attribute cache set failed", zap.String("url", in.URL), zap.Error(err))
				}
			}
			return Result{Attributes: withFallback(attrs, fallback), Outcome: domain.OutcomeExtracted, Attempts: attempt}, nil
		}
		if ctx.Err() != nil {
			return Result{}, eris.Wrap(ctx.Err(), "structured extraction cancelled")
		}
		lastErr = err

		e.logger.Warn("extraction attempt failed",
			zap.String("url", in.URL),
			zap.String("model", e.model.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.retry.MaxAttempts),
			zap.Error(err),
		)

		if attempt == e.retry.MaxAttempts {
			break
		}
		if err := sleep(ctx, e.retry.backoff(attempt-1)); err != nil {
			return Result{}, eris.Wrap(err, "structured extraction cancelled")
		}
	}

	e.logger.Warn("extraction failed after all attempts",
		zap.String("url", in.URL),
		zap.Int("attempts", e.retry.MaxAttempts),
		zap.Error(lastErr),
	)
	return Result{
		Attributes: domain.EmptyAttributes(fallback),
		Outcome:    domain.OutcomeFailed,
		Attempts:   e.retry.MaxAttempts,
	}, nil
}

func (e *Extractor) attempt(ctx context.Context, prompt string) (domain.StructuredAttributes, error) {
	raw, err := e.model.GenerateJSON(ctx, prompt)
	if err != nil {
		return domain.StructuredAttributes{}, err
	}
	return Parse(raw)
}

func withFallback(attrs domain.StructuredAttributes, fallback *int) domain.StructuredAttributes {
	if attrs.MinYearsExperience == nil {
		attrs.MinYearsExperience = fallback
	}
	return attrs
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
