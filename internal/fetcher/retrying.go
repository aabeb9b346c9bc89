package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/resilience"
)

// Observer is notified of every fetch attempt with its result: "ok",
// "no_data", or the failure Kind.
type Observer func(protocol model.Protocol, result string)

// RetryingOptions configures the Retrying decorator.
type RetryingOptions struct {
	Retry resilience.RetryConfig
	// AttemptTimeout bounds a single attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
	Observer       Observer
}

// Retrying decorates a SourceFetcher with source validation, the shared
// Budget, and retry with backoff. A slot is held only while an attempt is in
// flight; it is released before the backoff sleep.
type Retrying struct {
	next   SourceFetcher
	budget *Budget
	opts   RetryingOptions
}

// NewRetrying wraps next.
func NewRetrying(next SourceFetcher, budget *Budget, opts RetryingOptions) *Retrying {
	return &Retrying{next: next, budget: budget, opts: opts}
}

// Validate rejects sources that cannot be fetched. Such sources fail as
// KindFatal without touching the Budget.
func Validate(src model.SourceSpec) error {
	switch {
	case strings.TrimSpace(src.DocumentID) == "":
		return &FetchError{Kind: KindFatal, Source: src.String(), Err: eris.New("blank document id")}
	case src.Protocol != "" && !src.Protocol.Valid():
		return &FetchError{Kind: KindFatal, Source: src.String(), Err: errUnsupportedProtocol(src.Protocol)}
	case (src.Protocol == "" || src.Protocol == model.ProtocolValues) && src.Selector() == "":
		return &FetchError{Kind: KindFatal, Source: src.String(), Err: eris.New("blank sheet selector")}
	}
	return nil
}

// Fetch implements SourceFetcher.
func (r *Retrying) Fetch(ctx context.Context, src model.SourceSpec) (Rows, error) {
	if err := Validate(src); err != nil {
		return Rows{}, err
	}

	log := zap.L().With(zap.String("component", "fetcher"), zap.String("source", src.String()))
	cfg := r.opts.Retry
	cfg.ShouldRetry = Retryable
	cfg.OnRetry = func(attempt int, err error) {
		log.Warn("retrying fetch",
			zap.Int("attempt", attempt),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err),
		)
	}

	rows, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (Rows, error) {
		return r.attempt(ctx, src)
	})
	if err != nil {
		return Rows{}, wrap(src.String(), err)
	}
	return rows, nil
}

func (r *Retrying) attempt(ctx context.Context, src model.SourceSpec) (rows Rows, err error) {
	if err := r.budget.Acquire(ctx); err != nil {
		return Rows{}, &FetchError{Kind: KindFatal, Source: src.String(), Err: err}
	}
	defer r.budget.Release()
	defer func() {
		if p := recover(); p != nil {
			rows, err = Rows{}, &FetchError{Kind: KindFatal, Source: src.String(), Err: eris.Errorf("panic: %v", p)}
		}
		r.observe(src, rows, err)
	}()

	if r.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()
	}

	rows, err = r.next.Fetch(ctx, src)
	switch {
	case err == nil:
		r.budget.OnSuccess()
	case KindOf(err) == KindRateLimited:
		r.budget.OnRateLimit()
	}
	return rows, err
}

func (r *Retrying) observe(src model.SourceSpec, rows Rows, err error) {
	if r.opts.Observer == nil {
		return
	}
	proto := src.Protocol
	if proto == "" {
		proto = model.ProtocolValues
	}
	switch {
	case err != nil:
		r.opts.Observer(proto, KindOf(err).String())
	case rows.NoData:
		r.opts.Observer(proto, "no_data")
	default:
		r.opts.Observer(proto, "ok")
	}
}
