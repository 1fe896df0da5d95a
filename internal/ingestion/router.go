package ingestion

import (
	"context"
	"errors"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter runs a command to completion. core.Sequencer satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Event) (*core.CoreOutput, error)
}

// Router drains raw NATS messages. Quotes go straight to the quote book.
// Commands go through the sequencer, and each message is acked only once
// the engine has answered.
type Router struct {
	submitter Submitter
	quotes    *QuoteIngester
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRouter(submitter Submitter, quotes *QuoteIngester, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	return &Router{submitter: submitter, quotes: quotes, metrics: metrics, logger: logger}
}

// Run processes messages until rawChan closes or ctx ends.
func (r *Router) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			r.Handle(ctx, raw)
		}
	}
}

// Handle settles one message.
//
// Ack: applied, duplicate, malformed or rejected by the engine. None of
// these change on redelivery. Nak: the caller's context ended before the
// engine answered, or the dedup store could not be consulted; the retry is
// safe because the request id dedups it.
func (r *Router) Handle(ctx context.Context, raw RawEvent) {
	switch raw.Kind {
	case KindQuote:
		u, err := ParseQuote(raw.Data)
		if err == nil {
			_, err = r.quotes.Apply(u)
		}
		if err != nil {
			r.reject("nats", "quote")
			r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("quote dropped")
		}
		raw.AckFunc()

	case KindCommand:
		cmd, err := ParseCommand(raw.Subject, raw.Data)
		if err != nil {
			r.reject("nats", "malformed")
			r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("command dropped")
			raw.AckFunc()
			return
		}

		_, err = r.submitter.Submit(ctx, cmd)
		switch {
		case err == nil:
			if r.metrics != nil {
				r.metrics.IngestToApply.WithLabelValues(cmd.EventType().String()).Observe(time.Since(raw.Timestamp).Seconds())
			}
			raw.AckFunc()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, core.ErrSequencerStopped), errors.Is(err, core.ErrIdempotencyUnavailable):
			raw.NakFunc()
		default:
			r.logger.Info().
				Err(err).
				Str("command", cmd.EventType().String()).
				Str("request_id", cmd.IdempotencyKey()).
				Msg("command rejected")
			raw.AckFunc()
		}

	default:
		r.reject("nats", "unknown_subject")
		r.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		raw.AckFunc()
	}
}

func (r *Router) reject(source, reason string) {
	if r.metrics != nil {
		r.metrics.IngestRejected.WithLabelValues(source, reason).Inc()
	}
}
