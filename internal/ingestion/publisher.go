package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"SynthLedger/internal/core"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the subset of jetstream.JetStream the outbound path uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed records for downstream consumers.
// Subjects follow synth.ledger.events.{record}.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is one record of a committed command.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Caller         string          `json:"caller"`
	Record         string          `json:"record"`
	Data           json.RawMessage `json:"data"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Subject is where the event is published.
func (p PublishableEvent) Subject() string {
	return LedgerSubjectPrefix + p.Record
}

// PublishableEvents splits a core output into one event per record.
func PublishableEvents(out core.CoreOutput) ([]PublishableEvent, error) {
	env := out.Envelope
	events := make([]PublishableEvent, 0, len(out.Records))
	for _, r := range out.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", r.RecordName(), err)
		}
		events = append(events, PublishableEvent{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Caller:         env.Caller.Hex(),
			Record:         r.RecordName(),
			Data:           data,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return events, nil
}

func NewOutboundPublisher(js Publisher, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until the input closes or ctx ends.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can query the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Str("record", evt.Record).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Msg-Id lets JetStream drop a republished record within its dedup window.
	msgID := fmt.Sprintf("%d:%s", evt.Sequence, evt.Record)
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(msgID))
	return err
}
