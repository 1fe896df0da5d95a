package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
)

// GRPCIngestService is the programmatic submission path used by the RPC
// surface. NATS remains the high-throughput path; both end at the same
// sequencer and quote book.
type GRPCIngestService struct {
	submitter Submitter
	quotes    *QuoteIngester
}

func NewGRPCIngestService(submitter Submitter, quotes *QuoteIngester) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter, quotes: quotes}
}

// SubmitCommand builds and runs a command of type et. A duplicate request
// id returns (nil, nil).
func (s *GRPCIngestService) SubmitCommand(ctx context.Context, et event.EventType, j CommandJSON) (*core.CoreOutput, error) {
	cmd, err := BuildCommand(et, j)
	if err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, cmd)
}

// SubmitQuote applies an admin-supplied quote. It reports whether the
// quote replaced the held one.
func (s *GRPCIngestService) SubmitQuote(ctx context.Context, j QuoteJSON) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return false, fmt.Errorf("marshal quote: %w", err)
	}
	u, err := ParseQuote(data)
	if err != nil {
		return false, err
	}
	return s.quotes.Apply(u)
}
