package event

import (
	"fmt"
	"time"
)

// QuoteUpdate is a price observation from an upstream feed. It does not go
// through the sequencer; it lands in the oracle's quote book.
type QuoteUpdate struct {
	FeedID    string    // e.g. "ETH-USD"
	RoundID   uint64    // Monotonic per feed
	Price     string    // Decimal string, 8 fractional digits
	UpdatedAt time.Time // Feed's own timestamp (freshness source)
}

func (q *QuoteUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:round:%d", q.FeedID, q.RoundID)
}
