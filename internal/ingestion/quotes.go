package ingestion

import (
	"errors"
	"fmt"

	"SynthLedger/internal/event"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var ErrUnknownFeed = errors.New("ingestion: feed not bound to any collateral asset")

// QuoteBook is where accepted quotes land. oracle.QuoteBook satisfies it.
type QuoteBook interface {
	Update(asset common.Address, q oracle.Quote) bool
}

// FeedIndex resolves a feed symbol to its collateral asset.
type FeedIndex interface {
	ByFeed(feedID string) (state.CollateralAsset, bool)
}

// QuoteIngester applies quote updates from any source. Quotes bypass the
// sequencer: the engine only reads them through the oracle adapter.
type QuoteIngester struct {
	book    QuoteBook
	feeds   FeedIndex
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewQuoteIngester(book QuoteBook, feeds FeedIndex, metrics *observability.Metrics, logger zerolog.Logger) *QuoteIngester {
	return &QuoteIngester{book: book, feeds: feeds, metrics: metrics, logger: logger}
}

// Apply offers u to the book. It reports whether the quote was newer than
// the held one; an older round is not an error.
func (qi *QuoteIngester) Apply(u *event.QuoteUpdate) (bool, error) {
	asset, ok := qi.feeds.ByFeed(u.FeedID)
	if !ok {
		qi.count(u.FeedID, "unknown_feed")
		return false, fmt.Errorf("%w: %s", ErrUnknownFeed, u.FeedID)
	}
	q, err := ToQuote(u)
	if err != nil {
		qi.count(u.FeedID, "malformed")
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	accepted := qi.book.Update(asset.Address, q)
	if !accepted {
		qi.count(u.FeedID, "out_of_order")
		qi.logger.Debug().Str("feed", u.FeedID).Uint64("round", u.RoundID).Msg("quote not newer than held round")
		return false, nil
	}
	qi.count(u.FeedID, "accepted")
	if qi.metrics != nil {
		qi.metrics.QuoteRoundAge.WithLabelValues(u.FeedID).Set(float64(u.UpdatedAt.Unix()))
	}
	return true, nil
}

func (qi *QuoteIngester) count(feed, result string) {
	if qi.metrics != nil {
		qi.metrics.QuoteUpdates.WithLabelValues(feed, result).Inc()
	}
}
