package oracle

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteBook holds the latest accepted quote per asset and implements Feed.
// Ingestion goroutines write to it while the sequencer reads, hence the lock.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[common.Address]Quote
	stats  map[common.Address]*BookStats
}

// BookStats counts update outcomes for one asset.
type BookStats struct {
	Accepted  int64
	Stale     int64 // round not newer than the held one, ignored
	RoundGaps int64 // rounds skipped, accepted anyway
}

func NewQuoteBook() *QuoteBook {
	return &QuoteBook{
		quotes: make(map[common.Address]Quote),
		stats:  make(map[common.Address]*BookStats),
	}
}

// Update offers a quote for asset. Rounds at or below the held round are
// ignored (idempotent redelivery); gaps are tolerated. Returns whether the
// quote replaced the held one.
func (b *QuoteBook) Update(asset common.Address, q Quote) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.statsFor(asset)
	held, ok := b.quotes[asset]
	if ok {
		if q.RoundID <= held.RoundID || q.UpdatedAt.Before(held.UpdatedAt) {
			st.Stale++
			return false
		}
		if q.RoundID > held.RoundID+1 {
			st.RoundGaps++
		}
	}

	b.quotes[asset] = copyQuote(q)
	st.Accepted++
	return true
}

// LatestQuote returns the held quote; the zero Quote if none was published.
func (b *QuoteBook) LatestQuote(asset common.Address) (Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyQuote(b.quotes[asset]), nil
}

// Stats returns a copy of the update counters for asset.
func (b *QuoteBook) Stats(asset common.Address) BookStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.stats[asset]; ok {
		return *st
	}
	return BookStats{}
}

// Snapshot returns a copy of every held quote.
func (b *QuoteBook) Snapshot() map[common.Address]Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[common.Address]Quote, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = copyQuote(v)
	}
	return out
}

func (b *QuoteBook) statsFor(asset common.Address) *BookStats {
	st, ok := b.stats[asset]
	if !ok {
		st = &BookStats{}
		b.stats[asset] = st
	}
	return st
}

func copyQuote(q Quote) Quote {
	out := Quote{RoundID: q.RoundID, UpdatedAt: q.UpdatedAt}
	if q.Price != nil {
		out.Price = new(big.Int).Set(q.Price)
	}
	return out
}

// StaticFeed is a fixed set of quotes, handy for wiring a registry before
// any live feed has connected and for tests.
type StaticFeed map[common.Address]Quote

func (f StaticFeed) LatestQuote(asset common.Address) (Quote, error) {
	return copyQuote(f[asset]), nil
}

// NewQuote builds a quote from an 8-digit integer price.
func NewQuote(round uint64, price int64, updatedAt time.Time) Quote {
	return Quote{RoundID: round, Price: big.NewInt(price), UpdatedAt: updatedAt}
}
