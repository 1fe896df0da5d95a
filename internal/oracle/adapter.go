package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	fpmath "SynthLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StalenessWindow is the maximum age of a quote before it is refused.
const StalenessWindow = time.Hour

var (
	ErrOraclePriceInvalid = errors.New("oracle: price is zero or negative")
	ErrOracleStale        = errors.New("oracle: quote is stale")
	ErrConversionOverflow = errors.New("oracle: usd conversion overflow")
)

// Quote is a price observation as published by a feed.
// Price carries 8 fractional digits and may be signed.
type Quote struct {
	RoundID   uint64
	Price     *big.Int
	UpdatedAt time.Time
}

// Feed is the external price source bound to a collateral asset.
// A feed that has never published returns a zero Quote and a nil error.
type Feed interface {
	LatestQuote(asset common.Address) (Quote, error)
}

// ReadObserver receives oracle read outcomes. observability.Metrics satisfies it.
type ReadObserver interface {
	ObserveOracleRead(asset string, err error)
}

// Adapter is the only path by which the engine reads prices. Every read
// validates freshness and sign before any value is derived.
type Adapter struct {
	feed     Feed
	now      func() time.Time
	observer ReadObserver
	labels   map[common.Address]string
}

func NewAdapter(feed Feed, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		feed:   feed,
		now:    now,
		labels: make(map[common.Address]string),
	}
}

// WithObserver attaches a read observer; labels map asset addresses to symbols.
func (a *Adapter) WithObserver(obs ReadObserver, labels map[common.Address]string) *Adapter {
	a.observer = obs
	for k, v := range labels {
		a.labels[k] = v
	}
	return a
}

// ValidateQuote applies the staleness and sign rules to a quote observed at now.
func ValidateQuote(q Quote, now time.Time) error {
	if q.UpdatedAt.IsZero() || q.UpdatedAt.Unix() == 0 {
		return fmt.Errorf("%w: never published", ErrOracleStale)
	}
	if now.Before(q.UpdatedAt) {
		return fmt.Errorf("%w: observation at %s is in the future", ErrOracleStale, q.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if age := now.Sub(q.UpdatedAt); age > StalenessWindow {
		return fmt.Errorf("%w: age %s exceeds %s", ErrOracleStale, age.Truncate(time.Second), StalenessWindow)
	}
	if q.Price == nil || q.Price.Sign() <= 0 {
		return ErrOraclePriceInvalid
	}
	return nil
}

// UsdPrice returns the USD price of one whole unit of asset, at 18 digits.
func (a *Adapter) UsdPrice(asset common.Address) (*uint256.Int, error) {
	price, err := a.usdPrice(asset)
	a.observe(asset, err)
	return price, err
}

func (a *Adapter) usdPrice(asset common.Address) (*uint256.Int, error) {
	q, err := a.feed.LatestQuote(asset)
	if err != nil {
		return nil, fmt.Errorf("oracle: latest quote for %s: %w", asset.Hex(), err)
	}
	if err := ValidateQuote(q, a.now()); err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset.Hex(), err)
	}

	raw, overflow := uint256.FromBig(q.Price)
	if overflow {
		return nil, fmt.Errorf("asset %s: %w", asset.Hex(), ErrConversionOverflow)
	}
	price, err := exactMul(raw, fpmath.AdditionalFeedPrecision)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset.Hex(), err)
	}
	return price, nil
}

// QuoteUsd returns the USD value of amount units of asset.
func (a *Adapter) QuoteUsd(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	price, err := a.UsdPrice(asset)
	if err != nil {
		return nil, err
	}
	product, err := exactMul(price, amount)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset.Hex(), err)
	}
	return product.Div(product, fpmath.Precision), nil
}

// AssetForUsd returns how many units of asset are worth usd at the current price.
func (a *Adapter) AssetForUsd(asset common.Address, usd *uint256.Int) (*uint256.Int, error) {
	price, err := a.UsdPrice(asset)
	if err != nil {
		return nil, err
	}
	scaled, err := exactMul(usd, fpmath.Precision)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset.Hex(), err)
	}
	return scaled.Div(scaled, price), nil
}

// exactMul multiplies and confirms the product divides back to x.
func exactMul(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() || x.IsZero() {
		return new(uint256.Int), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrConversionOverflow
	}
	if !new(uint256.Int).Div(product, y).Eq(x) {
		return nil, ErrConversionOverflow
	}
	return product, nil
}

func (a *Adapter) observe(asset common.Address, err error) {
	if a.observer == nil {
		return
	}
	label, ok := a.labels[asset]
	if !ok {
		label = asset.Hex()
	}
	a.observer.ObserveOracleRead(label, err)
}
