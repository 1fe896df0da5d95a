package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAsset binds an accepted collateral token to its price feed
type CollateralAsset struct {
	Address common.Address
	Symbol  string // e.g. "WETH"
	FeedID  string // symbol the feed publishes under, e.g. "ETH-USD"
}

// CollateralRegistry is the fixed, ordered set of accepted collateral.
// Built once at construction; there is no add or remove.
type CollateralRegistry struct {
	assets []CollateralAsset
	index  map[common.Address]int
	feeds  map[string]int
}

var ErrEmptyRegistry = errors.New("registry: no collateral assets")

// ValidateCollateralAsset checks that a single entry is usable.
func ValidateCollateralAsset(a CollateralAsset) error {
	if a.Address == (common.Address{}) {
		return fmt.Errorf("asset %q has zero address", a.Symbol)
	}
	if a.Symbol == "" {
		return fmt.Errorf("asset %s has empty symbol", a.Address.Hex())
	}
	if a.FeedID == "" {
		return fmt.Errorf("asset %s has no feed binding", a.Symbol)
	}
	return nil
}

func NewCollateralRegistry(assets []CollateralAsset) (*CollateralRegistry, error) {
	if len(assets) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &CollateralRegistry{
		assets: make([]CollateralAsset, 0, len(assets)),
		index:  make(map[common.Address]int, len(assets)),
		feeds:  make(map[string]int, len(assets)),
	}
	for _, a := range assets {
		if err := ValidateCollateralAsset(a); err != nil {
			return nil, err
		}
		if _, dup := r.index[a.Address]; dup {
			return nil, fmt.Errorf("duplicate collateral asset %s", a.Address.Hex())
		}
		if _, dup := r.feeds[a.FeedID]; dup {
			return nil, fmt.Errorf("feed %q bound to more than one asset", a.FeedID)
		}
		r.index[a.Address] = len(r.assets)
		r.feeds[a.FeedID] = len(r.assets)
		r.assets = append(r.assets, a)
	}
	return r, nil
}

// IsAllowed reports whether asset is accepted as collateral
func (r *CollateralRegistry) IsAllowed(asset common.Address) bool {
	_, ok := r.index[asset]
	return ok
}

func (r *CollateralRegistry) Get(asset common.Address) (CollateralAsset, bool) {
	i, ok := r.index[asset]
	if !ok {
		return CollateralAsset{}, false
	}
	return r.assets[i], true
}

// ByFeed resolves the asset a price feed symbol is bound to.
func (r *CollateralRegistry) ByFeed(feedID string) (CollateralAsset, bool) {
	i, ok := r.feeds[feedID]
	if !ok {
		return CollateralAsset{}, false
	}
	return r.assets[i], true
}

// Assets returns the registered assets in registration order.
func (r *CollateralRegistry) Assets() []CollateralAsset {
	out := make([]CollateralAsset, len(r.assets))
	copy(out, r.assets)
	return out
}

// Labels maps asset address to symbol, for metrics and logs.
func (r *CollateralRegistry) Labels() map[common.Address]string {
	out := make(map[common.Address]string, len(r.assets))
	for _, a := range r.assets {
		out[a.Address] = a.Symbol
	}
	return out
}
