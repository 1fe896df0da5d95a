package config

import (
	"errors"
	"fmt"
	"os"

	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/state"
	"SynthLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

/*
Registry YAML example:

engine: "0x00000000000000000000000000000000000e0001"
unit:
  symbol: sUSD
  address: "0x00000000000000000000000000000000000d0001"
collateral:
  - symbol: WETH
    address: "0x00000000000000000000000000000000000000e1"
    feed: ETH-USD
    genesis:
      "0x000000000000000000000000000000000000a11c": "100"
*/

var ErrRegistryInvalid = errors.New("config: invalid registry")

type Registry struct {
	Engine     string            `yaml:"engine"`
	Unit       UnitEntry         `yaml:"unit"`
	Collateral []CollateralEntry `yaml:"collateral"`
}

type UnitEntry struct {
	Symbol  string `yaml:"symbol"`
	Address string `yaml:"address"`
}

type CollateralEntry struct {
	Symbol  string `yaml:"symbol"`
	Address string `yaml:"address"`
	Feed    string `yaml:"feed"`
	// Genesis wallet balances, whole-unit decimals
	Genesis map[string]string `yaml:"genesis"`
}

func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate rejects an empty set, malformed or zero addresses, duplicate
// assets and unparseable genesis amounts.
func (r *Registry) Validate() error {
	if len(r.Collateral) == 0 {
		return fmt.Errorf("%w: no collateral assets", ErrRegistryInvalid)
	}
	if err := checkAddress("engine", r.Engine); err != nil {
		return err
	}
	if err := checkAddress("unit", r.Unit.Address); err != nil {
		return err
	}
	if r.Unit.Symbol == "" {
		return fmt.Errorf("%w: unit symbol is empty", ErrRegistryInvalid)
	}

	seen := map[common.Address]string{
		common.HexToAddress(r.Engine):       "engine",
		common.HexToAddress(r.Unit.Address): "unit",
	}
	for _, c := range r.Collateral {
		if err := checkAddress(c.Symbol, c.Address); err != nil {
			return err
		}
		addr := common.HexToAddress(c.Address)
		if prev, dup := seen[addr]; dup {
			return fmt.Errorf("%w: %s reuses the address of %s", ErrRegistryInvalid, c.Symbol, prev)
		}
		seen[addr] = c.Symbol
		if err := state.ValidateCollateralAsset(state.CollateralAsset{Address: addr, Symbol: c.Symbol, FeedID: c.Feed}); err != nil {
			return fmt.Errorf("%w: %v", ErrRegistryInvalid, err)
		}
		for holder, amount := range c.Genesis {
			if err := checkAddress(c.Symbol+" genesis holder", holder); err != nil {
				return err
			}
			if _, err := fpmath.ParseAmount(amount); err != nil {
				return fmt.Errorf("%w: %s genesis for %s: %v", ErrRegistryInvalid, c.Symbol, holder, err)
			}
		}
	}
	return nil
}

func checkAddress(what, s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: %s address %q is not hex", ErrRegistryInvalid, what, s)
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return fmt.Errorf("%w: %s address is zero", ErrRegistryInvalid, what)
	}
	return nil
}

func (r *Registry) EngineAddress() common.Address { return common.HexToAddress(r.Engine) }

func (r *Registry) UnitAddress() common.Address { return common.HexToAddress(r.Unit.Address) }

// CollateralRegistry builds the engine's ordered asset set.
func (r *Registry) CollateralRegistry() (*state.CollateralRegistry, error) {
	assets := make([]state.CollateralAsset, 0, len(r.Collateral))
	for _, c := range r.Collateral {
		assets = append(assets, state.CollateralAsset{
			Address: common.HexToAddress(c.Address),
			Symbol:  c.Symbol,
			FeedID:  c.Feed,
		})
	}
	return state.NewCollateralRegistry(assets)
}

// Bank builds the token world with each asset's genesis allocation.
func (r *Registry) Bank() (*token.Bank, error) {
	assets := make([]token.Asset, 0, len(r.Collateral))
	for _, c := range r.Collateral {
		genesis := make(map[common.Address]*uint256.Int, len(c.Genesis))
		for holder, amount := range c.Genesis {
			amt, err := fpmath.ParseAmount(amount)
			if err != nil {
				return nil, fmt.Errorf("%s genesis: %w", c.Symbol, err)
			}
			genesis[common.HexToAddress(holder)] = amt
		}
		assets = append(assets, token.Asset{
			Address: common.HexToAddress(c.Address),
			Symbol:  c.Symbol,
			Genesis: genesis,
		})
	}
	return token.NewBank(r.EngineAddress(), assets, r.UnitAddress(), r.Unit.Symbol)
}
