package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrZeroAddress       = errors.New("token: zero address")
	ErrSupplyOverflow    = errors.New("token: total supply overflow")
)

// Ledger is an in-memory fungible token: balances plus total supply.
// It stands in for the on-chain tokens the engine custodies and issues.
type Ledger struct {
	mu       sync.RWMutex
	symbol   string
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

// NewCollateral creates a collateral token with a fixed genesis allocation.
func NewCollateral(symbol string, genesis map[common.Address]*uint256.Int) (*Ledger, error) {
	l := newLedger(symbol)
	for addr, amount := range genesis {
		if err := l.credit(addr, amount); err != nil {
			return nil, fmt.Errorf("genesis %s: %w", addr.Hex(), err)
		}
	}
	return l, nil
}

// NewUnit creates the issued unit token. The returned capability is the only
// way to change its supply.
func NewUnit(symbol string, owner common.Address) (*Ledger, *MintCapability) {
	l := newLedger(symbol)
	return l, &MintCapability{ledger: l, owner: owner}
}

func newLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:   symbol,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.balanceLocked(from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, from.Hex(), have.Dec(), l.symbol, amount.Dec())
	}
	l.balances[from] = have.Sub(have, amount)
	recv := l.balanceLocked(to)
	l.balances[to] = recv.Add(recv, amount)
	return nil
}

func (l *Ledger) balanceLocked(addr common.Address) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) credit(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.supply = supply
	b := l.balanceLocked(to)
	l.balances[to] = b.Add(b, amount)
	return nil
}

func (l *Ledger) debit(from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	have := l.balanceLocked(from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, burn %s", ErrInsufficientFunds, from.Hex(), have.Dec(), l.symbol, amount.Dec())
	}
	l.balances[from] = have.Sub(have, amount)
	l.supply = new(uint256.Int).Sub(l.supply, amount)
	return nil
}

// MintCapability is the handle allowed to mint and burn the unit. Burn
// always draws from the owner's own balance.
type MintCapability struct {
	ledger *Ledger
	owner  common.Address
}

func (c *MintCapability) Owner() common.Address { return c.owner }

func (c *MintCapability) Mint(to common.Address, amount *uint256.Int) error {
	return c.ledger.credit(to, amount)
}

func (c *MintCapability) Burn(amount *uint256.Int) error {
	return c.ledger.debit(c.owner, amount)
}

// Holdings returns a copy of every non-zero balance.
func (l *Ledger) Holdings() map[common.Address]*uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]*uint256.Int, len(l.balances))
	for addr, b := range l.balances {
		if !b.IsZero() {
			out[addr] = b.Clone()
		}
	}
	return out
}

// restore replaces all balances in place and recomputes the supply.
func (l *Ledger) restore(holdings map[common.Address]*uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	supply := new(uint256.Int)
	balances := make(map[common.Address]*uint256.Int, len(holdings))
	for addr, b := range holdings {
		var overflow bool
		if supply, overflow = new(uint256.Int).AddOverflow(supply, b); overflow {
			return ErrSupplyOverflow
		}
		balances[addr] = b.Clone()
	}
	l.balances = balances
	l.supply = supply
	return nil
}
