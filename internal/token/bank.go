package token

import (
	"fmt"
	"sort"

	"SynthLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset describes one collateral token the bank hosts.
type Asset struct {
	Address common.Address
	Symbol  string
	Genesis map[common.Address]*uint256.Int
}

// Bank hosts the in-process token world the engine talks to: one ledger per
// collateral asset plus the unit. Its balances are exported into snapshots
// and rebuilt on recovery by replaying records.
type Bank struct {
	engine     common.Address
	collateral map[common.Address]*Ledger
	unitAddr   common.Address
	unit       *Ledger
	issuer     *MintCapability
}

func NewBank(engine common.Address, assets []Asset, unitAddr common.Address, unitSymbol string) (*Bank, error) {
	b := &Bank{
		engine:     engine,
		collateral: make(map[common.Address]*Ledger, len(assets)),
		unitAddr:   unitAddr,
	}
	for _, a := range assets {
		l, err := NewCollateral(a.Symbol, a.Genesis)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", a.Symbol, err)
		}
		b.collateral[a.Address] = l
	}
	b.unit, b.issuer = NewUnit(unitSymbol, engine)
	return b, nil
}

func (b *Bank) Collateral(asset common.Address) (*Ledger, bool) {
	l, ok := b.collateral[asset]
	return l, ok
}

func (b *Bank) Unit() *Ledger { return b.unit }
func (b *Bank) Issuer() *MintCapability { return b.issuer }
func (b *Bank) UnitAddress() common.Address { return b.unitAddr }

// Holdings is the JSON form of every balance: token address, then holder,
// then a decimal amount in base units.
type Holdings map[string]map[string]string

// Export captures all balances, including the unit.
func (b *Bank) Export() Holdings {
	out := make(Holdings, len(b.collateral)+1)
	put := func(addr common.Address, l *Ledger) {
		m := make(map[string]string)
		for holder, amt := range l.Holdings() {
			m[holder.Hex()] = amt.Dec()
		}
		out[addr.Hex()] = m
	}
	for addr, l := range b.collateral {
		put(addr, l)
	}
	put(b.unitAddr, b.unit)
	return out
}

// Import replaces balances in place, so ledgers already handed to the
// engine see the restored state. Tokens absent from h are left untouched.
func (b *Bank) Import(h Holdings) error {
	for tokenHex, balances := range h {
		addr := common.HexToAddress(tokenHex)
		l, ok := b.collateral[addr]
		if addr == b.unitAddr {
			l, ok = b.unit, true
		}
		if !ok {
			return fmt.Errorf("import: unknown token %s", tokenHex)
		}
		parsed := make(map[common.Address]*uint256.Int, len(balances))
		for holder, dec := range balances {
			amt, err := uint256.FromDecimal(dec)
			if err != nil {
				return fmt.Errorf("import %s/%s: %w", tokenHex, holder, err)
			}
			parsed[common.HexToAddress(holder)] = amt
		}
		if err := l.restore(parsed); err != nil {
			return fmt.Errorf("import %s: %w", tokenHex, err)
		}
	}
	return nil
}

// Replay re-applies the token movements a committed command made. Journals
// restore the engine's books; Replay restores the wallets so custody
// matches them again.
func (b *Bank) Replay(records []event.Record) error {
	for _, r := range records {
		if err := b.replayOne(r); err != nil {
			return fmt.Errorf("replay %s: %w", r.RecordName(), err)
		}
	}
	return nil
}

func (b *Bank) replayOne(r event.Record) error {
	switch rec := r.(type) {
	case event.CollateralDeposited:
		return b.move(rec.Asset, rec.User, b.engine, rec.Amount)
	case event.CollateralRedeemed:
		return b.move(rec.Asset, b.engine, rec.To, rec.Amount)
	case event.SurplusDeposited:
		return b.move(rec.Asset, rec.Depositor, b.engine, rec.Amount)
	case event.UnitMinted:
		return b.issuer.Mint(rec.User, rec.Amount)
	case event.UnitBurned:
		if err := b.unit.Transfer(rec.Payer, b.engine, rec.Amount); err != nil {
			return err
		}
		return b.issuer.Burn(rec.Amount)
	case event.Liquidated:
		if rec.Payout == nil || rec.Payout.IsZero() {
			return nil
		}
		return b.move(rec.Asset, b.engine, rec.Liquidator, rec.Payout)
	default:
		return fmt.Errorf("unhandled record %T", r)
	}
}

func (b *Bank) move(asset, from, to common.Address, amount *uint256.Int) error {
	l, ok := b.collateral[asset]
	if !ok {
		return fmt.Errorf("unknown collateral %s", asset.Hex())
	}
	return l.Transfer(from, to, amount)
}

// Assets lists hosted collateral addresses in a stable order.
func (b *Bank) Assets() []common.Address {
	out := make([]common.Address, 0, len(b.collateral))
	for addr := range b.collateral {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
