package core

import (
	"SynthLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Typed entry points. Each wraps its arguments in a command with a fresh
// request id and runs it through Execute.

func (e *Engine) DepositCollateral(caller, asset common.Address, amount *uint256.Int) error {
	_, err := e.Execute(&event.DepositCollateral{RequestID: uuid.New(), Caller: caller, Asset: asset, Amount: amount})
	return err
}

func (e *Engine) MintUnit(caller common.Address, amount *uint256.Int) error {
	_, err := e.Execute(&event.MintUnit{RequestID: uuid.New(), Caller: caller, Amount: amount})
	return err
}

func (e *Engine) DepositAndMint(caller, asset common.Address, amount, mintAmount *uint256.Int) error {
	_, err := e.Execute(&event.DepositAndMint{
		RequestID:  uuid.New(),
		Caller:     caller,
		Asset:      asset,
		Amount:     amount,
		MintAmount: mintAmount,
	})
	return err
}

func (e *Engine) RedeemCollateral(caller, asset common.Address, amount *uint256.Int) error {
	_, err := e.Execute(&event.RedeemCollateral{RequestID: uuid.New(), Caller: caller, Asset: asset, Amount: amount})
	return err
}

func (e *Engine) BurnUnit(caller common.Address, amount *uint256.Int) error {
	_, err := e.Execute(&event.BurnUnit{RequestID: uuid.New(), Caller: caller, Amount: amount})
	return err
}

func (e *Engine) RedeemAndBurn(caller, asset common.Address, amount, burnAmount *uint256.Int) error {
	_, err := e.Execute(&event.RedeemAndBurn{
		RequestID:  uuid.New(),
		Caller:     caller,
		Asset:      asset,
		Amount:     amount,
		BurnAmount: burnAmount,
	})
	return err
}

func (e *Engine) Liquidate(caller, asset, user common.Address, debtToCover *uint256.Int) error {
	_, err := e.Execute(&event.Liquidate{
		RequestID:   uuid.New(),
		Caller:      caller,
		Asset:       asset,
		User:        user,
		DebtToCover: debtToCover,
	})
	return err
}

func (e *Engine) DepositSurplus(caller, asset common.Address, amount *uint256.Int) error {
	_, err := e.Execute(&event.DepositSurplus{RequestID: uuid.New(), Caller: caller, Asset: asset, Amount: amount})
	return err
}
