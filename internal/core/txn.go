package core

import (
	"fmt"

	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
)

// interaction is one external token call queued by an operation. undo is
// the compensating call, run only if a later interaction fails.
type interaction struct {
	name string
	do   func() error
	undo func() error
}

// txn scopes one command. Ledger effects are applied as they are staged so
// later checks observe them; external interactions run only at commit, after
// every check has passed. Any failure unwinds everything.
type txn struct {
	e        *Engine
	eventRef string
	sequence int64
	ts       int64

	applied      []*ledger.Batch
	interactions []interaction
	records      []event.Record
}

func (e *Engine) begin(eventRef string) *txn {
	return &txn{
		e:        e,
		eventRef: eventRef,
		sequence: e.sequence,
		ts:       e.clock().UnixMicro(),
	}
}

// apply stages ledger legs. The legs land atomically or not at all.
func (tx *txn) apply(legs ...ledger.Leg) error {
	gen := tx.e.journalGen
	sub := gen.Append(gen.NewBatch(tx.eventRef, tx.sequence, tx.ts), legs...)
	if len(sub.Journals) == 0 {
		return nil
	}
	if err := tx.e.balances.ApplyBatch(sub); err != nil {
		return err
	}
	tx.applied = append(tx.applied, sub)
	return nil
}

// interact queues an external call for commit.
func (tx *txn) interact(name string, do, undo func() error) {
	tx.interactions = append(tx.interactions, interaction{name: name, do: do, undo: undo})
}

func (tx *txn) emit(r event.Record) {
	tx.records = append(tx.records, r)
}

// rollback reverts staged ledger effects, newest first.
func (tx *txn) rollback() {
	for i := len(tx.applied) - 1; i >= 0; i-- {
		if err := tx.e.balances.RevertBatch(tx.applied[i]); err != nil {
			panic(fmt.Sprintf("FATAL: cannot revert staged batch %s: %v", tx.applied[i].BatchID, err))
		}
	}
	tx.applied = nil
}

// commit runs the queued interactions in order. If one fails, those that
// already ran are compensated in reverse and the ledger is rolled back.
// On success it returns the merged journal batch for the command.
func (tx *txn) commit() (*ledger.Batch, error) {
	for i, it := range tx.interactions {
		if err := it.do(); err != nil {
			for k := i - 1; k >= 0; k-- {
				done := tx.interactions[k]
				if done.undo == nil {
					continue
				}
				if uerr := done.undo(); uerr != nil {
					panic(fmt.Sprintf("FATAL: compensation for %q failed after %q failed: %v (original: %v)",
						done.name, it.name, uerr, err))
				}
			}
			tx.rollback()
			return nil, err
		}
	}

	batch := tx.e.journalGen.NewBatch(tx.eventRef, tx.sequence, tx.ts)
	for _, sub := range tx.applied {
		batch.Merge(sub)
	}
	return batch, nil
}
