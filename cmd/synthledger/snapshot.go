package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/token"

	"github.com/rs/zerolog"
)

// snapshotter captures engine and token state together and stores it once
// the event log has caught up to the captured sequence.
type snapshotter struct {
	sequencer *core.Sequencer
	engine    *core.Engine
	bank      *token.Bank
	store     *persistence.SnapshotManager
	persisted *persistence.PersistenceWorker
	logger    zerolog.Logger

	mu      sync.Mutex
	lastSeq int64
}

// Take snapshots the live engine between commands.
func (s *snapshotter) Take(ctx context.Context) (int64, error) {
	var data *persistence.SnapshotData
	err := s.sequencer.View(ctx, func(e *core.Engine) error {
		data = persistence.NewSnapshotData(e.CreateSnapshotState(), s.bank.Export(), time.Now().UTC())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.save(ctx, data)
}

// TakeFinal reads the engine directly. Only call it once the sequencer
// has stopped.
func (s *snapshotter) TakeFinal(ctx context.Context) (int64, error) {
	data := persistence.NewSnapshotData(s.engine.CreateSnapshotState(), s.bank.Export(), time.Now().UTC())
	return s.save(ctx, data)
}

func (s *snapshotter) save(ctx context.Context, data *persistence.SnapshotData) (int64, error) {
	if data.Sequence <= 0 {
		return 0, nil
	}
	// A snapshot ahead of the event log would skip commands that were
	// never persisted.
	if err := s.awaitPersisted(ctx, data.Sequence); err != nil {
		return 0, err
	}
	if err := s.store.SaveSnapshot(ctx, data); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.store.MarkVerified(ctx, data.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}
	s.mu.Lock()
	if data.Sequence > s.lastSeq {
		s.lastSeq = data.Sequence
	}
	s.mu.Unlock()
	return data.Sequence, nil
}

func (s *snapshotter) awaitPersisted(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for s.persisted.LastSequence() < seq {
		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot at %d: event log at %d: %w", seq, s.persisted.LastSequence(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// RunPeriodic snapshots every interval commands, checking on each tick.
func (s *snapshotter) RunPeriodic(ctx context.Context, interval int64, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			last := s.lastSeq
			s.mu.Unlock()
			if s.persisted.LastSequence()-last < interval {
				continue
			}
			seq, err := s.Take(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			s.logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}
