package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	ErrStateHashMismatch = errors.New("persistence: replayed state hash does not match the log")
	ErrSequenceGap       = errors.New("persistence: gap in event log sequence")
)

// ReplayEntry is one logged command, decoded for replay.
type ReplayEntry struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	StateHash      [32]byte
	Records        []event.Record
	Batch          *ledger.Batch
}

// ReplayEntryFromRows rebuilds a replay entry from its stored rows.
func ReplayEntryFromRows(ev EventRow, rows []JournalRow) (ReplayEntry, error) {
	entry := ReplayEntry{
		Sequence:       ev.Sequence,
		EventType:      ev.EventType,
		IdempotencyKey: ev.IdempotencyKey,
	}
	if len(ev.StateHash) != 32 {
		return entry, fmt.Errorf("seq %d: state hash has %d bytes", ev.Sequence, len(ev.StateHash))
	}
	copy(entry.StateHash[:], ev.StateHash)

	records, err := event.DecodeRecords(ev.Payload)
	if err != nil {
		return entry, fmt.Errorf("seq %d: %w", ev.Sequence, err)
	}
	entry.Records = records

	if len(rows) == 0 {
		return entry, nil
	}
	sorted := append([]JournalRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntryIndex < sorted[j].EntryIndex })

	batch := &ledger.Batch{
		EventRef:  sorted[0].EventRef,
		Sequence:  ev.Sequence,
		Timestamp: sorted[0].Timestamp,
		Journals:  make([]ledger.Journal, 0, len(sorted)),
	}
	for _, r := range sorted {
		j, err := journalFromRow(r)
		if err != nil {
			return entry, fmt.Errorf("seq %d: %w", ev.Sequence, err)
		}
		batch.BatchID = j.BatchID
		batch.Journals = append(batch.Journals, j)
	}
	entry.Batch = batch
	return entry, nil
}

func journalFromRow(r JournalRow) (ledger.Journal, error) {
	var j ledger.Journal
	var err error
	if j.JournalID, err = uuid.Parse(r.JournalID); err != nil {
		return j, fmt.Errorf("journal id: %w", err)
	}
	if j.BatchID, err = uuid.Parse(r.BatchID); err != nil {
		return j, fmt.Errorf("batch id: %w", err)
	}
	if j.DebitAccount, err = ledger.ParseAccountPath(r.DebitAccount); err != nil {
		return j, err
	}
	if j.CreditAccount, err = ledger.ParseAccountPath(r.CreditAccount); err != nil {
		return j, err
	}
	if !common.IsHexAddress(r.Asset) {
		return j, fmt.Errorf("journal %s: asset %q", r.JournalID, r.Asset)
	}
	if j.Amount, err = uint256.FromDecimal(r.Amount); err != nil {
		return j, fmt.Errorf("journal %s: amount: %w", r.JournalID, err)
	}
	j.Asset = common.HexToAddress(r.Asset)
	j.EventRef = r.EventRef
	j.Sequence = r.Sequence
	j.JournalType = ledger.JournalType(r.JournalType)
	j.Timestamp = r.Timestamp
	return j, nil
}

// LoadReplayFrom loads up to limit logged commands starting at
// fromSequence, with their journals, in sequence order.
func (sm *SnapshotManager) LoadReplayFrom(ctx context.Context, fromSequence int64, limit int) ([]ReplayEntry, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, caller, payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("load events from %d: %w", fromSequence, err)
	}
	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Caller,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp); err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	journals, err := sm.loadJournals(ctx, events[0].Sequence, events[len(events)-1].Sequence)
	if err != nil {
		return nil, err
	}

	out := make([]ReplayEntry, 0, len(events))
	for _, ev := range events {
		entry, err := ReplayEntryFromRows(ev, journals[ev.Sequence])
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (sm *SnapshotManager) loadJournals(ctx context.Context, from, to int64) (map[int64][]JournalRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, entry_index, event_ref, sequence, debit_account,
		       credit_account, asset, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence ASC, entry_index ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("load journals %d..%d: %w", from, to, err)
	}
	defer rows.Close()

	out := make(map[int64][]JournalRow)
	for rows.Next() {
		var j JournalRow
		if err := rows.Scan(&j.JournalID, &j.BatchID, &j.EntryIndex, &j.EventRef, &j.Sequence,
			&j.DebitAccount, &j.CreditAccount, &j.Asset, &j.Amount, &j.JournalType, &j.Timestamp); err != nil {
			return nil, err
		}
		out[j.Sequence] = append(out[j.Sequence], j)
	}
	return out, rows.Err()
}

// --- Recovery ---

// ReplaySource is the durable log recovery reads. *SnapshotManager
// satisfies it.
type ReplaySource interface {
	LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error)
	LoadReplayFrom(ctx context.Context, fromSequence int64, limit int) ([]ReplayEntry, error)
}

// Replayer is the engine side of recovery. *core.Engine satisfies it.
type Replayer interface {
	RestoreFromSnapshot(snap *core.SnapshotState)
	ReplayBatch(seq int64, batch *ledger.Batch) ([32]byte, error)
	WarmLRU(keys []string)
	GetSequence() int64
	GetStateHash() [32]byte
}

// TokenWorld is the token side of recovery. *token.Bank satisfies it.
type TokenWorld interface {
	Import(h token.Holdings) error
	Replay(records []event.Record) error
}

// RecoveryResult summarizes a recovery run.
type RecoveryResult struct {
	SnapshotSequence int64 // 0 when starting from genesis
	Replayed         int64
	NextSequence     int64
	StateHash        [32]byte
}

// Recover restores the newest verified snapshot, if any, then replays
// every later command. Each replayed batch must reproduce the logged state
// hash; any divergence stops recovery.
func Recover(
	ctx context.Context,
	src ReplaySource,
	engine Replayer,
	tokens TokenWorld,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (RecoveryResult, error) {
	start := time.Now()
	var res RecoveryResult

	snap, err := src.LoadLatestSnapshot(ctx)
	if err != nil {
		return res, err
	}
	if snap != nil {
		st, err := snap.EngineState()
		if err != nil {
			return res, err
		}
		engine.RestoreFromSnapshot(st)
		if err := tokens.Import(snap.Holdings); err != nil {
			return res, fmt.Errorf("restore holdings: %w", err)
		}
		res.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Int("idempotency_keys", len(snap.IdempotencyKeys)).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot found, replaying from genesis")
	}

	const pageSize = 1000
	from := res.SnapshotSequence + 1
	for {
		entries, err := src.LoadReplayFrom(ctx, from, pageSize)
		if err != nil {
			return res, err
		}
		if len(entries) == 0 {
			break
		}

		keys := make([]string, 0, len(entries))
		for _, e := range entries {
			if want := engine.GetSequence(); e.Sequence != want {
				return res, fmt.Errorf("%w: expected %d, found %d", ErrSequenceGap, want, e.Sequence)
			}
			hash, err := engine.ReplayBatch(e.Sequence, e.Batch)
			if err != nil {
				return res, err
			}
			if hash != e.StateHash {
				return res, fmt.Errorf("%w at seq %d: logged %x, computed %x", ErrStateHashMismatch, e.Sequence, e.StateHash, hash)
			}
			if err := tokens.Replay(e.Records); err != nil {
				return res, fmt.Errorf("seq %d: %w", e.Sequence, err)
			}
			keys = append(keys, e.EventType+":"+e.IdempotencyKey)
			res.Replayed++
		}
		engine.WarmLRU(keys)
		from = entries[len(entries)-1].Sequence + 1
	}

	res.NextSequence = engine.GetSequence()
	res.StateHash = engine.GetStateHash()
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(res.Replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("snapshot_sequence", res.SnapshotSequence).
		Int64("replayed", res.Replayed).
		Int64("next_sequence", res.NextSequence).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return res, nil
}
