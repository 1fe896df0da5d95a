package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/token"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// SnapshotManager saves and loads state snapshots for recovery.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// SnapshotData is the JSON body of a snapshot row. Balances are keyed by
// account path and hold base-10 amounts.
type SnapshotData struct {
	Sequence        int64             `json:"sequence"`
	StateHash       string            `json:"state_hash"`
	Balances        map[string]string `json:"balances"`
	IdempotencyKeys []string          `json:"idempotency_keys"`
	Holdings        token.Holdings    `json:"holdings"`
	CreatedAt       time.Time         `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) *SnapshotManager {
	return &SnapshotManager{db: db, metrics: metrics, logger: logger}
}

// NewSnapshotData converts engine state and token holdings captured at the
// same sequence into their stored form.
func NewSnapshotData(st *core.SnapshotState, holdings token.Holdings, at time.Time) *SnapshotData {
	balances := make(map[string]string, len(st.Balances))
	for key, bal := range st.Balances {
		if bal.IsZero() {
			continue
		}
		balances[key.AccountPath()] = bal.Dec()
	}
	return &SnapshotData{
		Sequence:        st.Sequence,
		StateHash:       hex.EncodeToString(st.StateHash[:]),
		Balances:        balances,
		IdempotencyKeys: st.IdempotencyKeys,
		Holdings:        holdings,
		CreatedAt:       at,
	}
}

// EngineState is the inverse of NewSnapshotData for the engine's part.
func (d *SnapshotData) EngineState() (*core.SnapshotState, error) {
	st := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]*uint256.Int, len(d.Balances)),
		IdempotencyKeys: d.IdempotencyKeys,
	}

	raw, err := hex.DecodeString(d.StateHash)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("snapshot %d: bad state hash %q", d.Sequence, d.StateHash)
	}
	copy(st.StateHash[:], raw)

	for path, s := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		bal, err := uint256.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: balance %s: %w", d.Sequence, path, err)
		}
		st.Balances[key] = bal
	}
	return st, nil
}

// SaveSnapshot stores snap unverified; MarkVerified promotes it.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	start := time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	stateHash, _ := hex.DecodeString(snap.StateHash)
	const formatVersion = 1

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, stateHash, formatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	sm.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", len(data)).Msg("snapshot saved")
	return nil
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot usable for recovery.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
