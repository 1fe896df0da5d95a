package core

import (
	"fmt"
	"sort"
	"time"

	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Token is a fungible token the engine holds custody of or moves.
type Token interface {
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// UnitIssuer is the supply capability over the issued unit. Burn draws
// from the engine's own unit balance.
type UnitIssuer interface {
	Mint(to common.Address, amount *uint256.Int) error
	Burn(amount *uint256.Int) error
}

// CoreOutput is everything one applied command produced.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Records  []event.Record
}

type EngineConfig struct {
	// Address is the engine's own custody address on every token.
	Address     common.Address
	Registry    *state.CollateralRegistry
	Collateral  map[common.Address]Token
	Unit        Token
	UnitAddress common.Address
	Issuer      UnitIssuer
	Feed        oracle.Feed

	// Clock drives oracle staleness and envelope timestamps. Defaults to time.Now.
	Clock func() time.Time

	StartSequence int64
	LRUCapacity   int
	DBChecker     DBIdempotencyChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

// Engine owns the collateral, debt and surplus ledgers and applies
// commands to them one at a time.
type Engine struct {
	self       common.Address
	unitAddr   common.Address
	registry   *state.CollateralRegistry
	collateral map[common.Address]Token
	unit       Token
	issuer     UnitIssuer

	prices  *oracle.Adapter
	health  *state.HealthCalculator
	surplus *state.SurplusBuffer

	balances    *ledger.BalanceTracker
	journalGen  *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	sequence int64
	clock    func() time.Time
	entered  bool

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, state.ErrEmptyRegistry
	}
	if cfg.Unit == nil || cfg.Issuer == nil {
		return nil, fmt.Errorf("synth engine: unit token and issuer are required")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("synth engine: price feed is required")
	}
	for _, a := range cfg.Registry.Assets() {
		if cfg.Collateral[a.Address] == nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrMissingCollateral, a.Symbol, a.Address.Hex())
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	seq := cfg.StartSequence
	if seq <= 0 {
		seq = 1
	}

	balances := ledger.NewBalanceTracker()
	prices := oracle.NewAdapter(cfg.Feed, clock)
	if cfg.Metrics != nil {
		prices.WithObserver(cfg.Metrics, cfg.Registry.Labels())
	}

	return &Engine{
		self:           cfg.Address,
		unitAddr:       cfg.UnitAddress,
		registry:       cfg.Registry,
		collateral:     cfg.Collateral,
		unit:           cfg.Unit,
		issuer:         cfg.Issuer,
		prices:         prices,
		health:         state.NewHealthCalculator(cfg.Registry, cfg.UnitAddress, balances, prices),
		surplus:        state.NewSurplusBuffer(balances),
		balances:       balances,
		journalGen:     ledger.NewJournalGenerator(cfg.UnitAddress),
		validator:      ledger.NewInvariantValidator(balances),
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker, cfg.Metrics),
		sequence:       seq,
		clock:          clock,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}, nil
}

// Execute applies one command. A duplicate returns (nil, nil). On error
// nothing the command did survives.
//
// Not safe for concurrent use; the Sequencer is the only caller in a
// running service.
func (e *Engine) Execute(cmd event.Event) (*CoreOutput, error) {
	if e.entered {
		return nil, ErrReentrantCall
	}
	e.entered = true
	defer func() { e.entered = false }()

	start := time.Now()
	eventType := cmd.EventType().String()
	key := cmd.IdempotencyKey()

	dup, err := e.idempotency.IsDuplicate(eventType, key)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CommandsRejected.WithLabelValues(eventType, RejectReason(err)).Inc()
		}
		e.logger.Warn().Err(err).Str("command", eventType).Str("request_id", key).Msg("dedup lookup failed, command not applied")
		return nil, err
	}
	if dup {
		if e.metrics != nil {
			e.metrics.CommandsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	tx := e.begin(key)
	batch, err := e.run(tx, cmd)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CommandsRejected.WithLabelValues(eventType, RejectReason(err)).Inc()
		}
		e.logger.Debug().
			Str("command", eventType).
			Str("request_id", key).
			Err(err).
			Msg("command rejected")
		return nil, err
	}

	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch for %s: %v", key, err))
	}

	hashStart := time.Now()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, e.computeStateDigest(batch))
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.EncodeRecords(tx.records)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode records for %s: %v", key, err))
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: key,
			EventType:      cmd.EventType(),
			Caller:         cmd.Origin(),
			Timestamp:      time.UnixMicro(batch.Timestamp).UTC(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:   batch,
		Records: tx.records,
	}

	e.postCheckCustody(batch)
	e.emit(output)

	e.idempotency.MarkProcessed(eventType, key)
	e.sequence++

	if e.metrics != nil {
		e.metrics.CommandsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		for _, j := range batch.Journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	e.observeRecords(tx.records)
	return &output, nil
}

// run dispatches cmd inside tx and commits it.
func (e *Engine) run(tx *txn, cmd event.Event) (*ledger.Batch, error) {
	if err := e.dispatch(tx, cmd); err != nil {
		tx.rollback()
		return nil, err
	}
	return tx.commit()
}

func (e *Engine) dispatch(tx *txn, cmd event.Event) error {
	switch c := cmd.(type) {
	case *event.DepositCollateral:
		return e.deposit(tx, c.Caller, c.Asset, c.Amount)
	case *event.MintUnit:
		return e.mint(tx, c.Caller, c.Amount)
	case *event.DepositAndMint:
		if err := e.deposit(tx, c.Caller, c.Asset, c.Amount); err != nil {
			return err
		}
		return e.mint(tx, c.Caller, c.MintAmount)
	case *event.RedeemCollateral:
		return e.redeem(tx, c.Caller, c.Caller, c.Asset, c.Amount)
	case *event.BurnUnit:
		return e.burn(tx, c.Caller, c.Caller, c.Amount)
	case *event.RedeemAndBurn:
		if err := e.burn(tx, c.Caller, c.Caller, c.BurnAmount); err != nil {
			return err
		}
		return e.redeem(tx, c.Caller, c.Caller, c.Asset, c.Amount)
	case *event.Liquidate:
		return e.liquidate(tx, c.Caller, c.Asset, c.User, c.DebtToCover)
	case *event.DepositSurplus:
		return e.depositSurplus(tx, c.Caller, c.Asset, c.Amount)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

// emit hands output to persistence and projections. Persistence is a
// blocking send; projections drop when full and catch up by rebuild.
func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		e.persistChan <- output
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

// postCheckCustody verifies custody still covers the ledger for every
// collateral asset the batch touched.
func (e *Engine) postCheckCustody(batch *ledger.Batch) {
	seen := make(map[common.Address]bool)
	for _, j := range batch.Journals {
		tok, ok := e.collateral[j.Asset]
		if !ok || seen[j.Asset] {
			continue
		}
		seen[j.Asset] = true
		if err := e.validator.ValidateCustody(j.Asset, tok.BalanceOf(e.self)); err != nil {
			panic(fmt.Sprintf("FATAL: custody invariant violated at seq %d: %v", e.sequence, err))
		}
	}
}

func (e *Engine) observeRecords(records []event.Record) {
	labels := e.registry.Labels()
	for _, r := range records {
		switch rec := r.(type) {
		case event.Liquidated:
			e.logger.Info().
				Str("user", rec.User.Hex()).
				Str("liquidator", rec.Liquidator.Hex()).
				Str("asset", labels[rec.Asset]).
				Str("debt_covered", fpmath.FormatAmount(rec.DebtCovered)).
				Str("payout", fpmath.FormatAmount(rec.Payout)).
				Str("branch", rec.Branch).
				Msg("liquidation settled")
			if e.metrics == nil {
				continue
			}
			asset := labels[rec.Asset]
			e.metrics.Liquidations.WithLabelValues(asset, rec.Branch).Inc()
			e.metrics.LiquidationPayout.WithLabelValues(asset).Add(fpmath.ToDecimal(rec.Payout).InexactFloat64())
			if !rec.SurplusDraw.IsZero() {
				e.metrics.SurplusDraws.WithLabelValues(asset).Inc()
			}
			e.metrics.SurplusBufferLevel.WithLabelValues(asset).Set(fpmath.ToDecimal(e.surplus.Level(rec.Asset)).InexactFloat64())
		case event.SurplusDeposited:
			if e.metrics == nil {
				continue
			}
			asset := labels[rec.Asset]
			e.metrics.SurplusBufferLevel.WithLabelValues(asset).Set(fpmath.ToDecimal(e.surplus.Level(rec.Asset)).InexactFloat64())
		}
	}
}

// computeStateDigest creates canonical bytes for the state hash: each
// touched account, sorted by path, followed by its 32-byte big-endian balance.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		bal := e.balances.GetBalance(key).Bytes32()
		digest = append(digest, bal[:]...)
	}
	return digest
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the in-memory state needed to resume.
type SnapshotState struct {
	Sequence        int64 // last applied
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*uint256.Int
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.balances.Snapshot(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot replaces in-memory state with snap. Call before the
// sequencer starts.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	for key, balance := range snap.Balances {
		e.balances.SetBalance(key, balance.Clone())
	}
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// ReplayBatch re-applies a persisted journal batch at seq and advances the
// hash chain, returning the recomputed state hash so the caller can compare
// it with the logged one. No external interaction runs.
func (e *Engine) ReplayBatch(seq int64, batch *ledger.Batch) ([32]byte, error) {
	if batch != nil && len(batch.Journals) > 0 {
		if err := e.balances.ApplyBatch(batch); err != nil {
			return [32]byte{}, fmt.Errorf("replay seq %d: %w", seq, err)
		}
	}
	hash := e.hasher.ComputeHash(seq, e.computeStateDigest(batch))
	e.sequence = seq + 1
	return hash, nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence to be assigned.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}
