package ledger_test

import (
	"errors"
	"testing"

	"SynthLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	wbtc  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	unit  = common.HexToAddress("0x00000000000000000000000000000000000000d0")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeCollateral, weth)

	path := key.AccountPath()
	expected := "user:" + alice.Hex() + ":collateral:" + weth.Hex()
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeSystemSurplus, weth)

	path := key.AccountPath()
	if path != "system:surplus:"+weth.Hex() {
		t.Errorf("got %q", path)
	}
}

func TestAccountKey_ExternalUntracked(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalTransfers, weth)
	if key.Tracked() {
		t.Error("external accounts must not be tracked")
	}
	if key.AccountPath() != "external:transfers:"+weth.Hex() {
		t.Errorf("got %q", key.AccountPath())
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(alice, ledger.SubTypeDebt, unit),
		ledger.NewSystemAccountKey(ledger.SubTypeSystemSurplus, wbtc),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalIssuance, unit),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("parse %q: got %+v", k.AccountPath(), got)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, p := range []string{"", "user:0x1", "system:nope:" + weth.Hex(), "vault:surplus:" + weth.Hex()} {
		if _, err := ledger.ParseAccountPath(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if !bt.GetCollateral(alice, weth).IsZero() {
		t.Error("initial balance should be 0")
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(unit)

	batch := gen.Append(gen.NewBatch("req-1", 1, 0),
		gen.DepositLeg(alice, weth, u(500)),
		gen.MintLeg(alice, u(100)),
	)

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetCollateral(alice, weth).Uint64() != 500 {
		t.Errorf("collateral: got %s, want 500", bt.GetCollateral(alice, weth).Dec())
	}
	if bt.GetDebt(alice, unit).Uint64() != 100 {
		t.Errorf("debt: got %s, want 100", bt.GetDebt(alice, unit).Dec())
	}
}

func TestBalanceTracker_Underflow_RollsBackBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(unit)

	if err := bt.ApplyBatch(gen.Append(gen.NewBatch("dep", 1, 0), gen.DepositLeg(alice, weth, u(50)))); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// First leg succeeds, second overdraws; the first must be undone.
	batch := gen.Append(gen.NewBatch("bad", 2, 0),
		gen.DepositLeg(alice, wbtc, u(7)),
		gen.RedeemLeg(alice, weth, u(51)),
	)
	err := bt.ApplyBatch(batch)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !bt.GetCollateral(alice, wbtc).IsZero() {
		t.Errorf("partial batch leaked: wbtc=%s", bt.GetCollateral(alice, wbtc).Dec())
	}
	if bt.GetCollateral(alice, weth).Uint64() != 50 {
		t.Errorf("weth changed: %s", bt.GetCollateral(alice, weth).Dec())
	}
}

func TestBalanceTracker_RevertBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(unit)

	batch := gen.Append(gen.NewBatch("r", 1, 0),
		gen.DepositLeg(alice, weth, u(10)),
		gen.SurplusDepositLeg(weth, u(3)),
	)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}
	if err := bt.RevertBatch(batch); err != nil {
		t.Fatalf("RevertBatch: %v", err)
	}
	if len(bt.Snapshot()) != 0 {
		t.Errorf("expected empty tracker after revert, got %d accounts", len(bt.Snapshot()))
	}
}

func TestBalanceTracker_TotalRecorded(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(unit)

	batch := gen.Append(gen.NewBatch("t", 1, 0),
		gen.DepositLeg(alice, weth, u(10)),
		gen.DepositLeg(bob, weth, u(20)),
		gen.DepositLeg(bob, wbtc, u(99)),
		gen.SurplusDepositLeg(weth, u(5)),
		gen.MintLeg(alice, u(1000)),
	)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	if got := bt.TotalRecorded(weth).Uint64(); got != 35 {
		t.Errorf("TotalRecorded(weth) = %d, want 35", got)
	}
	if got := bt.TotalDebt(unit).Uint64(); got != 1000 {
		t.Errorf("TotalDebt = %d, want 1000", got)
	}
	if len(bt.Users()) != 2 {
		t.Errorf("Users() = %d, want 2", len(bt.Users()))
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeCollateral, weth)
	bt.SetBalance(key, u(42))

	snap := bt.Snapshot()
	snap[key].SetUint64(0)

	if bt.GetBalance(key).Uint64() != 42 {
		t.Error("snapshot must be a deep copy")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeCollateral, weth),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalTransfers, weth),
			Asset:         weth,
			Amount:        u(0),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeCollateral, weth)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			Asset:         weth,
			Amount:        u(1),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for self transfer")
	}
}

func TestBatchValidate_CrossAsset_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(alice, ledger.SubTypeCollateral, weth),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalTransfers, wbtc),
			Asset:         weth,
			Amount:        u(1),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for cross-asset journal")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	gen := ledger.NewJournalGenerator(unit)
	batch := gen.Append(gen.NewBatch("m", 1, 0), gen.DepositLeg(alice, weth, u(1)))
	batch.Journals[0].BatchID = uuid.New()
	if err := batch.Validate(); err == nil {
		t.Error("expected error for mismatched batch id")
	}
}

func TestGenerator_SkipsZeroLegs(t *testing.T) {
	gen := ledger.NewJournalGenerator(unit)
	batch := gen.Append(gen.NewBatch("z", 1, 0),
		gen.DepositLeg(alice, weth, u(0)),
		gen.DepositLeg(alice, weth, u(3)),
	)
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	if err := batch.Validate(); err != nil {
		t.Errorf("valid batch rejected: %v", err)
	}
}

func TestBatchMerge_RehomesJournals(t *testing.T) {
	gen := ledger.NewJournalGenerator(unit)
	a := gen.Append(gen.NewBatch("a", 1, 0), gen.DepositLeg(alice, weth, u(1)))
	b := gen.Append(gen.NewBatch("b", 2, 0), gen.MintLeg(alice, u(2)))
	a.Merge(b)

	if len(a.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(a.Journals))
	}
	if err := a.Validate(); err != nil {
		t.Errorf("merged batch invalid: %v", err)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_Custody(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(unit)
	if err := bt.ApplyBatch(gen.Append(gen.NewBatch("c", 1, 0),
		gen.DepositLeg(alice, weth, u(10)),
		gen.SurplusDepositLeg(weth, u(2)),
	)); err != nil {
		t.Fatal(err)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateCustody(weth, u(12)); err != nil {
		t.Errorf("exact custody rejected: %v", err)
	}
	if err := v.ValidateCustody(weth, u(11)); err == nil {
		t.Error("short custody accepted")
	}
	if err := v.ValidateNoOrphanDebt(unit); err != nil {
		t.Errorf("orphan debt: %v", err)
	}
}
