package query

import "time"

// LiquidationHistoryEntry is one settled liquidation.
type LiquidationHistoryEntry struct {
	Sequence        int64     `json:"sequence"`
	User            string    `json:"user"`
	Liquidator      string    `json:"liquidator"`
	Asset           string    `json:"asset"`
	DebtCovered     string    `json:"debt_covered"`
	CollateralMoved string    `json:"collateral_moved"`
	Payout          string    `json:"payout"`
	Bonus           string    `json:"bonus"`
	SurplusCredit   string    `json:"surplus_credit"`
	SurplusDraw     string    `json:"surplus_draw"`
	Branch          string    `json:"branch"`
	HealthBefore    string    `json:"health_before"`
	HealthAfter     string    `json:"health_after"`
	Timestamp       time.Time `json:"timestamp"`
}

// LiquidationHistoryResponse pages liquidations where the address was
// either side.
type LiquidationHistoryResponse struct {
	Entries      []LiquidationHistoryEntry `json:"entries"`
	AsOfSequence int64                     `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal row touching a user's accounts.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool     `json:"is_healthy"`
	HashChainBreaks  []int64  `json:"hash_chain_breaks,omitempty"`
	NegativeAccounts []string `json:"negative_accounts,omitempty"`
	CheckedThrough   int64    `json:"checked_through"`
}
