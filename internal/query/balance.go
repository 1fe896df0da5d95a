package query

// BalanceEntry is one projected ledger account. Amounts are base-10
// strings in 18-digit fixed point.
type BalanceEntry struct {
	AccountPath  string `json:"account_path"`
	SubType      string `json:"sub_type"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}

// AccountBalancesResponse is every projected account of one user plus the
// position summary.
type AccountBalancesResponse struct {
	User            string         `json:"user"`
	Collateral      []BalanceEntry `json:"collateral"`
	Debt            string         `json:"debt"`
	CollateralKinds int            `json:"collateral_kinds"`
	AsOfSequence    int64          `json:"as_of_sequence"`
}

// SurplusResponse is the projected surplus buffer for one asset.
type SurplusResponse struct {
	Asset        string `json:"asset"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}
