package server

import (
	"encoding/json"

	"SynthLedger/internal/ingestion"
)

// CommandRequest is the body of every mutating call. An empty request_id
// is filled in by the server, which makes the call non-idempotent.
type CommandRequest = ingestion.CommandJSON

// CommandResponse reports how a command was settled. Applied is false
// when the request id had already been processed.
type CommandResponse struct {
	RequestID string          `json:"request_id"`
	Applied   bool            `json:"applied"`
	Sequence  int64           `json:"sequence,omitempty"`
	StateHash string          `json:"state_hash,omitempty"`
	Records   json.RawMessage `json:"records,omitempty"`
}

type AccountRequest struct {
	User string `json:"user"`
}

type CollateralHolding struct {
	Asset  string `json:"asset"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// AccountResponse is the live engine view of a position. Amounts are
// 18-decimal integers in base units.
type AccountResponse struct {
	User               string              `json:"user"`
	Debt               string              `json:"debt"`
	CollateralValueUsd string              `json:"collateral_value_usd"`
	HealthFactor       string              `json:"health_factor"`
	Collateral         []CollateralHolding `json:"collateral"`
	Sequence           int64               `json:"sequence"`
}

type HealthResponse struct {
	User         string `json:"user"`
	HealthFactor string `json:"health_factor"`
	Sequence     int64  `json:"sequence"`
}

type CollateralValueResponse struct {
	User     string `json:"user"`
	ValueUsd string `json:"value_usd"`
	Sequence int64  `json:"sequence"`
}

type CollateralBalanceRequest struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

type CollateralBalanceResponse struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type SurplusRequest struct {
	Asset string `json:"asset"`
}

type SurplusResponse struct {
	Asset    string `json:"asset"`
	Balance  string `json:"balance"`
	Sequence int64  `json:"sequence"`
}

type AssetsRequest struct{}

type AssetInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Feed    string `json:"feed"`
	Custody string `json:"custody"`
	Surplus string `json:"surplus"`
}

type AssetsResponse struct {
	Unit   string      `json:"unit"`
	Assets []AssetInfo `json:"assets"`
}

// UsdValueRequest takes a whole-unit decimal amount, e.g. "1.5".
type UsdValueRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type UsdValueResponse struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Usd    string `json:"usd"`
}

// AssetAmountRequest takes a whole-dollar decimal, e.g. "2500".
type AssetAmountRequest struct {
	Asset string `json:"asset"`
	Usd   string `json:"usd"`
}

type AssetAmountResponse struct {
	Asset  string `json:"asset"`
	Usd    string `json:"usd"`
	Amount string `json:"amount"`
}

type HistoryRequest struct {
	User           string `json:"user"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

// QuoteRequest is an admin-supplied feed observation.
type QuoteRequest = ingestion.QuoteJSON

type QuoteResponse struct {
	Feed     string `json:"feed"`
	Accepted bool   `json:"accepted"`
}

type AdminRequest struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildResponse struct {
	Watermark int64 `json:"watermark"`
}
