package event

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Record is an outward-facing fact emitted by a successful command.
// Records are published for off-process observers and stored as the
// envelope payload.
type Record interface {
	RecordName() string
}

type CollateralDeposited struct {
	User   common.Address `json:"user"`
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (CollateralDeposited) RecordName() string { return "collateral_deposited" }

// CollateralRedeemed: From is the position debited, To received the tokens.
type CollateralRedeemed struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (CollateralRedeemed) RecordName() string { return "collateral_redeemed" }

type UnitMinted struct {
	User   common.Address `json:"user"`
	Amount *uint256.Int   `json:"amount"`
}

func (UnitMinted) RecordName() string { return "unit_minted" }

// UnitBurned: OnBehalfOf had debt reduced, Payer supplied the tokens.
type UnitBurned struct {
	OnBehalfOf common.Address `json:"on_behalf_of"`
	Payer      common.Address `json:"payer"`
	Amount     *uint256.Int   `json:"amount"`
}

func (UnitBurned) RecordName() string { return "unit_burned" }

// Liquidated is the settlement record for one liquidation
type Liquidated struct {
	User            common.Address `json:"user"`
	Liquidator      common.Address `json:"liquidator"`
	Asset           common.Address `json:"asset"`
	DebtCovered     *uint256.Int   `json:"debt_covered"`
	CollateralMoved *uint256.Int   `json:"collateral_moved"`
	Payout          *uint256.Int   `json:"payout"`
	Bonus           *uint256.Int   `json:"bonus"`
	SurplusCredit   *uint256.Int   `json:"surplus_credit"`
	SurplusDraw     *uint256.Int   `json:"surplus_draw"`
	Branch          string         `json:"branch"`
	HealthBefore    *uint256.Int   `json:"health_before"`
	HealthAfter     *uint256.Int   `json:"health_after"`
}

func (Liquidated) RecordName() string { return "liquidated" }

type SurplusDeposited struct {
	Depositor common.Address `json:"depositor"`
	Asset     common.Address `json:"asset"`
	Amount    *uint256.Int   `json:"amount"`
}

func (SurplusDeposited) RecordName() string { return "surplus_deposited" }

// taggedRecord is the wire form of one record inside an envelope payload.
type taggedRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeRecords serializes records as a JSON array of {type, data} objects.
func EncodeRecords(records []Record) ([]byte, error) {
	out := make([]taggedRecord, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.RecordName(), err)
		}
		out = append(out, taggedRecord{Type: r.RecordName(), Data: data})
	}
	return json.Marshal(out)
}

// DecodeRecords is the inverse of EncodeRecords.
func DecodeRecords(payload []byte) ([]Record, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var tagged []taggedRecord
	if err := json.Unmarshal(payload, &tagged); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	records := make([]Record, 0, len(tagged))
	for _, t := range tagged {
		r, err := decodeRecord(t)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func decodeRecord(t taggedRecord) (Record, error) {
	switch t.Type {
	case "collateral_deposited":
		return decodeAs[CollateralDeposited](t)
	case "collateral_redeemed":
		return decodeAs[CollateralRedeemed](t)
	case "unit_minted":
		return decodeAs[UnitMinted](t)
	case "unit_burned":
		return decodeAs[UnitBurned](t)
	case "liquidated":
		return decodeAs[Liquidated](t)
	case "surplus_deposited":
		return decodeAs[SurplusDeposited](t)
	default:
		return nil, fmt.Errorf("decode records: unknown record type %q", t.Type)
	}
}

func decodeAs[T Record](t taggedRecord) (Record, error) {
	var r T
	if err := json.Unmarshal(t.Data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.Type, err)
	}
	return r, nil
}
