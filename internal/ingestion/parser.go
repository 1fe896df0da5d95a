package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"SynthLedger/internal/event"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var ErrMalformed = errors.New("ingestion: malformed message")

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// whole-unit decimal strings ("1.5") and addresses are 0x-prefixed hex.

// CommandJSON is the union of every command's fields. Each command reads
// the subset it needs.
type CommandJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Asset       string `json:"asset,omitempty"`
	User        string `json:"user,omitempty"`
	Amount      string `json:"amount,omitempty"`
	MintAmount  string `json:"mint_amount,omitempty"`
	BurnAmount  string `json:"burn_amount,omitempty"`
	DebtToCover string `json:"debt_to_cover,omitempty"`
}

// QuoteJSON is one feed observation.
type QuoteJSON struct {
	Feed      string    `json:"feed"`
	RoundID   uint64    `json:"round_id"`
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommandTypeFromSubject resolves "synth.commands.<type>" to an event type.
func CommandTypeFromSubject(subject string) (event.EventType, error) {
	if !strings.HasPrefix(subject, CommandSubjectPrefix) {
		return event.EventTypeUnknown, fmt.Errorf("%w: subject %q is not a command subject", ErrMalformed, subject)
	}
	return event.ParseEventType(strings.TrimPrefix(subject, CommandSubjectPrefix))
}

// ParseCommand decodes a command message published on subject.
func ParseCommand(subject string, data []byte) (event.Event, error) {
	et, err := CommandTypeFromSubject(subject)
	if err != nil {
		return nil, err
	}
	var j CommandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, et, err)
	}
	return BuildCommand(et, j)
}

// BuildCommand converts the wire form into a typed command. It is shared by
// the NATS path and the RPC surface.
func BuildCommand(et event.EventType, j CommandJSON) (event.Event, error) {
	p := fieldParser{}
	id := p.uuid("request_id", j.RequestID)
	caller := p.address("caller", j.Caller)

	var cmd event.Event
	switch et {
	case event.EventTypeDepositCollateral:
		cmd = &event.DepositCollateral{RequestID: id, Caller: caller,
			Asset: p.address("asset", j.Asset), Amount: p.amount("amount", j.Amount)}
	case event.EventTypeMintUnit:
		cmd = &event.MintUnit{RequestID: id, Caller: caller, Amount: p.amount("amount", j.Amount)}
	case event.EventTypeDepositAndMint:
		cmd = &event.DepositAndMint{RequestID: id, Caller: caller,
			Asset: p.address("asset", j.Asset), Amount: p.amount("amount", j.Amount),
			MintAmount: p.amount("mint_amount", j.MintAmount)}
	case event.EventTypeRedeemCollateral:
		cmd = &event.RedeemCollateral{RequestID: id, Caller: caller,
			Asset: p.address("asset", j.Asset), Amount: p.amount("amount", j.Amount)}
	case event.EventTypeBurnUnit:
		cmd = &event.BurnUnit{RequestID: id, Caller: caller, Amount: p.amount("amount", j.Amount)}
	case event.EventTypeRedeemAndBurn:
		cmd = &event.RedeemAndBurn{RequestID: id, Caller: caller,
			Asset: p.address("asset", j.Asset), Amount: p.amount("amount", j.Amount),
			BurnAmount: p.amount("burn_amount", j.BurnAmount)}
	case event.EventTypeLiquidate:
		cmd = &event.Liquidate{RequestID: id, Caller: caller,
			Asset: p.address("asset", j.Asset), User: p.address("user", j.User),
			DebtToCover: p.amount("debt_to_cover", j.DebtToCover)}
	case event.EventTypeDepositSurplus:
		cmd = &event.DepositSurplus{RequestID: id, Caller: caller,
			Asset: p.address("asset", j.Asset), Amount: p.amount("amount", j.Amount)}
	default:
		return nil, fmt.Errorf("%w: unknown command type %s", ErrMalformed, et)
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, et, p.err)
	}
	return cmd, nil
}

// ParseQuote decodes a price message into a quote update.
func ParseQuote(data []byte) (*event.QuoteUpdate, error) {
	var j QuoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: quote: %v", ErrMalformed, err)
	}
	if j.Feed == "" {
		return nil, fmt.Errorf("%w: quote without feed", ErrMalformed)
	}
	if j.UpdatedAt.IsZero() {
		return nil, fmt.Errorf("%w: quote %s without updated_at", ErrMalformed, j.Feed)
	}
	if _, err := fpmath.ParseFeedPrice(j.Price); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &event.QuoteUpdate{
		FeedID:    j.Feed,
		RoundID:   j.RoundID,
		Price:     j.Price,
		UpdatedAt: j.UpdatedAt.UTC(),
	}, nil
}

// ToQuote converts an update into the oracle's representation. The sign is
// kept; the adapter refuses non-positive prices at read time.
func ToQuote(u *event.QuoteUpdate) (oracle.Quote, error) {
	price, err := fpmath.ParseFeedPrice(u.Price)
	if err != nil {
		return oracle.Quote{}, err
	}
	return oracle.Quote{RoundID: u.RoundID, Price: price, UpdatedAt: u.UpdatedAt}, nil
}

// fieldParser keeps the first error so a command is built in one pass.
type fieldParser struct {
	err error
}

func (p *fieldParser) uuid(name, s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return id
}

func (p *fieldParser) address(name, s string) common.Address {
	if !common.IsHexAddress(s) && p.err == nil {
		p.err = fmt.Errorf("%s: %q is not a hex address", name, s)
	}
	return common.HexToAddress(s)
}

// amount leaves zero to the engine, which rejects it with its own error.
func (p *fieldParser) amount(name, s string) *uint256.Int {
	if s == "" {
		if p.err == nil {
			p.err = fmt.Errorf("%s: missing", name)
		}
		return nil
	}
	v, err := fpmath.ParseAmount(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}
