package server

import (
	"context"
	"encoding/hex"
	"errors"

	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/ingestion"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LedgerService is the method set registered under ServiceName.
type LedgerService interface {
	DepositCollateral(context.Context, *CommandRequest) (*CommandResponse, error)
	RedeemCollateral(context.Context, *CommandRequest) (*CommandResponse, error)
	MintUnit(context.Context, *CommandRequest) (*CommandResponse, error)
	BurnUnit(context.Context, *CommandRequest) (*CommandResponse, error)
	DepositAndMint(context.Context, *CommandRequest) (*CommandResponse, error)
	RedeemAndBurn(context.Context, *CommandRequest) (*CommandResponse, error)
	Liquidate(context.Context, *CommandRequest) (*CommandResponse, error)
	DepositSurplus(context.Context, *CommandRequest) (*CommandResponse, error)

	GetAccount(context.Context, *AccountRequest) (*AccountResponse, error)
	GetHealthFactor(context.Context, *AccountRequest) (*HealthResponse, error)
	GetCollateralValue(context.Context, *AccountRequest) (*CollateralValueResponse, error)
	GetCollateralBalance(context.Context, *CollateralBalanceRequest) (*CollateralBalanceResponse, error)
	GetSurplus(context.Context, *SurplusRequest) (*SurplusResponse, error)
	ListCollateralAssets(context.Context, *AssetsRequest) (*AssetsResponse, error)
	GetUsdValue(context.Context, *UsdValueRequest) (*UsdValueResponse, error)
	GetAssetAmountForUsd(context.Context, *AssetAmountRequest) (*AssetAmountResponse, error)
	ListLiquidations(context.Context, *HistoryRequest) (*query.LiquidationHistoryResponse, error)
	ListJournal(context.Context, *HistoryRequest) (*JournalHistoryResponse, error)

	SubmitQuote(context.Context, *QuoteRequest) (*QuoteResponse, error)
	TakeSnapshot(context.Context, *AdminRequest) (*SnapshotResponse, error)
	RebuildProjections(context.Context, *AdminRequest) (*RebuildResponse, error)
	VerifyIntegrity(context.Context, *AdminRequest) (*query.IntegrityReport, error)
}

type JournalHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

// EngineViewer runs read-only functions against the engine between
// commands. core.Sequencer satisfies it.
type EngineViewer interface {
	View(ctx context.Context, fn func(*core.Engine) error) error
}

// AdminHooks are the operational actions the process wires in. A nil hook
// answers Unimplemented.
type AdminHooks struct {
	Snapshot func(ctx context.Context) (int64, error)
	Rebuild  func(ctx context.Context) (int64, error)
}

// LedgerServer implements LedgerService. Commands go through the ingest
// service, live reads through the sequencer, history through the
// projections.
type LedgerServer struct {
	ingest *ingestion.GRPCIngestService
	engine EngineViewer
	query  *query.QueryService
	admin  AdminHooks
}

func NewLedgerServer(ingest *ingestion.GRPCIngestService, engine EngineViewer, qs *query.QueryService, admin AdminHooks) *LedgerServer {
	return &LedgerServer{ingest: ingest, engine: engine, query: qs, admin: admin}
}

var _ LedgerService = (*LedgerServer)(nil)

// ============================================================================
// Commands
// ============================================================================

func (s *LedgerServer) DepositCollateral(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeDepositCollateral, req)
}

func (s *LedgerServer) RedeemCollateral(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeRedeemCollateral, req)
}

func (s *LedgerServer) MintUnit(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeMintUnit, req)
}

func (s *LedgerServer) BurnUnit(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeBurnUnit, req)
}

func (s *LedgerServer) DepositAndMint(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeDepositAndMint, req)
}

func (s *LedgerServer) RedeemAndBurn(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeRedeemAndBurn, req)
}

func (s *LedgerServer) Liquidate(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeLiquidate, req)
}

func (s *LedgerServer) DepositSurplus(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	return s.submit(ctx, event.EventTypeDepositSurplus, req)
}

func (s *LedgerServer) submit(ctx context.Context, et event.EventType, req *CommandRequest) (*CommandResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request body is required")
	}
	j := *req
	if j.RequestID == "" {
		j.RequestID = uuid.NewString()
	}

	out, err := s.ingest.SubmitCommand(ctx, et, j)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &CommandResponse{RequestID: j.RequestID}
	if out == nil {
		return resp, nil
	}
	resp.Applied = true
	resp.Sequence = out.Envelope.Sequence
	resp.StateHash = hex.EncodeToString(out.Envelope.StateHash[:])
	resp.Records = out.Envelope.Payload
	return resp, nil
}

// ============================================================================
// Live reads
// ============================================================================

func (s *LedgerServer) GetAccount(ctx context.Context, req *AccountRequest) (*AccountResponse, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	var resp *AccountResponse
	err = s.view(ctx, func(e *core.Engine) error {
		debt, value, err := e.AccountInformation(user)
		if err != nil {
			return err
		}
		hf, err := e.HealthFactor(user)
		if err != nil {
			return err
		}
		resp = &AccountResponse{
			User:               user.Hex(),
			Debt:               debt.Dec(),
			CollateralValueUsd: value.Dec(),
			HealthFactor:       hf.Dec(),
			Collateral:         []CollateralHolding{},
			Sequence:           e.GetSequence() - 1,
		}
		for _, a := range e.CollateralAssets() {
			bal := e.CollateralBalance(user, a.Address)
			if bal.IsZero() {
				continue
			}
			resp.Collateral = append(resp.Collateral, CollateralHolding{
				Asset:  a.Address.Hex(),
				Symbol: a.Symbol,
				Amount: bal.Dec(),
			})
		}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) GetHealthFactor(ctx context.Context, req *AccountRequest) (*HealthResponse, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	var resp *HealthResponse
	err = s.view(ctx, func(e *core.Engine) error {
		hf, err := e.HealthFactor(user)
		if err != nil {
			return err
		}
		resp = &HealthResponse{User: user.Hex(), HealthFactor: hf.Dec(), Sequence: e.GetSequence() - 1}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) GetCollateralValue(ctx context.Context, req *AccountRequest) (*CollateralValueResponse, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	var resp *CollateralValueResponse
	err = s.view(ctx, func(e *core.Engine) error {
		v, err := e.AccountCollateralValue(user)
		if err != nil {
			return err
		}
		resp = &CollateralValueResponse{User: user.Hex(), ValueUsd: v.Dec(), Sequence: e.GetSequence() - 1}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) GetCollateralBalance(ctx context.Context, req *CollateralBalanceRequest) (*CollateralBalanceResponse, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	var resp *CollateralBalanceResponse
	err = s.view(ctx, func(e *core.Engine) error {
		resp = &CollateralBalanceResponse{
			User:   user.Hex(),
			Asset:  asset.Hex(),
			Amount: e.CollateralBalance(user, asset).Dec(),
		}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) GetSurplus(ctx context.Context, req *SurplusRequest) (*SurplusResponse, error) {
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	var resp *SurplusResponse
	err = s.view(ctx, func(e *core.Engine) error {
		resp = &SurplusResponse{Asset: asset.Hex(), Balance: e.SurplusBuffer(asset).Dec(), Sequence: e.GetSequence() - 1}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) ListCollateralAssets(ctx context.Context, _ *AssetsRequest) (*AssetsResponse, error) {
	var resp *AssetsResponse
	err := s.view(ctx, func(e *core.Engine) error {
		resp = &AssetsResponse{Unit: e.UnitAddress().Hex()}
		for _, a := range e.CollateralAssets() {
			resp.Assets = append(resp.Assets, AssetInfo{
				Address: a.Address.Hex(),
				Symbol:  a.Symbol,
				Feed:    a.FeedID,
				Custody: e.Custody(a.Address).Dec(),
				Surplus: e.SurplusBuffer(a.Address).Dec(),
			})
		}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) GetUsdValue(ctx context.Context, req *UsdValueRequest) (*UsdValueResponse, error) {
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	var resp *UsdValueResponse
	err = s.view(ctx, func(e *core.Engine) error {
		usd, err := e.UsdValue(asset, amount)
		if err != nil {
			return err
		}
		resp = &UsdValueResponse{Asset: asset.Hex(), Amount: amount.Dec(), Usd: usd.Dec()}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) GetAssetAmountForUsd(ctx context.Context, req *AssetAmountRequest) (*AssetAmountResponse, error) {
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	usd, err := parseAmount("usd", req.Usd)
	if err != nil {
		return nil, err
	}
	var resp *AssetAmountResponse
	err = s.view(ctx, func(e *core.Engine) error {
		amount, err := e.AssetAmountForUsd(asset, usd)
		if err != nil {
			return err
		}
		resp = &AssetAmountResponse{Asset: asset.Hex(), Usd: usd.Dec(), Amount: amount.Dec()}
		return nil
	})
	return resp, err
}

func (s *LedgerServer) view(ctx context.Context, fn func(*core.Engine) error) error {
	return toStatus(s.engine.View(ctx, fn))
}

// ============================================================================
// History (projections)
// ============================================================================

func (s *LedgerServer) ListLiquidations(ctx context.Context, req *HistoryRequest) (*query.LiquidationHistoryResponse, error) {
	if s.query == nil {
		return nil, status.Error(codes.Unavailable, "history is not configured")
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	resp, err := s.query.GetLiquidationHistory(ctx, user, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "liquidation history: %v", err)
	}
	return resp, nil
}

func (s *LedgerServer) ListJournal(ctx context.Context, req *HistoryRequest) (*JournalHistoryResponse, error) {
	if s.query == nil {
		return nil, status.Error(codes.Unavailable, "history is not configured")
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	entries, err := s.query.GetJournalHistory(ctx, user, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "journal history: %v", err)
	}
	return &JournalHistoryResponse{Entries: entries}, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *LedgerServer) SubmitQuote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request body is required")
	}
	accepted, err := s.ingest.SubmitQuote(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &QuoteResponse{Feed: req.Feed, Accepted: accepted}, nil
}

func (s *LedgerServer) TakeSnapshot(ctx context.Context, _ *AdminRequest) (*SnapshotResponse, error) {
	if s.admin.Snapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	seq, err := s.admin.Snapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *LedgerServer) RebuildProjections(ctx context.Context, _ *AdminRequest) (*RebuildResponse, error) {
	if s.admin.Rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "projection rebuild is not configured")
	}
	wm, err := s.admin.Rebuild(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildResponse{Watermark: wm}, nil
}

func (s *LedgerServer) VerifyIntegrity(ctx context.Context, _ *AdminRequest) (*query.IntegrityReport, error) {
	if s.query == nil {
		return nil, status.Error(codes.Unavailable, "history is not configured")
	}
	report, err := s.query.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

// ============================================================================
// Helpers
// ============================================================================

// toStatus maps engine and ingestion errors onto gRPC codes. Business
// rejections keep their message so callers can tell them apart.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ingestion.ErrMalformed), errors.Is(err, ingestion.ErrUnknownFeed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, core.ErrSequencerStopped):
		return status.Error(codes.Unavailable, err.Error())
	}

	switch core.RejectReason(err) {
	case "input":
		return status.Error(codes.InvalidArgument, err.Error())
	case "solvency", "reserve", "postcondition":
		return status.Error(codes.FailedPrecondition, err.Error())
	case "oracle", "unavailable":
		return status.Error(codes.Unavailable, err.Error())
	case "external", "reentrant":
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s: %q is not a hex address", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", field, err)
	}
	return v, nil
}
