package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"SynthLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewHTTPHandler exposes the ledger service as HTTP/JSON. Routes call the
// same LedgerServer methods the gRPC service does, so status codes map
// through runtime.HTTPStatusFromCode.
func NewHTTPHandler(ledger *LedgerServer, hc *observability.HealthChecker, metrics http.Handler) http.Handler {
	gw := runtime.NewServeMux()
	errs := &runtime.JSONPb{}

	post := func(path string, h runtime.HandlerFunc) { mustHandle(gw, http.MethodPost, path, h) }
	get := func(path string, h runtime.HandlerFunc) { mustHandle(gw, http.MethodGet, path, h) }

	post("/v1/collateral/deposit", withBody(gw, errs, ledger.DepositCollateral))
	post("/v1/collateral/redeem", withBody(gw, errs, ledger.RedeemCollateral))
	post("/v1/unit/mint", withBody(gw, errs, ledger.MintUnit))
	post("/v1/unit/burn", withBody(gw, errs, ledger.BurnUnit))
	post("/v1/deposit-and-mint", withBody(gw, errs, ledger.DepositAndMint))
	post("/v1/redeem-and-burn", withBody(gw, errs, ledger.RedeemAndBurn))
	post("/v1/liquidate", withBody(gw, errs, ledger.Liquidate))
	post("/v1/surplus/deposit", withBody(gw, errs, ledger.DepositSurplus))

	get("/v1/accounts/{user}", withParams(gw, errs, ledger.GetAccount, func(p map[string]string, _ url.Values) (*AccountRequest, error) {
		return &AccountRequest{User: p["user"]}, nil
	}))
	get("/v1/accounts/{user}/health", withParams(gw, errs, ledger.GetHealthFactor, func(p map[string]string, _ url.Values) (*AccountRequest, error) {
		return &AccountRequest{User: p["user"]}, nil
	}))
	get("/v1/accounts/{user}/collateral-value", withParams(gw, errs, ledger.GetCollateralValue, func(p map[string]string, _ url.Values) (*AccountRequest, error) {
		return &AccountRequest{User: p["user"]}, nil
	}))
	get("/v1/accounts/{user}/collateral/{asset}", withParams(gw, errs, ledger.GetCollateralBalance, func(p map[string]string, _ url.Values) (*CollateralBalanceRequest, error) {
		return &CollateralBalanceRequest{User: p["user"], Asset: p["asset"]}, nil
	}))
	get("/v1/surplus/{asset}", withParams(gw, errs, ledger.GetSurplus, func(p map[string]string, _ url.Values) (*SurplusRequest, error) {
		return &SurplusRequest{Asset: p["asset"]}, nil
	}))
	get("/v1/assets", withParams(gw, errs, ledger.ListCollateralAssets, func(map[string]string, url.Values) (*AssetsRequest, error) {
		return &AssetsRequest{}, nil
	}))
	get("/v1/usd-value/{asset}/{amount}", withParams(gw, errs, ledger.GetUsdValue, func(p map[string]string, _ url.Values) (*UsdValueRequest, error) {
		return &UsdValueRequest{Asset: p["asset"], Amount: p["amount"]}, nil
	}))
	get("/v1/asset-amount/{asset}/{usd}", withParams(gw, errs, ledger.GetAssetAmountForUsd, func(p map[string]string, _ url.Values) (*AssetAmountRequest, error) {
		return &AssetAmountRequest{Asset: p["asset"], Usd: p["usd"]}, nil
	}))
	get("/v1/history/liquidations/{user}", withParams(gw, errs, ledger.ListLiquidations, historyRequest))
	get("/v1/history/journal/{user}", withParams(gw, errs, ledger.ListJournal, historyRequest))

	post("/v1/admin/quotes", withBody(gw, errs, ledger.SubmitQuote))
	post("/v1/admin/snapshot", withBody(gw, errs, ledger.TakeSnapshot))
	post("/v1/admin/rebuild-projections", withBody(gw, errs, ledger.RebuildProjections))
	get("/v1/admin/integrity", withParams(gw, errs, ledger.VerifyIntegrity, func(map[string]string, url.Values) (*AdminRequest, error) {
		return &AdminRequest{}, nil
	}))

	mux := http.NewServeMux()
	if hc != nil {
		mux.HandleFunc("/healthz", hc.LivenessHandler)
		mux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.Handle("/", gw)
	return mux
}

func mustHandle(gw *runtime.ServeMux, method, path string, h runtime.HandlerFunc) {
	if err := gw.HandlePath(method, path, h); err != nil {
		panic(fmt.Sprintf("register %s %s: %v", method, path, err))
	}
}

// withBody decodes the JSON body into Req. An empty body is an empty request.
func withBody[Req, Resp any](gw *runtime.ServeMux, m runtime.Marshaler, call func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		in := new(Req)
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(in); err != nil {
				runtime.HTTPError(r.Context(), gw, m, w, r, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
				return
			}
		}
		reply(gw, m, w, r, call, in)
	}
}

// withParams builds Req from path parameters and the query string.
func withParams[Req, Resp any](
	gw *runtime.ServeMux,
	m runtime.Marshaler,
	call func(context.Context, *Req) (*Resp, error),
	build func(map[string]string, url.Values) (*Req, error),
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		in, err := build(params, r.URL.Query())
		if err != nil {
			runtime.HTTPError(r.Context(), gw, m, w, r, err)
			return
		}
		reply(gw, m, w, r, call, in)
	}
}

func reply[Req, Resp any](gw *runtime.ServeMux, m runtime.Marshaler, w http.ResponseWriter, r *http.Request, call func(context.Context, *Req) (*Resp, error), in *Req) {
	resp, err := call(r.Context(), in)
	if err != nil {
		runtime.HTTPError(r.Context(), gw, m, w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func historyRequest(p map[string]string, q url.Values) (*HistoryRequest, error) {
	req := &HistoryRequest{User: p["user"]}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "limit: %v", err)
		}
		req.Limit = n
	}
	if s := q.Get("before_sequence"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "before_sequence: %v", err)
		}
		req.BeforeSequence = &n
	}
	return req, nil
}
