package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/server"
	"SynthLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	alice = testutil.Alice.Hex()
	bob   = testutil.Bob.Hex()
	weth  = testutil.WETH.Hex()
)

type harness struct {
	f      *testutil.Fixture
	ledger *server.LedgerServer
	http   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := testutil.NewFixture(t)

	seq := core.NewSequencer(f.Engine, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	quotes := ingestion.NewQuoteIngester(f.Quotes, f.Registry, nil, zerolog.Nop())
	ingest := ingestion.NewGRPCIngestService(seq, quotes)
	ledger := server.NewLedgerServer(ingest, seq, nil, server.AdminHooks{})

	hc := observability.NewHealthChecker()
	hs := httptest.NewServer(server.NewHTTPHandler(ledger, hc, nil))
	t.Cleanup(hs.Close)

	return &harness{f: f, ledger: ledger, http: hs}
}

func (h *harness) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.http.URL+path, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (h *harness) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(h.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// =============================================================================
// HTTP gateway
// =============================================================================

func TestHTTP_DepositAndMintThenReadAccount(t *testing.T) {
	h := newHarness(t)
	h.f.Fund(t, testutil.Alice, testutil.WETH, 10)

	code, body := h.post(t, "/v1/deposit-and-mint", map[string]string{
		"request_id":  uuid.NewString(),
		"caller":      alice,
		"asset":       weth,
		"amount":      "5",
		"mint_amount": "2000",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["applied"])
	assert.NotEmpty(t, body["state_hash"])
	assert.NotNil(t, body["records"])

	code, body = h.get(t, "/v1/accounts/"+alice)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "2000000000000000000000", body["debt"])
	assert.Equal(t, "10000000000000000000000", body["collateral_value_usd"])
	holdings := body["collateral"].([]any)
	require.Len(t, holdings, 1)
	assert.Equal(t, "WETH", holdings[0].(map[string]any)["symbol"])
	assert.Equal(t, "5000000000000000000", holdings[0].(map[string]any)["amount"])

	code, body = h.get(t, "/v1/accounts/"+alice+"/collateral/"+weth)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5000000000000000000", body["amount"])

	code, body = h.get(t, "/v1/accounts/"+alice+"/health")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["health_factor"])
}

func TestHTTP_DuplicateRequestIsNotApplied(t *testing.T) {
	h := newHarness(t)
	h.f.Fund(t, testutil.Alice, testutil.WETH, 10)

	req := map[string]string{
		"request_id": uuid.NewString(),
		"caller":     alice,
		"asset":      weth,
		"amount":     "1",
	}
	code, first := h.post(t, "/v1/collateral/deposit", req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, first["applied"])

	code, second := h.post(t, "/v1/collateral/deposit", req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, second["applied"])
	assert.Equal(t, req["request_id"], second["request_id"])
	assert.Equal(t, "1000000000000000000", h.f.Engine.CollateralBalance(testutil.Alice, testutil.WETH).Dec())
}

func TestHTTP_MissingRequestIDIsGenerated(t *testing.T) {
	h := newHarness(t)
	h.f.Fund(t, testutil.Alice, testutil.WETH, 1)

	code, body := h.post(t, "/v1/collateral/deposit", map[string]string{
		"caller": alice, "asset": weth, "amount": "1",
	})
	require.Equal(t, http.StatusOK, code)
	_, err := uuid.Parse(body["request_id"].(string))
	assert.NoError(t, err)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	h.f.Fund(t, testutil.Alice, testutil.WETH, 10)
	code, _ := h.post(t, "/v1/collateral/deposit", map[string]string{
		"caller": alice, "asset": weth, "amount": "1",
	})
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		name   string
		path   string
		body   map[string]string
		status int
	}{
		{"malformed address", "/v1/unit/mint", map[string]string{"caller": "alice", "amount": "1"}, http.StatusBadRequest},
		{"zero amount", "/v1/unit/mint", map[string]string{"caller": alice, "amount": "0"}, http.StatusBadRequest},
		{"breaks health factor", "/v1/unit/mint", map[string]string{"caller": alice, "amount": "1600"}, http.StatusBadRequest},
		{"healthy position", "/v1/liquidate", map[string]string{
			"caller": bob, "asset": weth, "user": alice, "debt_to_cover": "1",
		}, http.StatusBadRequest},
		{"unregistered asset", "/v1/collateral/deposit", map[string]string{
			"caller": alice, "asset": "0x00000000000000000000000000000000000000ff", "amount": "1",
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := h.post(t, tt.path, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestHTTP_StaleOracleIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.f.Clock.Advance(2 * time.Hour)

	code, body := h.get(t, "/v1/usd-value/"+weth+"/1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["message"], "stale")
}

func TestHTTP_Conversions(t *testing.T) {
	h := newHarness(t)

	code, body := h.get(t, "/v1/usd-value/"+weth+"/1.5")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "3000000000000000000000", body["usd"])

	code, body = h.get(t, "/v1/asset-amount/"+weth+"/2000")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "1000000000000000000", body["amount"])

	code, _ = h.get(t, "/v1/usd-value/"+weth+"/abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHTTP_AssetsAndSurplus(t *testing.T) {
	h := newHarness(t)
	h.f.Fund(t, testutil.Carol, testutil.WETH, 3)

	code, _ := h.post(t, "/v1/surplus/deposit", map[string]string{
		"caller": testutil.Carol.Hex(), "asset": weth, "amount": "2",
	})
	require.Equal(t, http.StatusOK, code)

	code, body := h.get(t, "/v1/surplus/"+weth)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2000000000000000000", body["balance"])

	code, body = h.get(t, "/v1/assets")
	require.Equal(t, http.StatusOK, code)
	assets := body["assets"].([]any)
	require.Len(t, assets, 2)
	first := assets[0].(map[string]any)
	assert.Equal(t, "WETH", first["symbol"])
	assert.Equal(t, "ETH-USD", first["feed"])
	assert.Equal(t, "2000000000000000000", first["surplus"])
	assert.Equal(t, testutil.UnitAddr.Hex(), body["unit"])
}

func TestHTTP_SubmitQuote(t *testing.T) {
	h := newHarness(t)

	code, body := h.post(t, "/v1/admin/quotes", map[string]any{
		"feed":       "ETH-USD",
		"round_id":   99,
		"price":      "2500",
		"updated_at": h.f.Clock.Now(),
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["accepted"])

	code, body = h.get(t, "/v1/usd-value/"+weth+"/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2500000000000000000000", body["usd"])

	code, _ = h.post(t, "/v1/admin/quotes", map[string]any{
		"feed": "DOGE-USD", "round_id": 1, "price": "1", "updated_at": h.f.Clock.Now(),
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHTTP_HistoryWithoutDatabase(t *testing.T) {
	h := newHarness(t)
	code, _ := h.get(t, "/v1/history/liquidations/"+alice)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = h.post(t, "/v1/admin/snapshot", map[string]string{})
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestHTTP_Healthz(t *testing.T) {
	h := newHarness(t)
	code, body := h.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, _ = h.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

// =============================================================================
// gRPC
// =============================================================================

func dialLedger(t *testing.T, ledger *server.LedgerServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	gs.RegisterService(&server.LedgerServiceDesc, ledger)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func method(name string) string {
	return fmt.Sprintf("/%s/%s", server.ServiceName, name)
}

func TestGRPC_CommandAndRead(t *testing.T) {
	h := newHarness(t)
	h.f.Fund(t, testutil.Alice, testutil.WETH, 10)
	conn := dialLedger(t, h.ledger)
	ctx := context.Background()

	var out server.CommandResponse
	err := conn.Invoke(ctx, method("DepositAndMint"), &server.CommandRequest{
		RequestID:  uuid.NewString(),
		Caller:     alice,
		Asset:      weth,
		Amount:     "4",
		MintAmount: "1000",
	}, &out)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	var acct server.AccountResponse
	require.NoError(t, conn.Invoke(ctx, method("GetAccount"), &server.AccountRequest{User: alice}, &acct))
	assert.Equal(t, "1000000000000000000000", acct.Debt)
	assert.Equal(t, out.Sequence, acct.Sequence)

	var value server.CollateralValueResponse
	require.NoError(t, conn.Invoke(ctx, method("GetCollateralValue"), &server.AccountRequest{User: alice}, &value))
	assert.Equal(t, "8000000000000000000000", value.ValueUsd)
}

func TestGRPC_StatusCodes(t *testing.T) {
	h := newHarness(t)
	conn := dialLedger(t, h.ledger)
	ctx := context.Background()

	var out server.CommandResponse
	err := conn.Invoke(ctx, method("Liquidate"), &server.CommandRequest{
		Caller: bob, Asset: weth, User: alice, DebtToCover: "1",
	}, &out)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	err = conn.Invoke(ctx, method("BurnUnit"), &server.CommandRequest{Caller: alice}, &out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	h.f.Clock.Advance(3 * time.Hour)
	var acct server.AccountResponse
	err = conn.Invoke(ctx, method("GetAccount"), &server.AccountRequest{User: alice}, &acct)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
