package rpc

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"termlend/core/types"
	"termlend/crypto"
	"termlend/native/fixedlending"
	"termlend/state"
	"termlend/storage"
)

const testToken = "test-rpc-token"

type allowAllRisk struct{}

func (allowAllRisk) ValidateBorrow(string, crypto.Address, *big.Int) error   { return nil }
func (allowAllRisk) ValidateWithdraw(string, crypto.Address, *big.Int) error { return nil }

func testAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.MustNewAddress(crypto.TLPrefix, raw)
}

func newTestServer(t *testing.T) (*Server, http.Handler, *fixedlending.Engine, *state.Manager) {
	t.Helper()
	t.Setenv("TERMLEND_RPC_TOKEN", testToken)

	manager := state.NewManager(storage.NewMemDB())
	engine := fixedlending.NewEngine(testAddress(0xff), fixedlending.MarketParameters{
		Asset:          "TUSD",
		MaxFuturePools: 3,
		Interval:       100,
	})
	engine.SetState(manager)
	engine.SetRiskController(allowAllRisk{})
	engine.SetClock(func() uint64 { return 1000 })

	server := NewServer(slog.Default())
	server.RegisterEngine(engine)
	return server, server.Handler(), engine, manager
}

func fundAccount(t *testing.T, manager *state.Manager, addr crypto.Address, amount int64) {
	t.Helper()
	account := types.NewAccount()
	account.Credit("TUSD", big.NewInt(amount))
	if err := manager.PutAccount(addr, account); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func postRPC(t *testing.T, handler http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return recorder, resp
}

func authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func TestSupplyRequiresAuth(t *testing.T) {
	_, handler, _, _ := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"term_supply","params":[{"market":"TUSD","supplier":"x","amount":"100"}]}`
	recorder, resp := postRPC(t, handler, body, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	recorder, resp = postRPC(t, handler, body, map[string]string{"Authorization": "Bearer wrong"})
	if recorder.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected rejection for bad token, got %d %+v", recorder.Code, resp.Error)
	}
}

func TestSupplyEndToEnd(t *testing.T) {
	_, handler, _, manager := newTestServer(t)
	supplier := testAddress(0x01)
	fundAccount(t, manager, supplier, 5000)

	body := `{"jsonrpc":"2.0","id":1,"method":"term_supply","params":[{"market":"TUSD","supplier":"` + supplier.String() + `","amount":"1000"}]}`
	recorder, resp := postRPC(t, handler, body, authHeaders())
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", recorder.Code, recorder.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result struct {
		Market string `json:"market"`
		Shares string `json:"shares"`
	}
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Shares != "1000" {
		t.Fatalf("expected 1000 shares minted, got %s", result.Shares)
	}

	account, err := manager.GetAccount(supplier)
	if err != nil {
		t.Fatalf("load supplier account: %v", err)
	}
	if got := account.Balance("TUSD"); got.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("expected supplier balance 4000, got %s", got)
	}

	query := `{"jsonrpc":"2.0","id":2,"method":"term_getFloatingPool","params":[{"market":"TUSD"}]}`
	_, poolResp := postRPC(t, handler, query, nil)
	if poolResp.Error != nil {
		t.Fatalf("unexpected query error: %+v", poolResp.Error)
	}
	var poolResult struct {
		Pool struct {
			TotalAssets *big.Int `json:"totalAssets"`
			TotalShares *big.Int `json:"totalShares"`
		} `json:"pool"`
	}
	raw, _ = json.Marshal(poolResp.Result)
	if err := json.Unmarshal(raw, &poolResult); err != nil {
		t.Fatalf("decode pool result: %v", err)
	}
	if poolResult.Pool.TotalAssets.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected floating assets 1000, got %s", poolResult.Pool.TotalAssets)
	}
	if poolResult.Pool.TotalShares.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected floating shares 1000, got %s", poolResult.Pool.TotalShares)
	}
}

func TestIdempotentReplay(t *testing.T) {
	server, handler, _, manager := newTestServer(t)
	store, err := NewReceiptStore(filepath.Join(t.TempDir(), "receipts.db"))
	if err != nil {
		t.Fatalf("open receipt store: %v", err)
	}
	defer store.Close()
	server.SetReceiptStore(store)

	supplier := testAddress(0x02)
	fundAccount(t, manager, supplier, 5000)

	body := `{"jsonrpc":"2.0","id":1,"method":"term_supply","params":[{"market":"TUSD","supplier":"` + supplier.String() + `","amount":"1000"}]}`
	headers := authHeaders()
	headers[intentHeader] = "intent-1"

	first, firstResp := postRPC(t, handler, body, headers)
	if firstResp.Error != nil {
		t.Fatalf("first request failed: %+v", firstResp.Error)
	}
	second, secondResp := postRPC(t, handler, body, headers)
	if secondResp.Error != nil {
		t.Fatalf("replay failed: %+v", secondResp.Error)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs: %q vs %q", first.Body.String(), second.Body.String())
	}

	// Only the first request may move funds.
	account, err := manager.GetAccount(supplier)
	if err != nil {
		t.Fatalf("load supplier account: %v", err)
	}
	if got := account.Balance("TUSD"); got.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("expected one debit of 1000, balance %s", got)
	}

	mutated := `{"jsonrpc":"2.0","id":1,"method":"term_supply","params":[{"market":"TUSD","supplier":"` + supplier.String() + `","amount":"2000"}]}`
	recorder, mismatchResp := postRPC(t, handler, mutated, headers)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", recorder.Code)
	}
	if mismatchResp.Error == nil || mismatchResp.Error.Code != codeDuplicateIntent {
		t.Fatalf("expected duplicate intent error, got %+v", mismatchResp.Error)
	}
}

func TestInvalidMaturityMapsToInvalidParams(t *testing.T) {
	_, handler, _, manager := newTestServer(t)
	borrower := testAddress(0x03)
	fundAccount(t, manager, borrower, 5000)

	// 1150 is not a multiple of the 100 second interval.
	body := `{"jsonrpc":"2.0","id":1,"method":"term_borrowAtMaturity","params":[{"market":"TUSD","borrower":"` + borrower.String() + `","maturity":1150,"amount":"100"}]}`
	recorder, resp := postRPC(t, handler, body, authHeaders())
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestBusinessRejectionKeepsEngineMessage(t *testing.T) {
	_, handler, _, manager := newTestServer(t)
	borrower := testAddress(0x04)
	fundAccount(t, manager, borrower, 5000)

	// No floating liquidity supplied, so backup funding must fail.
	body := `{"jsonrpc":"2.0","id":1,"method":"term_borrowAtMaturity","params":[{"market":"TUSD","borrower":"` + borrower.String() + `","maturity":1100,"amount":"100"}]}`
	recorder, resp := postRPC(t, handler, body, authHeaders())
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("expected server error code, got %+v", resp.Error)
	}
}

func TestUnknownMethodAndMarket(t *testing.T) {
	_, handler, _, _ := newTestServer(t)

	_, resp := postRPC(t, handler, `{"jsonrpc":"2.0","id":1,"method":"term_bogus","params":[]}`, nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}

	_, resp = postRPC(t, handler, `{"jsonrpc":"2.0","id":2,"method":"term_getFloatingPool","params":[{"market":"NOPE"}]}`, nil)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for unknown market, got %+v", resp.Error)
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	server, handler, _, _ := newTestServer(t)
	server.SetRateLimit(1, 1)

	body := `{"jsonrpc":"2.0","id":1,"method":"term_getMarkets","params":[]}`
	_, first := postRPC(t, handler, body, nil)
	if first.Error != nil {
		t.Fatalf("first request should pass: %+v", first.Error)
	}
	recorder, second := postRPC(t, handler, body, nil)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if second.Error == nil || second.Error.Code != codeRateLimited {
		t.Fatalf("expected rate limited error, got %+v", second.Error)
	}
}

func TestGetMarketsListsParameters(t *testing.T) {
	_, handler, engine, _ := newTestServer(t)

	_, resp := postRPC(t, handler, `{"jsonrpc":"2.0","id":1,"method":"term_getMarkets","params":[]}`, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var results []marketInfoResult
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &results); err != nil {
		t.Fatalf("decode markets: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one market, got %d", len(results))
	}
	params := engine.Parameters()
	if results[0].Market != params.Asset || results[0].IntervalSeconds != params.Interval {
		t.Fatalf("market listing mismatch: %+v", results[0])
	}
}
