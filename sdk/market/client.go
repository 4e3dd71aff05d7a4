// Package market is the Go client for the termlend JSON-RPC surface.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Error is a JSON-RPC failure returned by the daemon.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks to one marketd endpoint.
type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// Option customises a client.
type Option func(*Client)

// WithAuthToken sets the bearer token sent on mutating calls.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New builds a client for the given endpoint, e.g. "http://127.0.0.1:8645".
func New(endpoint string, opts ...Option) *Client {
	client := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type rpcEnvelope struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// invoke performs one JSON-RPC call. A non-empty intentKey is sent as the
// idempotency header so retries replay instead of re-executing.
func (c *Client) invoke(ctx context.Context, method string, params interface{}, intentKey string, out interface{}) error {
	payload := rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: method}
	if params != nil {
		payload.Params = []interface{}{params}
	} else {
		payload.Params = []interface{}{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if intentKey != "" {
		req.Header.Set("Idempotency-Key", intentKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	if out != nil {
		if err := json.Unmarshal(reply.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// SupplyRequest funds the floating pool.
type SupplyRequest struct {
	Market   string `json:"market"`
	Supplier string `json:"supplier"`
	Amount   string `json:"amount"`
}

// SharesResult reports a share balance change.
type SharesResult struct {
	Market string `json:"market"`
	Shares string `json:"shares"`
}

// AmountResult reports an asset amount moved.
type AmountResult struct {
	Market string `json:"market"`
	Amount string `json:"amount"`
}

// Supply deposits into the floating pool and returns the shares minted.
func (c *Client) Supply(ctx context.Context, req SupplyRequest, intentKey string) (*SharesResult, error) {
	var result SharesResult
	if err := c.invoke(ctx, "term_supply", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WithdrawFloatingRequest redeems floating pool shares.
type WithdrawFloatingRequest struct {
	Market   string `json:"market"`
	Supplier string `json:"supplier"`
	Shares   string `json:"shares"`
}

// WithdrawFloating redeems shares and returns the assets paid out.
func (c *Client) WithdrawFloating(ctx context.Context, req WithdrawFloatingRequest, intentKey string) (*AmountResult, error) {
	var result AmountResult
	if err := c.invoke(ctx, "term_withdrawFloating", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FloatingDebtRequest borrows from or repays the floating pool.
type FloatingDebtRequest struct {
	Market   string `json:"market"`
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

// BorrowFloating opens floating-rate debt and returns the debt shares issued.
func (c *Client) BorrowFloating(ctx context.Context, req FloatingDebtRequest, intentKey string) (*SharesResult, error) {
	var result SharesResult
	if err := c.invoke(ctx, "term_borrowFloating", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RepayFloating pays down floating-rate debt and returns the amount applied.
func (c *Client) RepayFloating(ctx context.Context, req FloatingDebtRequest, intentKey string) (*AmountResult, error) {
	var result AmountResult
	if err := c.invoke(ctx, "term_repayFloating", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FixedDepositRequest supplies liquidity to one maturity.
type FixedDepositRequest struct {
	Market            string `json:"market"`
	Supplier          string `json:"supplier"`
	Maturity          uint64 `json:"maturity"`
	Amount            string `json:"amount"`
	MinAssetsRequired string `json:"minAssetsRequired,omitempty"`
}

// FixedPositionChange reports the position recorded at a maturity.
type FixedPositionChange struct {
	Market         string `json:"market"`
	Maturity       uint64 `json:"maturity"`
	PositionAssets string `json:"positionAssets"`
}

// DepositAtMaturity locks assets at a maturity for upfront yield.
func (c *Client) DepositAtMaturity(ctx context.Context, req FixedDepositRequest, intentKey string) (*FixedPositionChange, error) {
	var result FixedPositionChange
	if err := c.invoke(ctx, "term_depositAtMaturity", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FixedBorrowRequest opens fixed-rate debt at a maturity.
type FixedBorrowRequest struct {
	Market           string `json:"market"`
	Borrower         string `json:"borrower"`
	Maturity         uint64 `json:"maturity"`
	Amount           string `json:"amount"`
	MaxAssetsAllowed string `json:"maxAssetsAllowed,omitempty"`
}

// BorrowAtMaturity borrows at a fixed rate until the maturity.
func (c *Client) BorrowAtMaturity(ctx context.Context, req FixedBorrowRequest, intentKey string) (*FixedPositionChange, error) {
	var result FixedPositionChange
	if err := c.invoke(ctx, "term_borrowAtMaturity", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FixedRepayRequest settles fixed-rate debt.
type FixedRepayRequest struct {
	Market           string `json:"market"`
	Borrower         string `json:"borrower"`
	Maturity         uint64 `json:"maturity"`
	PositionAssets   string `json:"positionAssets"`
	MaxAssetsAllowed string `json:"maxAssetsAllowed,omitempty"`
}

// RepayAtMaturity settles fixed debt and returns the amount actually charged,
// discounted before maturity and penalised after it.
func (c *Client) RepayAtMaturity(ctx context.Context, req FixedRepayRequest, intentKey string) (*AmountResult, error) {
	var result AmountResult
	if err := c.invoke(ctx, "term_repayAtMaturity", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FixedWithdrawRequest exits a fixed deposit position.
type FixedWithdrawRequest struct {
	Market            string `json:"market"`
	Owner             string `json:"owner"`
	Maturity          uint64 `json:"maturity"`
	PositionAssets    string `json:"positionAssets"`
	MinAssetsRequired string `json:"minAssetsRequired,omitempty"`
}

// WithdrawAtMaturity exits a fixed deposit, at face value after maturity or
// discounted before it.
func (c *Client) WithdrawAtMaturity(ctx context.Context, req FixedWithdrawRequest, intentKey string) (*AmountResult, error) {
	var result AmountResult
	if err := c.invoke(ctx, "term_withdrawAtMaturity", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TreasuryWithdrawRequest pays accrued protocol fees out.
type TreasuryWithdrawRequest struct {
	Market    string `json:"market"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// WithdrawTreasuryFees pays accrued treasury fees to the recipient.
func (c *Client) WithdrawTreasuryFees(ctx context.Context, req TreasuryWithdrawRequest, intentKey string) (*AmountResult, error) {
	var result AmountResult
	if err := c.invoke(ctx, "term_withdrawTreasuryFees", req, intentKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FloatingPool mirrors the daemon's floating pool snapshot.
type FloatingPool struct {
	TotalAssets         json.Number `json:"totalAssets"`
	TotalShares         json.Number `json:"totalShares"`
	TotalBorrowed       json.Number `json:"totalBorrowed"`
	TotalBorrowShares   json.Number `json:"totalBorrowShares"`
	BackupBorrowed      json.Number `json:"backupBorrowed"`
	TotalFixedBorrowed  json.Number `json:"totalFixedBorrowed"`
	EarningsAccumulator json.Number `json:"earningsAccumulator"`
	AssetsAverage       json.Number `json:"assetsAverage"`
	LastAccrual         uint64      `json:"lastAccrual"`
}

// GetFloatingPool fetches the floating pool state for one market.
func (c *Client) GetFloatingPool(ctx context.Context, marketID string) (*FloatingPool, error) {
	var result struct {
		Pool FloatingPool `json:"pool"`
	}
	params := map[string]string{"market": marketID}
	if err := c.invoke(ctx, "term_getFloatingPool", params, "", &result); err != nil {
		return nil, err
	}
	return &result.Pool, nil
}

// FixedPool mirrors one maturity pool's accounting state.
type FixedPool struct {
	Borrowed           json.Number `json:"borrowed"`
	Supplied           json.Number `json:"supplied"`
	BackupBorrowed     json.Number `json:"backupBorrowed"`
	UnassignedEarnings json.Number `json:"unassignedEarnings"`
	LastAccrual        uint64      `json:"lastAccrual"`
}

// GetFixedPool fetches one maturity pool for a market.
func (c *Client) GetFixedPool(ctx context.Context, marketID string, maturity uint64) (*FixedPool, error) {
	var result struct {
		Pool FixedPool `json:"pool"`
	}
	params := struct {
		Market   string `json:"market"`
		Maturity uint64 `json:"maturity"`
	}{Market: marketID, Maturity: maturity}
	if err := c.invoke(ctx, "term_getFixedPool", params, "", &result); err != nil {
		return nil, err
	}
	return &result.Pool, nil
}

// FixedPosition is one open position at a maturity.
type FixedPosition struct {
	Maturity  uint64 `json:"maturity"`
	Principal string `json:"principal"`
	Fee       string `json:"fee"`
}

// UserAccount lists a participant's holdings in one market.
type UserAccount struct {
	Address       string          `json:"address"`
	SupplyShares  string          `json:"supplyShares"`
	BorrowShares  string          `json:"borrowShares"`
	FixedBorrows  []FixedPosition `json:"fixedBorrows"`
	FixedDeposits []FixedPosition `json:"fixedDeposits"`
}

// GetUserAccount fetches a participant's positions in one market.
func (c *Client) GetUserAccount(ctx context.Context, marketID, address string) (*UserAccount, error) {
	var result UserAccount
	params := map[string]string{"market": marketID, "address": address}
	if err := c.invoke(ctx, "term_getUserAccount", params, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AccountSnapshot is a participant's collateral and debt in one market.
type AccountSnapshot struct {
	Address    string `json:"address"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

// GetAccountSnapshot fetches the risk view of an account in one market.
func (c *Client) GetAccountSnapshot(ctx context.Context, marketID, address string) (*AccountSnapshot, error) {
	var result AccountSnapshot
	params := map[string]string{"market": marketID, "address": address}
	if err := c.invoke(ctx, "term_getAccountSnapshot", params, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PreviewBorrow quotes the position a fixed borrow would create without
// executing it.
func (c *Client) PreviewBorrow(ctx context.Context, marketID string, maturity uint64, amount string) (*FixedPositionChange, error) {
	var result FixedPositionChange
	params := struct {
		Market   string `json:"market"`
		Maturity uint64 `json:"maturity"`
		Amount   string `json:"amount"`
	}{Market: marketID, Maturity: maturity, Amount: amount}
	if err := c.invoke(ctx, "term_previewBorrow", params, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarketInfo describes one listed market's governance parameters.
type MarketInfo struct {
	Market           string `json:"market"`
	MaxFuturePools   uint64 `json:"maxFuturePools"`
	IntervalSeconds  uint64 `json:"intervalSeconds"`
	PenaltyRate      string `json:"penaltyRate"`
	BackupFeeRate    string `json:"backupFeeRate"`
	ReserveFactorBps uint64 `json:"reserveFactorBps"`
	MaxTotalFixed    string `json:"maxTotalFixed,omitempty"`
	MaxTotalFloating string `json:"maxTotalFloating,omitempty"`
}

// GetMarkets lists every market the daemon serves.
func (c *Client) GetMarkets(ctx context.Context) ([]MarketInfo, error) {
	var results []MarketInfo
	if err := c.invoke(ctx, "term_getMarkets", nil, "", &results); err != nil {
		return nil, err
	}
	return results, nil
}
