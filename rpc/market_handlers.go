package rpc

import (
	"encoding/json"
	"math/big"
	"strings"

	"termlend/crypto"
	"termlend/native/fixedlending"
)

type supplyParams struct {
	Market   string `json:"market"`
	Supplier string `json:"supplier"`
	Amount   string `json:"amount"`
}

type withdrawFloatingParams struct {
	Market   string `json:"market"`
	Supplier string `json:"supplier"`
	Shares   string `json:"shares"`
}

type floatingDebtParams struct {
	Market   string `json:"market"`
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type fixedDepositParams struct {
	Market            string `json:"market"`
	Supplier          string `json:"supplier"`
	Maturity          uint64 `json:"maturity"`
	Amount            string `json:"amount"`
	MinAssetsRequired string `json:"minAssetsRequired,omitempty"`
}

type fixedBorrowParams struct {
	Market           string `json:"market"`
	Borrower         string `json:"borrower"`
	Maturity         uint64 `json:"maturity"`
	Amount           string `json:"amount"`
	MaxAssetsAllowed string `json:"maxAssetsAllowed,omitempty"`
}

type fixedRepayParams struct {
	Market           string `json:"market"`
	Borrower         string `json:"borrower"`
	Maturity         uint64 `json:"maturity"`
	PositionAssets   string `json:"positionAssets"`
	MaxAssetsAllowed string `json:"maxAssetsAllowed,omitempty"`
}

type fixedWithdrawParams struct {
	Market            string `json:"market"`
	Owner             string `json:"owner"`
	Maturity          uint64 `json:"maturity"`
	PositionAssets    string `json:"positionAssets"`
	MinAssetsRequired string `json:"minAssetsRequired,omitempty"`
}

type treasuryParams struct {
	Market    string `json:"market"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type marketParams struct {
	Market string `json:"market"`
}

type fixedPoolParams struct {
	Market   string `json:"market"`
	Maturity uint64 `json:"maturity"`
}

type accountParams struct {
	Market  string `json:"market"`
	Address string `json:"address"`
}

type previewBorrowParams struct {
	Market   string `json:"market"`
	Maturity uint64 `json:"maturity"`
	Amount   string `json:"amount"`
}

type amountResult struct {
	Market string `json:"market"`
	Amount string `json:"amount"`
}

type fixedPositionResult struct {
	Maturity  uint64 `json:"maturity"`
	Principal string `json:"principal"`
	Fee       string `json:"fee"`
}

type userAccountResult struct {
	Address       string                `json:"address"`
	SupplyShares  string                `json:"supplyShares"`
	BorrowShares  string                `json:"borrowShares"`
	FixedBorrows  []fixedPositionResult `json:"fixedBorrows"`
	FixedDeposits []fixedPositionResult `json:"fixedDeposits"`
}

type accountSnapshotResult struct {
	Address    string `json:"address"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type marketInfoResult struct {
	Market           string `json:"market"`
	MaxFuturePools   uint64 `json:"maxFuturePools"`
	IntervalSeconds  uint64 `json:"intervalSeconds"`
	PenaltyRate      string `json:"penaltyRate"`
	BackupFeeRate    string `json:"backupFeeRate"`
	ReserveFactorBps uint64 `json:"reserveFactorBps"`
	MaxTotalFixed    string `json:"maxTotalFixed,omitempty"`
	MaxTotalFloating string `json:"maxTotalFloating,omitempty"`
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed params: " + err.Error()}
	}
	return nil
}

func (s *Server) marketEngine(id string) (*fixedlending.Engine, *RPCError) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "market required"}
	}
	s.mu.Lock()
	engine, ok := s.engines[id]
	s.mu.Unlock()
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: "unknown market: " + id}
	}
	return engine, nil
}

func parseAddress(field, value string) (crypto.Address, *RPCError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: field + " is not a valid address"}
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " required"}
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " must be a base-10 integer"}
	}
	if amount.Sign() <= 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " must be positive"}
	}
	return amount, nil
}

// parseBound parses an optional slippage bound. An absent field means the
// caller accepts any outcome.
func parseBound(field, value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	bound, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || bound.Sign() < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " must be a non-negative base-10 integer"}
	}
	return bound, nil
}

func (s *Server) handleSupply(req *RPCRequest) (interface{}, string, *RPCError) {
	var p supplyParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	supplier, rpcErr := parseAddress("supplier", p.Supplier)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	shares, err := engine.Supply(supplier, amount)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return struct {
		Market string `json:"market"`
		Shares string `json:"shares"`
	}{Market: engine.MarketID(), Shares: shares.String()}, p.Market, nil
}

func (s *Server) handleWithdrawFloating(req *RPCRequest) (interface{}, string, *RPCError) {
	var p withdrawFloatingParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	supplier, rpcErr := parseAddress("supplier", p.Supplier)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	shares, rpcErr := parseAmount("shares", p.Shares)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	assets, err := engine.WithdrawFloating(supplier, shares)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return amountResult{Market: engine.MarketID(), Amount: assets.String()}, p.Market, nil
}

func (s *Server) handleBorrowFloating(req *RPCRequest) (interface{}, string, *RPCError) {
	var p floatingDebtParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	borrower, rpcErr := parseAddress("borrower", p.Borrower)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	shares, err := engine.BorrowFloating(borrower, amount)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return struct {
		Market string `json:"market"`
		Shares string `json:"shares"`
	}{Market: engine.MarketID(), Shares: shares.String()}, p.Market, nil
}

func (s *Server) handleRepayFloating(req *RPCRequest) (interface{}, string, *RPCError) {
	var p floatingDebtParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	borrower, rpcErr := parseAddress("borrower", p.Borrower)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	repaid, err := engine.RepayFloating(borrower, amount)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return amountResult{Market: engine.MarketID(), Amount: repaid.String()}, p.Market, nil
}

func (s *Server) handleDepositAtMaturity(req *RPCRequest) (interface{}, string, *RPCError) {
	var p fixedDepositParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	supplier, rpcErr := parseAddress("supplier", p.Supplier)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	minRequired, rpcErr := parseBound("minAssetsRequired", p.MinAssetsRequired)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	position, err := engine.DepositAtMaturity(supplier, p.Maturity, amount, minRequired)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return struct {
		Market         string `json:"market"`
		Maturity       uint64 `json:"maturity"`
		PositionAssets string `json:"positionAssets"`
	}{Market: engine.MarketID(), Maturity: p.Maturity, PositionAssets: position.String()}, p.Market, nil
}

func (s *Server) handleBorrowAtMaturity(req *RPCRequest) (interface{}, string, *RPCError) {
	var p fixedBorrowParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	borrower, rpcErr := parseAddress("borrower", p.Borrower)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	maxAllowed, rpcErr := parseBound("maxAssetsAllowed", p.MaxAssetsAllowed)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	owed, err := engine.BorrowAtMaturity(borrower, p.Maturity, amount, maxAllowed)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return struct {
		Market         string `json:"market"`
		Maturity       uint64 `json:"maturity"`
		PositionAssets string `json:"positionAssets"`
	}{Market: engine.MarketID(), Maturity: p.Maturity, PositionAssets: owed.String()}, p.Market, nil
}

func (s *Server) handleRepayAtMaturity(req *RPCRequest) (interface{}, string, *RPCError) {
	var p fixedRepayParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	borrower, rpcErr := parseAddress("borrower", p.Borrower)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	positionAssets, rpcErr := parseAmount("positionAssets", p.PositionAssets)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	maxAllowed, rpcErr := parseBound("maxAssetsAllowed", p.MaxAssetsAllowed)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	actual, err := engine.RepayAtMaturity(borrower, p.Maturity, positionAssets, maxAllowed)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return amountResult{Market: engine.MarketID(), Amount: actual.String()}, p.Market, nil
}

func (s *Server) handleWithdrawAtMaturity(req *RPCRequest) (interface{}, string, *RPCError) {
	var p fixedWithdrawParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	owner, rpcErr := parseAddress("owner", p.Owner)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	positionAssets, rpcErr := parseAmount("positionAssets", p.PositionAssets)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	minRequired, rpcErr := parseBound("minAssetsRequired", p.MinAssetsRequired)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	actual, err := engine.WithdrawAtMaturity(owner, p.Maturity, positionAssets, minRequired)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return amountResult{Market: engine.MarketID(), Amount: actual.String()}, p.Market, nil
}

func (s *Server) handleWithdrawTreasuryFees(req *RPCRequest) (interface{}, string, *RPCError) {
	var p treasuryParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	recipient, rpcErr := parseAddress("recipient", p.Recipient)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	withdrawn, err := engine.WithdrawTreasuryFees(recipient, amount)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	refreshGauges(engine)
	return amountResult{Market: engine.MarketID(), Amount: withdrawn.String()}, p.Market, nil
}

func (s *Server) handleGetFixedPool(req *RPCRequest) (interface{}, string, *RPCError) {
	var p fixedPoolParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	pool, err := engine.FixedPool(p.Maturity)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	if pool == nil {
		pool = fixedlending.NewPool(p.Maturity, p.Maturity)
	}
	return struct {
		Market   string             `json:"market"`
		Maturity uint64             `json:"maturity"`
		Pool     *fixedlending.Pool `json:"pool"`
	}{Market: engine.MarketID(), Maturity: p.Maturity, Pool: pool}, p.Market, nil
}

func (s *Server) handleGetFloatingPool(req *RPCRequest) (interface{}, string, *RPCError) {
	var p marketParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	floating, err := engine.FloatingSnapshot()
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	return struct {
		Market string                      `json:"market"`
		Pool   *fixedlending.FloatingState `json:"pool"`
	}{Market: engine.MarketID(), Pool: floating}, p.Market, nil
}

func (s *Server) handleGetUserAccount(req *RPCRequest) (interface{}, string, *RPCError) {
	var p accountParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	addr, rpcErr := parseAddress("address", p.Address)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	account, err := engine.UserAccountOf(addr)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	result := userAccountResult{
		Address:       addr.String(),
		SupplyShares:  account.SupplyShares.String(),
		BorrowShares:  account.BorrowShares.String(),
		FixedBorrows:  make([]fixedPositionResult, 0, len(account.FixedBorrows)),
		FixedDeposits: make([]fixedPositionResult, 0, len(account.FixedDeposits)),
	}
	for _, maturity := range account.FixedBorrows {
		position, err := engine.FixedBorrowPosition(maturity, addr)
		if err != nil {
			return nil, p.Market, rpcErrorFor(err)
		}
		if position == nil {
			continue
		}
		result.FixedBorrows = append(result.FixedBorrows, fixedPositionResult{
			Maturity:  maturity,
			Principal: position.Principal.String(),
			Fee:       position.Fee.String(),
		})
	}
	for _, maturity := range account.FixedDeposits {
		position, err := engine.FixedDepositPosition(maturity, addr)
		if err != nil {
			return nil, p.Market, rpcErrorFor(err)
		}
		if position == nil {
			continue
		}
		result.FixedDeposits = append(result.FixedDeposits, fixedPositionResult{
			Maturity:  maturity,
			Principal: position.Principal.String(),
			Fee:       position.Fee.String(),
		})
	}
	return result, p.Market, nil
}

func (s *Server) handleGetAccountSnapshot(req *RPCRequest) (interface{}, string, *RPCError) {
	var p accountParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	addr, rpcErr := parseAddress("address", p.Address)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	collateral, debt, err := engine.AccountSnapshot(addr)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	return accountSnapshotResult{
		Address:    addr.String(),
		Collateral: collateral.String(),
		Debt:       debt.String(),
	}, p.Market, nil
}

func (s *Server) handlePreviewBorrow(req *RPCRequest) (interface{}, string, *RPCError) {
	var p previewBorrowParams
	if rpcErr := decodeParams(req, &p); rpcErr != nil {
		return nil, "", rpcErr
	}
	engine, rpcErr := s.marketEngine(p.Market)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount)
	if rpcErr != nil {
		return nil, p.Market, rpcErr
	}
	owed, err := engine.PreviewFixedBorrow(p.Maturity, amount)
	if err != nil {
		return nil, p.Market, rpcErrorFor(err)
	}
	return struct {
		Market         string `json:"market"`
		Maturity       uint64 `json:"maturity"`
		PositionAssets string `json:"positionAssets"`
	}{Market: engine.MarketID(), Maturity: p.Maturity, PositionAssets: owed.String()}, p.Market, nil
}

func (s *Server) handleGetMarkets(_ *RPCRequest) (interface{}, string, *RPCError) {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()
	results := make([]marketInfoResult, 0, len(ids))
	for _, id := range ids {
		engine, rpcErr := s.marketEngine(id)
		if rpcErr != nil {
			continue
		}
		params := engine.Parameters()
		info := marketInfoResult{
			Market:           params.Asset,
			MaxFuturePools:   params.MaxFuturePools,
			IntervalSeconds:  params.Interval,
			PenaltyRate:      params.PenaltyRate.String(),
			BackupFeeRate:    params.BackupFeeRate.String(),
			ReserveFactorBps: params.ReserveFactorBps,
		}
		if params.Caps.TotalFixed != nil {
			info.MaxTotalFixed = params.Caps.TotalFixed.String()
		}
		if params.Caps.TotalFloating != nil {
			info.MaxTotalFloating = params.Caps.TotalFloating.String()
		}
		results = append(results, info)
	}
	return results, "", nil
}
