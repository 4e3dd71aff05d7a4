package fixedlending

import "errors"

var (
	ErrNilState                    = errors.New("fixedlending engine: state not configured")
	ErrMarketNotConfigured         = errors.New("fixedlending engine: market not configured")
	ErrInvalidAmount               = errors.New("fixedlending engine: amount must be positive")
	ErrInvalidMaturity             = errors.New("fixedlending engine: maturity not aligned to the fixed interval")
	ErrMaturityPassed              = errors.New("fixedlending engine: maturity already passed")
	ErrMaturityTooFar              = errors.New("fixedlending engine: maturity beyond the listed horizon")
	ErrInsufficientBackupLiquidity = errors.New("fixedlending engine: insufficient backup liquidity")
	ErrInsufficientLiquidity       = errors.New("fixedlending engine: insufficient floating liquidity")
	ErrInsufficientPoolSupply      = errors.New("fixedlending engine: withdrawal exceeds pool supply")
	ErrRepayExceedsDebt            = errors.New("fixedlending engine: repayment exceeds pool debt")
	ErrTooMuchSlippage             = errors.New("fixedlending engine: result outside the caller's bounds")
	ErrNoPosition                  = errors.New("fixedlending engine: no open position at this maturity")
	ErrNoDebtToRepay               = errors.New("fixedlending engine: no outstanding debt to repay")
	ErrInsufficientShares          = errors.New("fixedlending engine: insufficient share balance")
	ErrRiskNotConfigured           = errors.New("fixedlending engine: risk controller not configured")
	ErrBorrowCapExceeded           = errors.New("fixedlending engine: borrow cap exceeded")
	ErrTreasuryFeesExceeded        = errors.New("fixedlending engine: withdrawal exceeds accrued treasury fees")
)
