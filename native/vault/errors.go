package vault

import "errors"

var (
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral")
	ErrVaultNotLiquidatable   = errors.New("vault engine: vault not liquidatable")
	ErrPriceStale             = errors.New("vault engine: price is stale")
	ErrAmountTooSmall         = errors.New("vault engine: amount too small")
	ErrTransferFailed         = errors.New("vault engine: transfer failed")
	ErrArithmetic             = errors.New("vault engine: arithmetic overflow")
	ErrNoVault                = errors.New("vault engine: vault not found")
	ErrNothingToClaim         = errors.New("vault engine: nothing to claim")
	ErrExcessiveRepayment     = errors.New("vault engine: repayment exceeds debt")
	ErrNotConfigured          = errors.New("vault engine: collaborators not configured")
)
