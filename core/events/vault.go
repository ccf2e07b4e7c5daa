package events

import (
	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

const (
	// TypeVaultOpened is emitted the first time an account deposits collateral.
	TypeVaultOpened = "vault.opened"
	// TypeVaultClosed is emitted when a vault returns to zero collateral and debt.
	TypeVaultClosed = "vault.closed"
	// TypeCollateralAdded is emitted when collateral is deposited into a vault.
	TypeCollateralAdded = "vault.collateral_added"
	// TypeCollateralRemoved is emitted when collateral leaves a vault through
	// repayment or withdrawal.
	TypeCollateralRemoved = "vault.collateral_removed"
	// TypeDebtIncreased is emitted when debt tokens are minted against a vault.
	TypeDebtIncreased = "vault.debt_increased"
	// TypeDebtDecreased is emitted when vault debt is repaid.
	TypeDebtDecreased = "vault.debt_decreased"
	// TypeVaultLiquidated is emitted for every completed liquidation.
	TypeVaultLiquidated = "vault.liquidated"
	// TypeRefundParked is emitted when a post-liquidation refund could not be
	// delivered and was parked for a later claim.
	TypeRefundParked = "vault.refund_parked"
	// TypeParkedClaimed is emitted when an owner collects parked collateral.
	TypeParkedClaimed = "vault.parked_claimed"
)

// VaultOpened marks the first deposit by an account.
type VaultOpened struct {
	Account    crypto.Address
	Collateral *uint256.Int
	Debt       *uint256.Int
}

func (VaultOpened) EventType() string { return TypeVaultOpened }

func (e VaultOpened) Event() *Record {
	return &Record{
		Type: TypeVaultOpened,
		Attributes: map[string]string{
			"account":    formatAddress(e.Account),
			"collateral": formatAmount(e.Collateral),
			"debt":       formatAmount(e.Debt),
		},
	}
}

// VaultClosed marks a vault that no longer holds collateral or debt.
type VaultClosed struct {
	Account crypto.Address
}

func (VaultClosed) EventType() string { return TypeVaultClosed }

func (e VaultClosed) Event() *Record {
	return &Record{
		Type:       TypeVaultClosed,
		Attributes: map[string]string{"account": formatAddress(e.Account)},
	}
}

// CollateralAdded records a deposit.
type CollateralAdded struct {
	Account crypto.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (CollateralAdded) EventType() string { return TypeCollateralAdded }

func (e CollateralAdded) Event() *Record {
	return &Record{
		Type: TypeCollateralAdded,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
			"total":   formatAmount(e.Total),
		},
	}
}

// CollateralRemoved records collateral returned to the owner.
type CollateralRemoved struct {
	Account crypto.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (CollateralRemoved) EventType() string { return TypeCollateralRemoved }

func (e CollateralRemoved) Event() *Record {
	return &Record{
		Type: TypeCollateralRemoved,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
			"total":   formatAmount(e.Total),
		},
	}
}

// DebtIncreased records newly minted debt.
type DebtIncreased struct {
	Account crypto.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (DebtIncreased) EventType() string { return TypeDebtIncreased }

func (e DebtIncreased) Event() *Record {
	return &Record{
		Type: TypeDebtIncreased,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
			"total":   formatAmount(e.Total),
		},
	}
}

// DebtDecreased records repaid debt.
type DebtDecreased struct {
	Account crypto.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (DebtDecreased) EventType() string { return TypeDebtDecreased }

func (e DebtDecreased) Event() *Record {
	return &Record{
		Type: TypeDebtDecreased,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
			"total":   formatAmount(e.Total),
		},
	}
}

// VaultLiquidated records a completed liquidation.
type VaultLiquidated struct {
	Account          crypto.Address
	Liquidator       crypto.Address
	DebtCovered      *uint256.Int
	CollateralSeized *uint256.Int
	Refunded         *uint256.Int
	RemainingDebt    *uint256.Int
}

func (VaultLiquidated) EventType() string { return TypeVaultLiquidated }

func (e VaultLiquidated) Event() *Record {
	attrs := map[string]string{
		"account":          formatAddress(e.Account),
		"liquidator":       formatAddress(e.Liquidator),
		"debtCovered":      formatAmount(e.DebtCovered),
		"collateralSeized": formatAmount(e.CollateralSeized),
	}
	if e.Refunded != nil && !e.Refunded.IsZero() {
		attrs["refunded"] = e.Refunded.Dec()
	}
	if e.RemainingDebt != nil {
		attrs["remainingDebt"] = e.RemainingDebt.Dec()
	}
	return &Record{Type: TypeVaultLiquidated, Attributes: attrs}
}

// RefundParked records collateral held back after a failed owner refund.
type RefundParked struct {
	Account crypto.Address
	Amount  *uint256.Int
	Reason  string
}

func (RefundParked) EventType() string { return TypeRefundParked }

func (e RefundParked) Event() *Record {
	attrs := map[string]string{
		"account": formatAddress(e.Account),
		"amount":  formatAmount(e.Amount),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &Record{Type: TypeRefundParked, Attributes: attrs}
}

// ParkedClaimed records the release of parked collateral.
type ParkedClaimed struct {
	Account crypto.Address
	Amount  *uint256.Int
}

func (ParkedClaimed) EventType() string { return TypeParkedClaimed }

func (e ParkedClaimed) Event() *Record {
	return &Record{
		Type: TypeParkedClaimed,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
		},
	}
}
