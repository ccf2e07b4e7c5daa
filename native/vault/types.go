package vault

import (
	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

// Vault is the collateral and debt position held by a single account.
type Vault struct {
	Collateral uint256.Int
	Debt       uint256.Int
}

// IsEmpty reports whether the vault holds neither collateral nor debt.
func (v Vault) IsEmpty() bool {
	return v.Collateral.IsZero() && v.Debt.IsZero()
}

// Totals aggregates every vault. TotalCollateral and TotalDebt always equal
// the sums over all vaults; parked collateral is tracked outside any vault.
type Totals struct {
	TotalCollateral   uint256.Int
	TotalDebt         uint256.Int
	TotalLiquidations uint64
	TotalParked       uint256.Int
}

// VaultInfo is the read-only projection of a vault at the current price.
type VaultInfo struct {
	Account         crypto.Address
	Collateral      *uint256.Int
	Debt            *uint256.Int
	CollateralValue *uint256.Int
	Ratio           *uint256.Int
	Liquidatable    bool
	Parked          *uint256.Int
}

// Status summarises the whole system at the current price.
type Status struct {
	TotalCollateral   *uint256.Int
	TotalDebt         *uint256.Int
	TotalLiquidations uint64
	TotalParked       *uint256.Int
	CollateralValue   *uint256.Int
	Ratio             *uint256.Int
	Price             *uint256.Int
	PriceFresh        bool
	VaultCount        int
	Paused            bool
}

// LiquidationResult reports how a liquidation settled.
type LiquidationResult struct {
	DebtCovered      *uint256.Int
	CollateralSeized *uint256.Int
	Refunded         *uint256.Int
	Parked           *uint256.Int
	RemainingDebt    *uint256.Int
	Closed           bool
}
