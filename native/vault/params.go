package vault

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

const (
	// DefaultCollateralRatio is the minimum collateralisation, in percent,
	// required whenever debt is issued or collateral leaves a vault.
	DefaultCollateralRatio = 150
	// DefaultLiquidationThreshold is the ratio below which a vault may be
	// liquidated.
	DefaultLiquidationThreshold = 130
	// DefaultLiquidationBonus is the percentage premium paid to liquidators.
	DefaultLiquidationBonus = 5
	// DefaultReleasePercent is the share of excess collateral handed back on a
	// partial repayment.
	DefaultReleasePercent = 80
	// DefaultMaxPriceAge bounds how old a price may be on deposit and mint paths.
	DefaultMaxPriceAge = time.Hour
)

// Params captures the risk configuration enforced by the engine. Percentages
// are whole integers applied with truncating division.
type Params struct {
	CollateralRatio      uint64
	LiquidationThreshold uint64
	LiquidationBonus     uint64
	ReleasePercent       uint64
	MinDebt              *uint256.Int
	MaxPriceAge          time.Duration
	// StrictWithdrawFreshness makes RemoveCollateral require a fresh price when
	// the vault carries debt. Disabled by default.
	StrictWithdrawFreshness bool
}

// DefaultParams returns the production risk configuration.
func DefaultParams() Params {
	return Params{
		CollateralRatio:      DefaultCollateralRatio,
		LiquidationThreshold: DefaultLiquidationThreshold,
		LiquidationBonus:     DefaultLiquidationBonus,
		ReleasePercent:       DefaultReleasePercent,
		MinDebt:              new(uint256.Int).Mul(uint256.NewInt(10), Precision),
		MaxPriceAge:          DefaultMaxPriceAge,
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	if p.MinDebt != nil {
		clone.MinDebt = new(uint256.Int).Set(p.MinDebt)
	}
	return clone
}

// Validate ensures the parameters describe a coherent risk model.
func (p Params) Validate() error {
	if p.LiquidationThreshold < 100 {
		return fmt.Errorf("vault params: liquidation threshold %d%% must be at least 100%%", p.LiquidationThreshold)
	}
	if p.CollateralRatio <= p.LiquidationThreshold {
		return fmt.Errorf("vault params: collateral ratio %d%% must exceed liquidation threshold %d%%", p.CollateralRatio, p.LiquidationThreshold)
	}
	if p.LiquidationBonus >= 100 {
		return fmt.Errorf("vault params: liquidation bonus %d%% must be below 100%%", p.LiquidationBonus)
	}
	if p.ReleasePercent == 0 || p.ReleasePercent > 100 {
		return fmt.Errorf("vault params: release percent %d%% must be within (0, 100]", p.ReleasePercent)
	}
	if p.MinDebt == nil || p.MinDebt.IsZero() {
		return fmt.Errorf("vault params: minimum debt must be positive")
	}
	if p.MaxPriceAge <= 0 {
		return fmt.Errorf("vault params: max price age must be positive")
	}
	return nil
}
