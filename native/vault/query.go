package vault

import (
	"github.com/holiman/uint256"

	"cdpchain/crypto"
	nativecommon "cdpchain/native/common"
)

// CollateralRatio returns the integer collateralisation percentage of the
// account's vault. Vaults without debt report MaxRatio.
func (e *Engine) CollateralRatio(account crypto.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, ErrNotConfigured
	}
	v := e.store.Get(account)
	value, err := collateralValue(&v.Collateral, e.currentPrice())
	if err != nil {
		return nil, err
	}
	return ratioOf(value, &v.Debt)
}

// VaultInfo returns the account's position priced at the current feed value.
func (e *Engine) VaultInfo(account crypto.Address) (VaultInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return VaultInfo{}, ErrNotConfigured
	}
	return e.vaultInfo(account, e.currentPrice())
}

func (e *Engine) vaultInfo(account crypto.Address, price *uint256.Int) (VaultInfo, error) {
	v := e.store.Get(account)
	value, err := collateralValue(&v.Collateral, price)
	if err != nil {
		return VaultInfo{}, err
	}
	ratio, err := ratioOf(value, &v.Debt)
	if err != nil {
		return VaultInfo{}, err
	}
	parked := e.store.Parked(account)
	return VaultInfo{
		Account:         account,
		Collateral:      clone(&v.Collateral),
		Debt:            clone(&v.Debt),
		CollateralValue: value,
		Ratio:           ratio,
		Liquidatable:    e.liquidatable(v, price),
		Parked:          clone(&parked),
	}, nil
}

// SystemStatus summarises totals and the aggregate collateralisation.
func (e *Engine) SystemStatus() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return Status{}, ErrNotConfigured
	}
	totals := e.store.Totals()
	price := e.currentPrice()
	value, err := collateralValue(&totals.TotalCollateral, price)
	if err != nil {
		return Status{}, err
	}
	ratio, err := ratioOf(value, &totals.TotalDebt)
	if err != nil {
		return Status{}, err
	}
	fresh := false
	if e.prices != nil {
		fresh = e.prices.IsFresh(e.params.MaxPriceAge) && !price.IsZero()
	}
	return Status{
		TotalCollateral:   clone(&totals.TotalCollateral),
		TotalDebt:         clone(&totals.TotalDebt),
		TotalLiquidations: totals.TotalLiquidations,
		TotalParked:       clone(&totals.TotalParked),
		CollateralValue:   value,
		Ratio:             ratio,
		Price:             clone(price),
		PriceFresh:        fresh,
		VaultCount:        e.store.OwnerCount(),
		Paused:            nativecommon.Guard(e.pauses, ModuleName) != nil,
	}, nil
}

// Owners pages through every account that ever opened a vault, in
// registration order, and reports the registry size.
func (e *Engine) Owners(offset, limit int) ([]crypto.Address, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, 0
	}
	return e.store.Owners(offset, limit), e.store.OwnerCount()
}

// BatchRatios returns CollateralRatio for each account, in input order.
func (e *Engine) BatchRatios(accounts []crypto.Address) ([]*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, ErrNotConfigured
	}
	price := e.currentPrice()
	out := make([]*uint256.Int, 0, len(accounts))
	for _, account := range accounts {
		v := e.store.Get(account)
		value, err := collateralValue(&v.Collateral, price)
		if err != nil {
			return nil, err
		}
		ratio, err := ratioOf(value, &v.Debt)
		if err != nil {
			return nil, err
		}
		out = append(out, ratio)
	}
	return out, nil
}

// LiquidatableVaults scans the registry in registration order and returns at
// most maxResults liquidatable accounts, stopping as soon as the cap is hit.
func (e *Engine) LiquidatableVaults(maxResults int) []crypto.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil || maxResults <= 0 {
		return nil
	}
	price := e.currentPrice()
	total := e.store.OwnerCount()
	out := make([]crypto.Address, 0, min(maxResults, total))
	const page = 256
	for offset := 0; offset < total && len(out) < maxResults; offset += page {
		for _, account := range e.store.Owners(offset, page) {
			if !e.liquidatable(e.store.Get(account), price) {
				continue
			}
			out = append(out, account)
			if len(out) == maxResults {
				break
			}
		}
	}
	return out
}

// RiskiestVaults returns up to limit debt-bearing vaults ordered from the
// lowest collateralisation upwards.
func (e *Engine) RiskiestVaults(limit int) ([]VaultInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, ErrNotConfigured
	}
	price := e.currentPrice()
	accounts := e.store.Riskiest(limit)
	out := make([]VaultInfo, 0, len(accounts))
	for _, account := range accounts {
		info, err := e.vaultInfo(account, price)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}
