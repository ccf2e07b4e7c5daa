package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// liquidationPlan is the pricing of a liquidation before settlement.
type liquidationPlan struct {
	cover         *uint256.Int
	seize         *uint256.Int
	remainingDebt *uint256.Int
}

// planLiquidation clamps cover to the vault debt and prices the seizure at the
// liquidation bonus. When the bonus-adjusted seizure exceeds the collateral,
// the whole collateral is seized and cover shrinks to what it buys. The debt
// left on the vault must be zero or at least MinDebt.
func (e *Engine) planLiquidation(v Vault, debtToCover, price *uint256.Int) (liquidationPlan, error) {
	cover := clone(debtToCover)
	if cover.Gt(&v.Debt) {
		cover.Set(&v.Debt)
	}
	bonus := 100 + e.params.LiquidationBonus
	seizeValue, err := percent(cover, bonus)
	if err != nil {
		return liquidationPlan{}, err
	}
	seize, err := mulDiv(seizeValue, Precision, price)
	if err != nil {
		return liquidationPlan{}, err
	}
	plan := liquidationPlan{cover: cover, seize: seize}
	if seize.Gt(&v.Collateral) {
		value, err := collateralValue(&v.Collateral, price)
		if err != nil {
			return liquidationPlan{}, err
		}
		reclamped, err := mulDiv(value, hundred, uint256.NewInt(bonus))
		if err != nil {
			return liquidationPlan{}, err
		}
		plan.cover = reclamped
		plan.seize = clone(&v.Collateral)
	}
	if plan.cover.IsZero() || plan.seize.IsZero() {
		return liquidationPlan{}, fmt.Errorf("%w: liquidation settles nothing", ErrAmountTooSmall)
	}
	remaining, err := sub(&v.Debt, plan.cover)
	if err != nil {
		return liquidationPlan{}, err
	}
	if err := e.checkMinDebt(remaining); err != nil {
		return liquidationPlan{}, err
	}
	plan.remainingDebt = remaining
	return plan, nil
}

func (e *Engine) liquidatable(v Vault, price *uint256.Int) bool {
	if v.Debt.IsZero() || price.IsZero() {
		return false
	}
	value, err := collateralValue(&v.Collateral, price)
	if err != nil {
		return false
	}
	ratio, err := ratioOf(value, &v.Debt)
	if err != nil {
		return false
	}
	return ratio.Lt(uint256.NewInt(e.params.LiquidationThreshold))
}

// IsLiquidatable reports whether the vault carries debt and its ratio at the
// current price is below the liquidation threshold.
func (e *Engine) IsLiquidatable(account crypto.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return false
	}
	return e.liquidatable(e.store.Get(account), e.currentPrice())
}

// Liquidate repays up to debtToCover of the account's debt on behalf of the
// liquidator and transfers the bonus-adjusted collateral to them. If the
// vault's debt reaches zero the leftover collateral is refunded to the owner;
// a failed refund is parked for ClaimParked instead of blocking the
// liquidation. When the whole collateral is seized the uncovered debt stays on
// the vault.
func (e *Engine) Liquidate(liquidator, account crypto.Address, debtToCover *uint256.Int) (LiquidationResult, error) {
	var result LiquidationResult
	err := e.execute(func() error {
		current := e.store.Get(account)
		price := e.currentPrice()
		if !e.liquidatable(current, price) {
			return ErrVaultNotLiquidatable
		}
		if isZero(debtToCover) {
			return fmt.Errorf("%w: debt to cover must be positive", ErrAmountTooSmall)
		}
		plan, err := e.planLiquidation(current, debtToCover, price)
		if err != nil {
			return err
		}

		if err := e.pullDebt(liquidator, plan.cover); err != nil {
			return err
		}

		remainingCollateral, err := sub(&current.Collateral, plan.seize)
		if err != nil {
			return err
		}
		closed := plan.remainingDebt.IsZero()
		refund := new(uint256.Int)
		if closed {
			refund.Set(remainingCollateral)
			remainingCollateral.Clear()
		}

		e.store.Put(account, Vault{Collateral: *remainingCollateral, Debt: *plan.remainingDebt})
		collateralOut, err := add(plan.seize, refund)
		if err != nil {
			return err
		}
		if err := e.applyTotals(zero, collateralOut, zero, plan.cover); err != nil {
			return err
		}
		totals := e.store.Totals()
		totals.TotalLiquidations++
		e.store.SetTotals(totals)

		parked := new(uint256.Int)
		if !refund.IsZero() {
			if refundErr := e.refundOwner(account, refund); refundErr != nil {
				if err := e.park(account, refund); err != nil {
					return err
				}
				parked.Set(refund)
				e.emit(events.RefundParked{Account: account, Amount: clone(refund), Reason: refundErr.Error()})
			}
		}

		result = LiquidationResult{
			DebtCovered:      clone(plan.cover),
			CollateralSeized: clone(plan.seize),
			Refunded:         new(uint256.Int).Sub(refund, parked),
			Parked:           parked,
			RemainingDebt:    clone(plan.remainingDebt),
			Closed:           closed,
		}
		e.emit(events.VaultLiquidated{
			Account:          account,
			Liquidator:       liquidator,
			DebtCovered:      clone(plan.cover),
			CollateralSeized: clone(plan.seize),
			Refunded:         clone(result.Refunded),
			RemainingDebt:    clone(plan.remainingDebt),
		})
		if closed {
			e.emit(events.VaultClosed{Account: account})
		}
		return e.sendCollateral(liquidator, plan.seize)
	})
	if err != nil {
		return LiquidationResult{}, err
	}
	return result, nil
}

// refundOwner attempts the best-effort refund, rolling back whatever the bank
// did if the send fails.
func (e *Engine) refundOwner(account crypto.Address, amount *uint256.Int) error {
	snap, ok := e.bank.(Snapshotter)
	if !ok {
		return e.bank.Send(account, amount)
	}
	id := snap.Snapshot()
	if err := e.bank.Send(account, amount); err != nil {
		snap.RevertToSnapshot(id)
		return err
	}
	snap.DiscardSnapshot(id)
	return nil
}

func (e *Engine) park(account crypto.Address, amount *uint256.Int) error {
	current := e.store.Parked(account)
	next, err := add(&current, amount)
	if err != nil {
		return err
	}
	e.store.SetParked(account, *next)
	totals := e.store.Totals()
	total, err := add(&totals.TotalParked, amount)
	if err != nil {
		return err
	}
	totals.TotalParked = *total
	e.store.SetTotals(totals)
	return nil
}

// ClaimParked releases collateral parked by a failed liquidation refund. A
// failed transfer leaves the parked balance untouched.
func (e *Engine) ClaimParked(account crypto.Address) (*uint256.Int, error) {
	var claimed *uint256.Int
	err := e.execute(func() error {
		parked := e.store.Parked(account)
		if parked.IsZero() {
			return ErrNothingToClaim
		}
		amount := clone(&parked)
		e.store.SetParked(account, uint256.Int{})
		totals := e.store.Totals()
		total, err := sub(&totals.TotalParked, amount)
		if err != nil {
			return err
		}
		totals.TotalParked = *total
		e.store.SetTotals(totals)
		e.emit(events.ParkedClaimed{Account: account, Amount: clone(amount)})
		claimed = amount
		return e.sendCollateral(account, amount)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CalculateLiquidationProfit projects the liquidator's gain, in debt token
// units, from covering debtToCover at the current price. It returns zero when
// the vault is not liquidatable or Liquidate would reject the cover.
func (e *Engine) CalculateLiquidationProfit(account crypto.Address, debtToCover *uint256.Int) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil || isZero(debtToCover) {
		return new(uint256.Int)
	}
	current := e.store.Get(account)
	price := e.currentPrice()
	if !e.liquidatable(current, price) {
		return new(uint256.Int)
	}
	plan, err := e.planLiquidation(current, debtToCover, price)
	if err != nil {
		return new(uint256.Int)
	}
	received, err := collateralValue(plan.seize, price)
	if err != nil || !received.Gt(plan.cover) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(received, plan.cover)
}
