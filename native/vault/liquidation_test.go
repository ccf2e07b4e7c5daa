package vault

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// openUnderwater opens a 1 collateral / 1000 debt vault for owner at 2000 and
// a well-collateralised vault for liquidator so it holds debt tokens, then
// moves the price to rate.
func (f *fixture) openUnderwater(owner, liquidator crypto.Address, rate string) {
	f.t.Helper()
	f.fund(owner, units(5))
	f.fund(liquidator, units(20))
	f.open(owner, units(1), units(1000))
	f.open(liquidator, units(10), units(2000))
	f.setPrice(rate)
	f.events.events = nil
}

func TestLiquidationThreshold(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1300")

	ratio, _ := f.engine.CollateralRatio(owner)
	if !ratio.Eq(uint256.NewInt(130)) {
		t.Fatalf("expected 130%% ratio, got %s", ratio.Dec())
	}
	if f.engine.IsLiquidatable(owner) {
		t.Fatalf("ratio at the threshold must not be liquidatable")
	}
	if _, err := f.engine.Liquidate(liquidator, owner, units(100)); !errors.Is(err, ErrVaultNotLiquidatable) {
		t.Fatalf("expected ErrVaultNotLiquidatable, got %v", err)
	}
	if got := f.engine.CalculateLiquidationProfit(owner, units(100)); !got.IsZero() {
		t.Fatalf("healthy vault should project zero profit, got %s", got.Dec())
	}

	f.setPrice("1299.99")
	if !f.engine.IsLiquidatable(owner) {
		t.Fatalf("ratio below the threshold must be liquidatable")
	}
	empty := makeAddress(crypto.AccountPrefix, 0x30)
	if f.engine.IsLiquidatable(empty) {
		t.Fatalf("vault without debt is never liquidatable")
	}
}

func TestLiquidateFullDebtRefundsOwner(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1200")

	ratio, _ := f.engine.CollateralRatio(owner)
	if !ratio.Eq(uint256.NewInt(120)) {
		t.Fatalf("expected 120%% ratio, got %s", ratio.Dec())
	}
	if !f.engine.IsLiquidatable(owner) {
		t.Fatalf("expected vault to be liquidatable")
	}
	profit := f.engine.CalculateLiquidationProfit(owner, units(1000))
	if !profit.Eq(units(50)) {
		t.Fatalf("expected 50 profit, got %s", profit.Dec())
	}

	result, err := f.engine.Liquidate(liquidator, owner, units(1000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	seized := mustDecimal(t, "875000000000000000")
	refund := mustDecimal(t, "125000000000000000")
	if !result.DebtCovered.Eq(units(1000)) || !result.CollateralSeized.Eq(seized) {
		t.Fatalf("unexpected settlement %s/%s", result.DebtCovered.Dec(), result.CollateralSeized.Dec())
	}
	if !result.Refunded.Eq(refund) || !result.Parked.IsZero() || !result.Closed {
		t.Fatalf("unexpected refund %+v", result)
	}
	if !f.store.Get(owner).IsEmpty() {
		t.Fatalf("vault should be closed")
	}
	if got := f.bank.Balance(owner); !got.Eq(mustDecimal(t, "4125000000000000000")) {
		t.Fatalf("unexpected owner collateral %s", got.Dec())
	}
	if got := f.bank.Balance(liquidator); !got.Eq(mustDecimal(t, "10875000000000000000")) {
		t.Fatalf("unexpected liquidator collateral %s", got.Dec())
	}
	if got := f.ledger.BalanceOf(liquidator); !got.Eq(units(1000)) {
		t.Fatalf("unexpected liquidator tokens %s", got.Dec())
	}
	if f.store.Totals().TotalLiquidations != 1 {
		t.Fatalf("expected one liquidation, got %d", f.store.Totals().TotalLiquidations)
	}
	if f.events.count(events.TypeVaultLiquidated) != 1 || f.events.count(events.TypeVaultClosed) != 1 {
		t.Fatalf("unexpected events %v", f.events.types())
	}
	f.checkInvariants()
}

func TestLiquidatePartial(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1200")

	_, err := f.engine.Liquidate(liquidator, owner, units(995))
	if !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected dust remainder to be rejected, got %v", err)
	}
	if _, err := f.engine.Liquidate(liquidator, owner, nil); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected zero cover to be rejected, got %v", err)
	}

	result, err := f.engine.Liquidate(liquidator, owner, units(500))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Closed || !result.Refunded.IsZero() {
		t.Fatalf("partial liquidation must leave the vault open: %+v", result)
	}
	v := f.store.Get(owner)
	if !v.Debt.Eq(units(500)) || !v.Collateral.Eq(mustDecimal(t, "562500000000000000")) {
		t.Fatalf("unexpected vault %s/%s", v.Collateral.Dec(), v.Debt.Dec())
	}
	if f.engine.IsLiquidatable(owner) {
		t.Fatalf("partial liquidation should restore the vault above the threshold")
	}

	// Over-covering clamps to the outstanding debt.
	f.setPrice("1000")
	result, err = f.engine.Liquidate(liquidator, owner, units(10_000))
	if err != nil {
		t.Fatalf("liquidate remainder: %v", err)
	}
	if !result.DebtCovered.Eq(units(500)) || !result.Closed {
		t.Fatalf("expected clamp to remaining debt: %+v", result)
	}
	if !result.CollateralSeized.Eq(mustDecimal(t, "525000000000000000")) || !result.Refunded.Eq(mustDecimal(t, "37500000000000000")) {
		t.Fatalf("unexpected settlement %+v", result)
	}
	if f.store.Totals().TotalLiquidations != 2 {
		t.Fatalf("expected two liquidations")
	}
	f.checkInvariants()
}

func TestLiquidateReclampsWhenCollateralShort(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1000")

	// 1 collateral is worth 1000; at a 5% bonus it buys 1000*100/105 of debt.
	cover := mustDecimal(t, "952380952380952380952")
	profit := f.engine.CalculateLiquidationProfit(owner, units(1000))
	if want := new(uint256.Int).Sub(units(1000), cover); !profit.Eq(want) {
		t.Fatalf("expected profit %s, got %s", want.Dec(), profit.Dec())
	}

	result, err := f.engine.Liquidate(liquidator, owner, units(1000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !result.DebtCovered.Eq(cover) || !result.CollateralSeized.Eq(units(1)) {
		t.Fatalf("unexpected reclamp %s/%s", result.DebtCovered.Dec(), result.CollateralSeized.Dec())
	}
	leftover := new(uint256.Int).Sub(units(1000), cover)
	if !result.RemainingDebt.Eq(leftover) || result.Closed || !result.Refunded.IsZero() {
		t.Fatalf("uncovered debt must stay on the vault: %+v", result)
	}
	v := f.store.Get(owner)
	if !v.Collateral.IsZero() || !v.Debt.Eq(leftover) {
		t.Fatalf("unexpected vault %s/%s", v.Collateral.Dec(), v.Debt.Dec())
	}
	if got := f.ledger.BalanceOf(liquidator); !got.Eq(new(uint256.Int).Sub(units(2000), cover)) {
		t.Fatalf("liquidator should pay only the reclamped cover, has %s", got.Dec())
	}
	if f.events.count(events.TypeVaultClosed) != 0 {
		t.Fatalf("vault with debt must not close: %v", f.events.types())
	}
	f.checkInvariants()

	// Nothing is left to seize, so a further liquidation settles nothing.
	if _, err := f.engine.Liquidate(liquidator, owner, units(10)); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall on an exhausted vault, got %v", err)
	}
	if got := f.engine.CalculateLiquidationProfit(owner, units(10)); !got.IsZero() {
		t.Fatalf("exhausted vault should project zero profit, got %s", got.Dec())
	}
}

func TestLiquidationProfitMatchesSettlementRules(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1200")

	// Covering 995 of 1000 would leave 5 tokens of debt, below MinDebt.
	if got := f.engine.CalculateLiquidationProfit(owner, units(995)); !got.IsZero() {
		t.Fatalf("rejected cover should project zero profit, got %s", got.Dec())
	}
	if _, err := f.engine.Liquidate(liquidator, owner, units(995)); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}

	// 990 leaves exactly MinDebt and settles at the projected profit.
	profit := f.engine.CalculateLiquidationProfit(owner, units(990))
	if !profit.Eq(mustDecimal(t, "49500000000000000000")) {
		t.Fatalf("unexpected projection %s", profit.Dec())
	}
	result, err := f.engine.Liquidate(liquidator, owner, units(990))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !result.RemainingDebt.Eq(units(10)) {
		t.Fatalf("unexpected remaining debt %s", result.RemainingDebt.Dec())
	}
	f.checkInvariants()
}

func TestLiquidateParksFailedRefund(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1200")
	f.bank.BlockRecipient(owner)

	result, err := f.engine.Liquidate(liquidator, owner, units(1000))
	if err != nil {
		t.Fatalf("liquidation must proceed when the refund fails: %v", err)
	}
	parked := mustDecimal(t, "125000000000000000")
	if !result.Parked.Eq(parked) || !result.Refunded.IsZero() {
		t.Fatalf("expected refund to be parked: %+v", result)
	}
	if f.events.count(events.TypeRefundParked) != 1 {
		t.Fatalf("expected parked event: %v", f.events.types())
	}
	info, _ := f.engine.VaultInfo(owner)
	if !info.Parked.Eq(parked) {
		t.Fatalf("vault info should report parked collateral, got %s", info.Parked.Dec())
	}
	f.checkInvariants()

	if _, err := f.engine.ClaimParked(owner); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected claim to fail while blocked, got %v", err)
	}
	if got := f.store.Parked(owner); !got.Eq(parked) {
		t.Fatalf("failed claim must keep parked balance, got %s", got.Dec())
	}

	f.bank.UnblockRecipient(owner)
	claimed, err := f.engine.ClaimParked(owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed.Eq(parked) {
		t.Fatalf("unexpected claim %s", claimed.Dec())
	}
	if _, err := f.engine.ClaimParked(owner); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
	if totals := f.store.Totals(); !totals.TotalParked.IsZero() {
		t.Fatalf("parked total should be cleared")
	}
	f.checkInvariants()
}

func TestLiquidateSeizeFailureRevertsEverything(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	f.openUnderwater(owner, liquidator, "1200")
	before := f.store.Get(owner)
	totals := f.store.Totals()
	f.bank.BlockRecipient(liquidator)

	_, err := f.engine.Liquidate(liquidator, owner, units(1000))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if after := f.store.Get(owner); after != before {
		t.Fatalf("vault not restored")
	}
	if f.store.Totals() != totals {
		t.Fatalf("totals not restored")
	}
	if got := f.ledger.BalanceOf(liquidator); !got.Eq(units(2000)) {
		t.Fatalf("liquidator tokens not restored: %s", got.Dec())
	}
	if got := f.bank.Balance(owner); !got.Eq(units(4)) {
		t.Fatalf("owner refund not reverted: %s", got.Dec())
	}
	if len(f.events.events) != 0 {
		t.Fatalf("reverted liquidation emitted %v", f.events.types())
	}
	f.checkInvariants()
}

func TestLiquidateWithoutTokensFails(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	liquidator := makeAddress(crypto.AccountPrefix, 0x20)
	broke := makeAddress(crypto.AccountPrefix, 0x21)
	f.openUnderwater(owner, liquidator, "1200")
	f.ledger.Approve(broke, f.module, new(uint256.Int).SetAllOne())

	if _, err := f.engine.Liquidate(broke, owner, units(1000)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if f.store.Totals().TotalLiquidations != 0 {
		t.Fatalf("failed liquidation must not count")
	}
	f.checkInvariants()
}
