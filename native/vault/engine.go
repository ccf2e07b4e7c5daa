package vault

import (
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
	nativecommon "cdpchain/native/common"
	"cdpchain/storage"
)

// ModuleName identifies the vault engine to the pause guard.
const ModuleName = "vault"

// DebtLedger is the debt token consumed by the engine. The engine mints to
// borrowers and pulls repayments with TransferFrom followed by Burn.
type DebtLedger interface {
	Mint(caller, to crypto.Address, amount *uint256.Int) error
	Burn(caller crypto.Address, amount *uint256.Int) error
	TransferFrom(caller, from, to crypto.Address, amount *uint256.Int) bool
	BalanceOf(account crypto.Address) *uint256.Int
}

// PriceSource supplies the collateral price scaled by Precision.
type PriceSource interface {
	LatestPrice() *uint256.Int
	IsFresh(maxAge time.Duration) bool
}

// CollateralBank moves the collateral asset in and out of engine custody.
type CollateralBank interface {
	Receive(from crypto.Address, amount *uint256.Int) error
	Send(to crypto.Address, amount *uint256.Int) error
}

// Stager is implemented by collaborators that persist their pending mutations.
// Stage writes them into batch; ResetStaged runs once the batch is durable.
type Stager interface {
	Stage(batch storage.Batch) error
	ResetStaged()
}

// Engine runs the vault lifecycle and liquidations. Every operation holds a
// single mutex, so operations never interleave and queries never observe a
// half-applied mutation.
type Engine struct {
	mu            sync.Mutex
	moduleAddress crypto.Address
	params        Params
	store         Store
	ledger        DebtLedger
	prices        PriceSource
	bank          CollateralBank
	pauses        nativecommon.PauseView
	events        *events.Buffer
	db            storage.Database
}

// NewEngine constructs an engine acting as moduleAddr. The module address is
// the debt token minter and the custodian of pulled repayments.
func NewEngine(moduleAddr crypto.Address, params Params) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		params:        params.Clone(),
		store:         NewMemStore(),
		events:        events.NewBuffer(nil),
	}
}

// SetStore replaces the vault store.
func (e *Engine) SetStore(store Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
}

// SetLedger wires the debt token.
func (e *Engine) SetLedger(ledger DebtLedger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = ledger
}

// SetPriceSource wires the collateral price feed.
func (e *Engine) SetPriceSource(prices PriceSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices = prices
}

// SetBank wires collateral custody.
func (e *Engine) SetBank(bank CollateralBank) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bank = bank
}

// SetPauses wires the module pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetDatabase makes every successful operation persist the staged state of
// the store, ledger and bank in a single batch. A failed write rolls the
// operation back.
func (e *Engine) SetDatabase(db storage.Database) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.db = db
}

// SetEmitter wires the downstream sink for events published by successful
// operations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.events.SetDownstream(emitter)
}

// Events returns the emitter collaborators should publish through so that
// their events share the fate of the operation that triggered them.
func (e *Engine) Events() events.Emitter {
	return e.events
}

// ModuleAddress returns the engine's own account.
func (e *Engine) ModuleAddress() crypto.Address {
	return e.moduleAddress
}

// Params returns a copy of the active risk parameters.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Clone()
}

// Atomic runs fn under the engine lock with the same rollback and event
// semantics as engine operations. It lets callers sequence collaborator
// mutations (price updates, token transfers) against vault operations.
func (e *Engine) Atomic(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transact(fn)
}

// execute guards, validates wiring and runs fn transactionally.
func (e *Engine) execute(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	return e.transact(fn)
}

func (e *Engine) ready() error {
	if e.store == nil || e.ledger == nil || e.prices == nil || e.bank == nil {
		return ErrNotConfigured
	}
	return nil
}

type snapshotRef struct {
	target Snapshotter
	id     int
}

func (e *Engine) snapshotters() []Snapshotter {
	var out []Snapshotter
	for _, candidate := range []any{e.store, e.ledger, e.bank, e.prices} {
		if s, ok := candidate.(Snapshotter); ok && s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) transact(fn func() error) (err error) {
	targets := e.snapshotters()
	refs := make([]snapshotRef, 0, len(targets))
	for _, target := range targets {
		refs = append(refs, snapshotRef{target: target, id: target.Snapshot()})
	}
	e.events.Hold()

	committed := false
	defer func() {
		if committed {
			return
		}
		for i := len(refs) - 1; i >= 0; i-- {
			refs[i].target.RevertToSnapshot(refs[i].id)
		}
		e.events.Drop()
	}()

	if err = fn(); err != nil {
		return err
	}
	if err = e.persist(); err != nil {
		return err
	}
	for _, ref := range refs {
		ref.target.DiscardSnapshot(ref.id)
	}
	committed = true
	e.events.Release()
	return nil
}

func (e *Engine) persist() error {
	if e.db == nil {
		return nil
	}
	var stagers []Stager
	for _, candidate := range []any{e.store, e.ledger, e.bank} {
		if s, ok := candidate.(Stager); ok && s != nil {
			stagers = append(stagers, s)
		}
	}
	batch := e.db.NewBatch()
	for _, s := range stagers {
		if err := s.Stage(batch); err != nil {
			return fmt.Errorf("stage state: %w", err)
		}
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
	}
	for _, s := range stagers {
		s.ResetStaged()
	}
	return nil
}

func (e *Engine) emit(evt events.Event) {
	e.events.Emit(evt)
}

func (e *Engine) freshPrice() (*uint256.Int, error) {
	if !e.prices.IsFresh(e.params.MaxPriceAge) {
		return nil, ErrPriceStale
	}
	price := e.prices.LatestPrice()
	if price == nil || price.IsZero() {
		return nil, ErrPriceStale
	}
	return price, nil
}

func (e *Engine) currentPrice() *uint256.Int {
	if e.prices == nil {
		return new(uint256.Int)
	}
	price := e.prices.LatestPrice()
	if price == nil {
		return new(uint256.Int)
	}
	return price
}

// checkRatio fails with ErrInsufficientCollateral unless collateral backs debt
// at the entry collateral ratio.
func (e *Engine) checkRatio(collateral, debt, price *uint256.Int) error {
	value, err := collateralValue(collateral, price)
	if err != nil {
		return err
	}
	ok, err := meetsRatio(value, debt, e.params.CollateralRatio)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCollateral
	}
	return nil
}

func (e *Engine) checkMinDebt(debt *uint256.Int) error {
	if !debt.IsZero() && debt.Lt(e.params.MinDebt) {
		return fmt.Errorf("%w: debt %s below minimum %s", ErrAmountTooSmall, debt.Dec(), e.params.MinDebt.Dec())
	}
	return nil
}

// pullDebt moves amount debt tokens from account to the module and burns them.
func (e *Engine) pullDebt(account crypto.Address, amount *uint256.Int) error {
	if !e.ledger.TransferFrom(e.moduleAddress, account, e.moduleAddress, amount) {
		return fmt.Errorf("%w: pull %s debt tokens from %s", ErrTransferFailed, amount.Dec(), account)
	}
	if err := e.ledger.Burn(e.moduleAddress, amount); err != nil {
		return fmt.Errorf("%w: burn repayment: %v", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) sendCollateral(to crypto.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := e.bank.Send(to, amount); err != nil {
		return fmt.Errorf("%w: send %s collateral to %s: %v", ErrTransferFailed, amount.Dec(), to, err)
	}
	return nil
}

func (e *Engine) applyTotals(collateralIn, collateralOut, debtIn, debtOut *uint256.Int) error {
	totals := e.store.Totals()
	collateral, err := add(&totals.TotalCollateral, collateralIn)
	if err != nil {
		return err
	}
	if collateral, err = sub(collateral, collateralOut); err != nil {
		return err
	}
	debt, err := add(&totals.TotalDebt, debtIn)
	if err != nil {
		return err
	}
	if debt, err = sub(debt, debtOut); err != nil {
		return err
	}
	totals.TotalCollateral = *collateral
	totals.TotalDebt = *debt
	e.store.SetTotals(totals)
	return nil
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

var zero = new(uint256.Int)

// OpenOrIncrease deposits collateral and optionally mints debt against it.
// Opening a vault requires minting at least the minimum debt; an existing
// vault may simply top up collateral.
func (e *Engine) OpenOrIncrease(account crypto.Address, collateralDelta, mintAmount *uint256.Int) error {
	if isZero(collateralDelta) {
		return fmt.Errorf("%w: collateral deposit must be positive", ErrAmountTooSmall)
	}
	mint := clone(mintAmount)
	return e.execute(func() error {
		current := e.store.Get(account)
		opening := current.IsEmpty()
		if opening && mint.Lt(e.params.MinDebt) {
			return fmt.Errorf("%w: opening mint %s below minimum %s", ErrAmountTooSmall, mint.Dec(), e.params.MinDebt.Dec())
		}
		newDebt, err := add(&current.Debt, mint)
		if err != nil {
			return err
		}
		if err := e.checkMinDebt(newDebt); err != nil {
			return err
		}
		price, err := e.freshPrice()
		if err != nil {
			return err
		}
		newCollateral, err := add(&current.Collateral, collateralDelta)
		if err != nil {
			return err
		}
		if err := e.checkRatio(newCollateral, newDebt, price); err != nil {
			return err
		}

		if err := e.bank.Receive(account, collateralDelta); err != nil {
			return fmt.Errorf("%w: receive collateral from %s: %v", ErrTransferFailed, account, err)
		}

		e.store.RegisterIfNew(account)
		e.store.Put(account, Vault{Collateral: *newCollateral, Debt: *newDebt})
		if err := e.applyTotals(collateralDelta, zero, mint, zero); err != nil {
			return err
		}
		if !mint.IsZero() {
			if err := e.ledger.Mint(e.moduleAddress, account, mint); err != nil {
				return fmt.Errorf("%w: mint debt: %v", ErrTransferFailed, err)
			}
		}

		if opening {
			e.emit(events.VaultOpened{Account: account, Collateral: clone(newCollateral), Debt: clone(newDebt)})
		}
		e.emit(events.CollateralAdded{Account: account, Amount: clone(collateralDelta), Total: clone(newCollateral)})
		if !mint.IsZero() {
			e.emit(events.DebtIncreased{Account: account, Amount: clone(mint), Total: clone(newDebt)})
		}
		return nil
	})
}

// MintMore issues additional debt against the existing collateral.
func (e *Engine) MintMore(account crypto.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return fmt.Errorf("%w: mint amount must be positive", ErrAmountTooSmall)
	}
	return e.execute(func() error {
		current := e.store.Get(account)
		if current.Collateral.IsZero() {
			return ErrNoVault
		}
		newDebt, err := add(&current.Debt, amount)
		if err != nil {
			return err
		}
		if err := e.checkMinDebt(newDebt); err != nil {
			return err
		}
		price, err := e.freshPrice()
		if err != nil {
			return err
		}
		if err := e.checkRatio(&current.Collateral, newDebt, price); err != nil {
			return err
		}

		e.store.Put(account, Vault{Collateral: current.Collateral, Debt: *newDebt})
		if err := e.applyTotals(zero, zero, amount, zero); err != nil {
			return err
		}
		if err := e.ledger.Mint(e.moduleAddress, account, amount); err != nil {
			return fmt.Errorf("%w: mint debt: %v", ErrTransferFailed, err)
		}
		e.emit(events.DebtIncreased{Account: account, Amount: clone(amount), Total: clone(newDebt)})
		return nil
	})
}

// RepayAndWithdraw repays debt and releases collateral. A full repayment
// returns every unit of collateral; a partial one releases ReleasePercent of
// the collateral in excess of the entry ratio for the remaining debt. It
// returns the collateral released.
func (e *Engine) RepayAndWithdraw(account crypto.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	if isZero(repayAmount) {
		return nil, fmt.Errorf("%w: repayment must be positive", ErrAmountTooSmall)
	}
	released := new(uint256.Int)
	err := e.execute(func() error {
		current := e.store.Get(account)
		if current.Debt.IsZero() {
			return ErrNoVault
		}
		if repayAmount.Gt(&current.Debt) {
			return fmt.Errorf("%w: repay %s exceeds debt %s", ErrExcessiveRepayment, repayAmount.Dec(), current.Debt.Dec())
		}
		remaining, err := sub(&current.Debt, repayAmount)
		if err != nil {
			return err
		}
		full := remaining.IsZero()

		var price *uint256.Int
		if !full {
			if err := e.checkMinDebt(remaining); err != nil {
				return err
			}
			if price, err = e.freshPrice(); err != nil {
				return err
			}
		}

		if err := e.pullDebt(account, repayAmount); err != nil {
			return err
		}

		if full {
			released.Set(&current.Collateral)
		} else {
			required, err := requiredCollateral(remaining, e.params.CollateralRatio, price)
			if err != nil {
				return err
			}
			if current.Collateral.Gt(required) {
				excess := new(uint256.Int).Sub(&current.Collateral, required)
				release, err := percent(excess, e.params.ReleasePercent)
				if err != nil {
					return err
				}
				released.Set(release)
			}
		}
		newCollateral, err := sub(&current.Collateral, released)
		if err != nil {
			return err
		}

		e.store.Put(account, Vault{Collateral: *newCollateral, Debt: *remaining})
		if err := e.applyTotals(zero, released, zero, repayAmount); err != nil {
			return err
		}
		e.emit(events.DebtDecreased{Account: account, Amount: clone(repayAmount), Total: clone(remaining)})
		if !released.IsZero() {
			e.emit(events.CollateralRemoved{Account: account, Amount: clone(released), Total: clone(newCollateral)})
		}
		if full {
			e.emit(events.VaultClosed{Account: account})
		}
		return e.sendCollateral(account, released)
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// RemoveCollateral withdraws collateral while keeping any outstanding debt
// at the entry ratio. The price is not re-checked for freshness unless
// StrictWithdrawFreshness is set.
func (e *Engine) RemoveCollateral(account crypto.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return fmt.Errorf("%w: withdrawal must be positive", ErrAmountTooSmall)
	}
	return e.execute(func() error {
		current := e.store.Get(account)
		if current.Collateral.IsZero() {
			return ErrNoVault
		}
		if amount.Gt(&current.Collateral) {
			return fmt.Errorf("%w: withdraw %s exceeds collateral %s", ErrInsufficientCollateral, amount.Dec(), current.Collateral.Dec())
		}
		newCollateral := new(uint256.Int).Sub(&current.Collateral, amount)
		if !current.Debt.IsZero() {
			price := e.currentPrice()
			if e.params.StrictWithdrawFreshness {
				fresh, err := e.freshPrice()
				if err != nil {
					return err
				}
				price = fresh
			}
			if err := e.checkRatio(newCollateral, &current.Debt, price); err != nil {
				return err
			}
		}

		e.store.Put(account, Vault{Collateral: *newCollateral, Debt: current.Debt})
		if err := e.applyTotals(zero, amount, zero, zero); err != nil {
			return err
		}
		e.emit(events.CollateralRemoved{Account: account, Amount: clone(amount), Total: clone(newCollateral)})
		if newCollateral.IsZero() && current.Debt.IsZero() {
			e.emit(events.VaultClosed{Account: account})
		}
		return e.sendCollateral(account, amount)
	})
}
