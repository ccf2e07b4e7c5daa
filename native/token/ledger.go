package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/core/state"
	"cdpchain/crypto"
)

var (
	ErrNotOwner              = errors.New("token ledger: caller is not the owner")
	ErrInvalidAmount         = errors.New("token ledger: amount must be positive")
	ErrInvalidRecipient      = errors.New("token ledger: recipient required")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
	ErrSupplyOverflow        = errors.New("token ledger: supply overflow")
)

type allowanceKey struct {
	owner   crypto.Address
	spender crypto.Address
}

// Ledger is the in-memory debt token. Only the owner may mint; every other
// operation acts on behalf of the explicit caller.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	owner      crypto.Address
	balances   map[crypto.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
	journal    *state.Journal
	emitter    events.Emitter
	changes    *ledgerChanges
}

// NewLedger constructs an empty ledger minted by owner.
func NewLedger(symbol string, owner crypto.Address) *Ledger {
	return &Ledger{
		symbol:     symbol,
		owner:      owner,
		balances:   make(map[crypto.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     new(uint256.Int),
		journal:    state.NewJournal(),
		emitter:    events.NoopEmitter{},
	}
}

// SetEmitter wires the sink receiving transfer, approval and supply events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.mu.Lock()
	l.emitter = emitter
	l.mu.Unlock()
}

// Symbol returns the token ticker.
func (l *Ledger) Symbol() string { return l.symbol }

// Owner returns the account allowed to mint.
func (l *Ledger) Owner() crypto.Address { return l.owner }

// TotalSupply returns the outstanding supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.supply)
}

// BalanceOf returns the balance held by account.
func (l *Ledger) BalanceOf(account crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.balanceLocked(account))
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.allowanceLocked(owner, spender))
}

// Mint creates amount tokens for to. Only the owner may mint.
func (l *Ledger) Mint(caller, to crypto.Address, amount *uint256.Int) error {
	if caller != l.owner {
		return ErrNotOwner
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrInvalidRecipient
	}
	l.mu.Lock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		l.mu.Unlock()
		return ErrSupplyOverflow
	}
	balance := new(uint256.Int).Add(l.balanceLocked(to), amount)
	l.setSupplyLocked(supply)
	l.setBalanceLocked(to, balance)
	emitter := l.emitter
	l.mu.Unlock()

	emitter.Emit(events.TokenTransfer{Token: l.symbol, To: to, Amount: new(uint256.Int).Set(amount)})
	emitter.Emit(events.TokenSupply{Token: l.symbol, Total: supply, Delta: new(uint256.Int).Set(amount), Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount tokens from the caller's own balance.
func (l *Ledger) Burn(caller crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if err := l.burnLocked(caller, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	supply := new(uint256.Int).Set(l.supply)
	emitter := l.emitter
	l.mu.Unlock()

	l.emitBurn(emitter, caller, amount, supply)
	return nil
}

// BurnFrom destroys amount tokens held by from, consuming the caller's
// allowance.
func (l *Ledger) BurnFrom(caller, from crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	if err := l.spendAllowanceLocked(from, caller, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.burnLocked(from, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	supply := new(uint256.Int).Set(l.supply)
	emitter := l.emitter
	l.mu.Unlock()

	l.emitBurn(emitter, from, amount, supply)
	return nil
}

// Transfer moves amount from the caller to to. It reports false instead of
// returning an error so callers can treat it as a plain success flag.
func (l *Ledger) Transfer(caller, to crypto.Address, amount *uint256.Int) bool {
	return l.TransferChecked(caller, to, amount) == nil
}

// TransferChecked is Transfer with the failure reason.
func (l *Ledger) TransferChecked(caller, to crypto.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrInvalidRecipient
	}
	l.mu.Lock()
	if err := l.moveLocked(caller, to, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	emitter := l.emitter
	l.mu.Unlock()

	emitter.Emit(events.TokenTransfer{Token: l.symbol, From: caller, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount from from to to using the caller's allowance.
func (l *Ledger) TransferFrom(caller, from, to crypto.Address, amount *uint256.Int) bool {
	return l.TransferFromChecked(caller, from, to, amount) == nil
}

// TransferFromChecked is TransferFrom with the failure reason.
func (l *Ledger) TransferFromChecked(caller, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrInvalidRecipient
	}
	l.mu.Lock()
	snapshot := l.journal.Snapshot()
	if err := l.spendAllowanceLocked(from, caller, amount); err != nil {
		l.journal.RevertToSnapshot(snapshot)
		l.mu.Unlock()
		return err
	}
	if err := l.moveLocked(from, to, amount); err != nil {
		l.journal.RevertToSnapshot(snapshot)
		l.mu.Unlock()
		return err
	}
	l.journal.DiscardSnapshot(snapshot)
	emitter := l.emitter
	l.mu.Unlock()

	emitter.Emit(events.TokenTransfer{Token: l.symbol, From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Approve sets the allowance spender may draw from the caller.
func (l *Ledger) Approve(caller, spender crypto.Address, amount *uint256.Int) bool {
	if amount == nil || spender.IsZero() {
		return false
	}
	l.mu.Lock()
	l.setAllowanceLocked(caller, spender, new(uint256.Int).Set(amount))
	emitter := l.emitter
	l.mu.Unlock()

	emitter.Emit(events.TokenApproval{Token: l.symbol, Owner: caller, Spender: spender, Amount: new(uint256.Int).Set(amount)})
	return true
}

// Snapshot marks the current ledger state so it can be restored.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.journal.Snapshot()
}

// RevertToSnapshot restores the ledger to the marked state.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal.RevertToSnapshot(id)
}

// DiscardSnapshot keeps every change made since the snapshot.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal.DiscardSnapshot(id)
}

func (l *Ledger) emitBurn(emitter events.Emitter, from crypto.Address, amount, supply *uint256.Int) {
	emitter.Emit(events.TokenTransfer{Token: l.symbol, From: from, Amount: new(uint256.Int).Set(amount)})
	emitter.Emit(events.TokenSupply{Token: l.symbol, Total: supply, Delta: new(uint256.Int).Set(amount), Reason: events.SupplyReasonBurn})
}

func (l *Ledger) burnLocked(from crypto.Address, amount *uint256.Int) error {
	balance, underflow := new(uint256.Int).SubOverflow(l.balanceLocked(from), amount)
	if underflow {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, l.balanceLocked(from).Dec(), amount.Dec())
	}
	supply, underflow := new(uint256.Int).SubOverflow(l.supply, amount)
	if underflow {
		return ErrSupplyOverflow
	}
	l.setBalanceLocked(from, balance)
	l.setSupplyLocked(supply)
	return nil
}

func (l *Ledger) moveLocked(from, to crypto.Address, amount *uint256.Int) error {
	fromBalance, underflow := new(uint256.Int).SubOverflow(l.balanceLocked(from), amount)
	if underflow {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, l.balanceLocked(from).Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	toBalance, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(to), amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.setBalanceLocked(from, fromBalance)
	l.setBalanceLocked(to, toBalance)
	return nil
}

func (l *Ledger) spendAllowanceLocked(owner, spender crypto.Address, amount *uint256.Int) error {
	if owner == spender {
		return nil
	}
	current := l.allowanceLocked(owner, spender)
	if isUnlimited(current) {
		return nil
	}
	remaining, underflow := new(uint256.Int).SubOverflow(current, amount)
	if underflow {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, current.Dec(), amount.Dec())
	}
	l.setAllowanceLocked(owner, spender, remaining)
	return nil
}

func (l *Ledger) balanceLocked(account crypto.Address) *uint256.Int {
	if balance, ok := l.balances[account]; ok {
		return balance
	}
	return new(uint256.Int)
}

func (l *Ledger) allowanceLocked(owner, spender crypto.Address) *uint256.Int {
	if allowance, ok := l.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return allowance
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalanceLocked(account crypto.Address, balance *uint256.Int) {
	prev, existed := l.balances[account]
	l.changes.balance(account)
	l.journal.Append(func() {
		if existed {
			l.balances[account] = prev
		} else {
			delete(l.balances, account)
		}
	})
	if balance.IsZero() {
		delete(l.balances, account)
		return
	}
	l.balances[account] = balance
}

func (l *Ledger) setAllowanceLocked(owner, spender crypto.Address, allowance *uint256.Int) {
	key := allowanceKey{owner: owner, spender: spender}
	prev, existed := l.allowances[key]
	l.changes.allowance(key)
	l.journal.Append(func() {
		if existed {
			l.allowances[key] = prev
		} else {
			delete(l.allowances, key)
		}
	})
	if allowance.IsZero() {
		delete(l.allowances, key)
		return
	}
	l.allowances[key] = allowance
}

func (l *Ledger) setSupplyLocked(supply *uint256.Int) {
	prev := l.supply
	l.changes.markSupply()
	l.journal.Append(func() { l.supply = prev })
	l.supply = supply
}

func isUnlimited(v *uint256.Int) bool {
	return v.Eq(maxUint256)
}

var maxUint256 = new(uint256.Int).SetAllOne()
