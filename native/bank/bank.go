package bank

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
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInvalidAccount      = errors.New("bank: account required")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInsufficientCustody = errors.New("bank: insufficient custody balance")
	ErrRecipientBlocked    = errors.New("bank: recipient rejected transfer")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
)

// Bank holds the collateral asset. Account balances represent funds users can
// deposit; the custody balance is what the engine currently holds on their
// behalf.
type Bank struct {
	mu       sync.RWMutex
	asset    string
	balances map[crypto.Address]*uint256.Int
	custody  *uint256.Int
	blocked  map[crypto.Address]bool
	journal  *state.Journal
	emitter  events.Emitter
	changes  *bankChanges
}

// New constructs an empty bank for asset.
func New(asset string) *Bank {
	return &Bank{
		asset:    asset,
		balances: make(map[crypto.Address]*uint256.Int),
		custody:  new(uint256.Int),
		blocked:  make(map[crypto.Address]bool),
		journal:  state.NewJournal(),
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter wires the sink receiving collateral transfer events.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	b.mu.Lock()
	b.emitter = emitter
	b.mu.Unlock()
}

// Asset returns the collateral asset symbol.
func (b *Bank) Asset() string { return b.asset }

// Credit adds freshly issued collateral to account. It is used for genesis
// allocations and faucets.
func (b *Bank) Credit(account crypto.Address, amount *uint256.Int) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next, overflow := new(uint256.Int).AddOverflow(b.balanceLocked(account), amount)
	if overflow {
		return ErrBalanceOverflow
	}
	b.setBalanceLocked(account, next)
	return nil
}

// Balance returns the free collateral held by account.
func (b *Bank) Balance(account crypto.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(uint256.Int).Set(b.balanceLocked(account))
}

// Custody returns the collateral held by the engine.
func (b *Bank) Custody() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(uint256.Int).Set(b.custody)
}

// Receive moves amount from account into custody.
func (b *Bank) Receive(from crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	balance, underflow := new(uint256.Int).SubOverflow(b.balanceLocked(from), amount)
	if underflow {
		have := b.balanceLocked(from).Dec()
		b.mu.Unlock()
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount.Dec())
	}
	custody, overflow := new(uint256.Int).AddOverflow(b.custody, amount)
	if overflow {
		b.mu.Unlock()
		return ErrBalanceOverflow
	}
	b.setBalanceLocked(from, balance)
	b.setCustodyLocked(custody)
	emitter := b.emitter
	b.mu.Unlock()

	emitter.Emit(events.CollateralTransfer{Asset: b.asset, Account: from, Direction: events.DirectionIn, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Send releases amount from custody to account. Blocked recipients reject the
// transfer.
func (b *Bank) Send(to crypto.Address, amount *uint256.Int) error {
	if to.IsZero() {
		return ErrInvalidAccount
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	if b.blocked[to] {
		b.mu.Unlock()
		return ErrRecipientBlocked
	}
	custody, underflow := new(uint256.Int).SubOverflow(b.custody, amount)
	if underflow {
		b.mu.Unlock()
		return ErrInsufficientCustody
	}
	balance, overflow := new(uint256.Int).AddOverflow(b.balanceLocked(to), amount)
	if overflow {
		b.mu.Unlock()
		return ErrBalanceOverflow
	}
	b.setCustodyLocked(custody)
	b.setBalanceLocked(to, balance)
	emitter := b.emitter
	b.mu.Unlock()

	emitter.Emit(events.CollateralTransfer{Asset: b.asset, Account: to, Direction: events.DirectionOut, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// BlockRecipient makes every future Send to account fail.
func (b *Bank) BlockRecipient(account crypto.Address) {
	b.mu.Lock()
	b.blocked[account] = true
	b.mu.Unlock()
}

// UnblockRecipient lifts a previous BlockRecipient.
func (b *Bank) UnblockRecipient(account crypto.Address) {
	b.mu.Lock()
	delete(b.blocked, account)
	b.mu.Unlock()
}

// Snapshot marks the current bank state so it can be restored.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.journal.Snapshot()
}

// RevertToSnapshot restores balances and custody to the marked state.
func (b *Bank) RevertToSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal.RevertToSnapshot(id)
}

// DiscardSnapshot keeps every change made since the snapshot.
func (b *Bank) DiscardSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal.DiscardSnapshot(id)
}

func (b *Bank) balanceLocked(account crypto.Address) *uint256.Int {
	if balance, ok := b.balances[account]; ok {
		return balance
	}
	return new(uint256.Int)
}

func (b *Bank) setBalanceLocked(account crypto.Address, balance *uint256.Int) {
	prev, existed := b.balances[account]
	b.changes.balance(account)
	b.journal.Append(func() {
		if existed {
			b.balances[account] = prev
		} else {
			delete(b.balances, account)
		}
	})
	if balance.IsZero() {
		delete(b.balances, account)
		return
	}
	b.balances[account] = balance
}

func (b *Bank) setCustodyLocked(custody *uint256.Int) {
	prev := b.custody
	b.changes.markCustody()
	b.journal.Append(func() { b.custody = prev })
	b.custody = custody
}
