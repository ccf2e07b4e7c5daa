package bank

import (
	"errors"
	"fmt"

	"cdpchain/core/state"
	"cdpchain/crypto"
	"cdpchain/storage"
)

type bankChanges struct {
	balances state.Dirty[crypto.Address]
	custody  bool
}

func (c *bankChanges) balance(account crypto.Address) {
	if c != nil {
		c.balances.Mark(account)
	}
}

func (c *bankChanges) markCustody() {
	if c != nil {
		c.custody = true
	}
}

func (b *Bank) balancePrefix() []byte {
	return []byte("bank/" + b.asset + "/balance/")
}

func (b *Bank) custodyKey() []byte {
	return []byte("bank/" + b.asset + "/custody")
}

// Attach loads balances and custody persisted in db and starts tracking
// changes for Stage. It reports whether any state was found, so callers can
// tell a fresh database from a restart.
func (b *Bank) Attach(db storage.Database) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("bank: database required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	prefix := b.balancePrefix()
	err := db.Iterate(prefix, func(key, value []byte) error {
		account, err := crypto.DecodeAddress(string(key[len(prefix):]))
		if err != nil {
			return fmt.Errorf("bank: balance key %q: %w", key, err)
		}
		amount, err := state.DecodeAmount(value)
		if err != nil {
			return err
		}
		b.balances[account] = amount
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	raw, err := db.Get(b.custodyKey())
	switch {
	case err == nil:
		custody, err := state.DecodeAmount(raw)
		if err != nil {
			return false, err
		}
		b.custody = custody
		found = true
	case !errors.Is(err, storage.ErrNotFound):
		return false, err
	}
	b.changes = &bankChanges{}
	return found, nil
}

// Stage writes every balance and custody change since the last successful
// persist. Custody is always written once anything changed, which marks the
// database as initialised.
func (b *Bank) Stage(batch storage.Batch) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.changes == nil {
		return nil
	}
	for _, account := range b.changes.balances.Keys() {
		if err := state.PutAmount(batch, append(b.balancePrefix(), account.String()...), b.balanceLocked(account)); err != nil {
			return err
		}
	}
	if b.changes.custody || b.changes.balances.Len() > 0 {
		encoded, err := state.EncodeAmount(b.custody)
		if err != nil {
			return err
		}
		batch.Put(b.custodyKey(), encoded)
	}
	return nil
}

// ResetStaged forgets the changes written by the last Stage.
func (b *Bank) ResetStaged() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.changes != nil {
		b.changes = &bankChanges{}
	}
}
