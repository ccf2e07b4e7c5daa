package token

import (
	"bytes"
	"errors"
	"fmt"

	"cdpchain/core/state"
	"cdpchain/crypto"
	"cdpchain/storage"
)

type ledgerChanges struct {
	balances   state.Dirty[crypto.Address]
	allowances state.Dirty[allowanceKey]
	supply     bool
}

func (c *ledgerChanges) balance(account crypto.Address) {
	if c != nil {
		c.balances.Mark(account)
	}
}

func (c *ledgerChanges) allowance(key allowanceKey) {
	if c != nil {
		c.allowances.Mark(key)
	}
}

func (c *ledgerChanges) markSupply() {
	if c != nil {
		c.supply = true
	}
}

func (l *Ledger) prefix(kind string) []byte {
	return []byte("token/" + l.symbol + "/" + kind + "/")
}

func (l *Ledger) supplyKey() []byte {
	return []byte("token/" + l.symbol + "/supply")
}

func (l *Ledger) balanceKey(account crypto.Address) []byte {
	return append(l.prefix("balance"), account.String()...)
}

func (l *Ledger) allowanceKey(key allowanceKey) []byte {
	return append(l.prefix("allowance"), key.owner.String()+"/"+key.spender.String()...)
}

// Attach loads balances, allowances and supply persisted in db and starts
// tracking changes for Stage.
func (l *Ledger) Attach(db storage.Database) error {
	if db == nil {
		return fmt.Errorf("token ledger: database required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balancePrefix := l.prefix("balance")
	err := db.Iterate(balancePrefix, func(key, value []byte) error {
		account, err := crypto.DecodeAddress(string(key[len(balancePrefix):]))
		if err != nil {
			return fmt.Errorf("token ledger: balance key %q: %w", key, err)
		}
		amount, err := state.DecodeAmount(value)
		if err != nil {
			return err
		}
		l.balances[account] = amount
		return nil
	})
	if err != nil {
		return err
	}

	allowancePrefix := l.prefix("allowance")
	err = db.Iterate(allowancePrefix, func(key, value []byte) error {
		parts := bytes.SplitN(key[len(allowancePrefix):], []byte("/"), 2)
		if len(parts) != 2 {
			return fmt.Errorf("token ledger: malformed allowance key %q", key)
		}
		owner, err := crypto.DecodeAddress(string(parts[0]))
		if err != nil {
			return fmt.Errorf("token ledger: allowance owner: %w", err)
		}
		spender, err := crypto.DecodeAddress(string(parts[1]))
		if err != nil {
			return fmt.Errorf("token ledger: allowance spender: %w", err)
		}
		amount, err := state.DecodeAmount(value)
		if err != nil {
			return err
		}
		l.allowances[allowanceKey{owner: owner, spender: spender}] = amount
		return nil
	})
	if err != nil {
		return err
	}

	raw, err := db.Get(l.supplyKey())
	switch {
	case err == nil:
		supply, err := state.DecodeAmount(raw)
		if err != nil {
			return err
		}
		l.supply = supply
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	l.changes = &ledgerChanges{}
	return nil
}

// Stage writes every balance, allowance and supply change since the last
// successful persist.
func (l *Ledger) Stage(batch storage.Batch) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.changes == nil {
		return nil
	}
	for _, account := range l.changes.balances.Keys() {
		if err := state.PutAmount(batch, l.balanceKey(account), l.balanceLocked(account)); err != nil {
			return err
		}
	}
	for _, key := range l.changes.allowances.Keys() {
		if err := state.PutAmount(batch, l.allowanceKey(key), l.allowanceLocked(key.owner, key.spender)); err != nil {
			return err
		}
	}
	if l.changes.supply {
		if err := state.PutAmount(batch, l.supplyKey(), l.supply); err != nil {
			return err
		}
	}
	return nil
}

// ResetStaged forgets the changes written by the last Stage.
func (l *Ledger) ResetStaged() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.changes != nil {
		l.changes = &ledgerChanges{}
	}
}
