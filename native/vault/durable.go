package vault

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"cdpchain/core/state"
	"cdpchain/crypto"
	"cdpchain/storage"
)

var (
	vaultRecordPrefix = []byte("vault/record/")
	vaultParkedPrefix = []byte("vault/parked/")
	vaultOwnerPrefix  = []byte("vault/owner/")
	vaultTotalsKey    = []byte("vault/totals")
)

type vaultRecord struct {
	Collateral *big.Int
	Debt       *big.Int
}

type totalsRecord struct {
	Collateral   *big.Int
	Debt         *big.Int
	Liquidations uint64
	Parked       *big.Int
}

// changeSet remembers which records a MemStore must persist. A nil changeSet
// tracks nothing, which is the case until the store is attached to a
// database.
type changeSet struct {
	vaults state.Dirty[crypto.Address]
	parkd  state.Dirty[crypto.Address]
	owners state.Dirty[int]
	totals bool
}

func (c *changeSet) vault(account crypto.Address) {
	if c != nil {
		c.vaults.Mark(account)
	}
}

func (c *changeSet) parked(account crypto.Address) {
	if c != nil {
		c.parkd.Mark(account)
	}
}

func (c *changeSet) owner(index int) {
	if c != nil {
		c.owners.Mark(index)
	}
}

func (c *changeSet) markTotals() {
	if c != nil {
		c.totals = true
	}
}

func recordKey(prefix []byte, account crypto.Address) []byte {
	return append(append([]byte{}, prefix...), account.String()...)
}

func ownerKey(index int) []byte {
	key := append([]byte{}, vaultOwnerPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(index))
}

// Attach loads any vault state persisted in db and starts tracking changes so
// that Stage can write them back. It must be called before the store is used.
func (s *MemStore) Attach(db storage.Database) error {
	if db == nil {
		return fmt.Errorf("vault store: database required")
	}
	err := db.Iterate(vaultOwnerPrefix, func(_, value []byte) error {
		account, err := crypto.DecodeAddress(string(value))
		if err != nil {
			return fmt.Errorf("vault store: owner %q: %w", value, err)
		}
		if _, ok := s.members[account]; !ok {
			s.members[account] = struct{}{}
			s.owners = append(s.owners, account)
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = db.Iterate(vaultRecordPrefix, func(key, value []byte) error {
		account, err := crypto.DecodeAddress(string(key[len(vaultRecordPrefix):]))
		if err != nil {
			return fmt.Errorf("vault store: record key %q: %w", key, err)
		}
		var rec vaultRecord
		if err := state.DecodeRecord(value, &rec); err != nil {
			return err
		}
		collateral, err := state.AmountFromBig(rec.Collateral)
		if err != nil {
			return err
		}
		debt, err := state.AmountFromBig(rec.Debt)
		if err != nil {
			return err
		}
		s.put(account, Vault{Collateral: *collateral, Debt: *debt})
		return nil
	})
	if err != nil {
		return err
	}
	err = db.Iterate(vaultParkedPrefix, func(key, value []byte) error {
		account, err := crypto.DecodeAddress(string(key[len(vaultParkedPrefix):]))
		if err != nil {
			return fmt.Errorf("vault store: parked key %q: %w", key, err)
		}
		amount, err := state.DecodeAmount(value)
		if err != nil {
			return err
		}
		s.parked[account] = *amount
		return nil
	})
	if err != nil {
		return err
	}
	var totals totalsRecord
	found, err := state.GetRecord(db, vaultTotalsKey, &totals)
	if err != nil {
		return err
	}
	if found {
		restored := Totals{TotalLiquidations: totals.Liquidations}
		for _, field := range []struct {
			src *big.Int
			dst *uint256.Int
		}{
			{totals.Collateral, &restored.TotalCollateral},
			{totals.Debt, &restored.TotalDebt},
			{totals.Parked, &restored.TotalParked},
		} {
			amount, err := state.AmountFromBig(field.src)
			if err != nil {
				return err
			}
			field.dst.Set(amount)
		}
		s.totals = restored
	}
	s.changes = &changeSet{}
	return nil
}

// Stage writes every record changed since the last successful persist.
func (s *MemStore) Stage(batch storage.Batch) error {
	if s.changes == nil {
		return nil
	}
	for _, account := range s.changes.vaults.Keys() {
		key := recordKey(vaultRecordPrefix, account)
		v, ok := s.vaults[account]
		if !ok || v.IsEmpty() {
			batch.Delete(key)
			continue
		}
		if err := state.PutRecord(batch, key, vaultRecord{Collateral: v.Collateral.ToBig(), Debt: v.Debt.ToBig()}); err != nil {
			return err
		}
	}
	for _, account := range s.changes.parkd.Keys() {
		amount := s.parked[account]
		if err := state.PutAmount(batch, recordKey(vaultParkedPrefix, account), &amount); err != nil {
			return err
		}
	}
	for _, index := range s.changes.owners.Keys() {
		if index >= len(s.owners) {
			batch.Delete(ownerKey(index))
			continue
		}
		batch.Put(ownerKey(index), []byte(s.owners[index].String()))
	}
	if s.changes.totals {
		rec := totalsRecord{
			Collateral:   s.totals.TotalCollateral.ToBig(),
			Debt:         s.totals.TotalDebt.ToBig(),
			Liquidations: s.totals.TotalLiquidations,
			Parked:       s.totals.TotalParked.ToBig(),
		}
		if err := state.PutRecord(batch, vaultTotalsKey, rec); err != nil {
			return err
		}
	}
	return nil
}

// ResetStaged forgets the changes written by the last Stage.
func (s *MemStore) ResetStaged() {
	if s.changes != nil {
		s.changes = &changeSet{}
	}
}
