package vault

import (
	"github.com/holiman/uint256"

	"cdpchain/core/state"
	"cdpchain/crypto"
)

// Snapshotter is implemented by collaborators whose mutations can be rolled
// back when an operation fails part way through.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Store persists vaults, totals and the owner registry. It performs no
// validation; the engine maintains every invariant.
type Store interface {
	Snapshotter
	Get(account crypto.Address) Vault
	Put(account crypto.Address, vault Vault)
	Totals() Totals
	SetTotals(totals Totals)
	RegisterIfNew(account crypto.Address) bool
	Owners(offset, limit int) []crypto.Address
	OwnerCount() int
	Parked(account crypto.Address) uint256.Int
	SetParked(account crypto.Address, amount uint256.Int)
	Riskiest(limit int) []crypto.Address
}

// MemStore is the in-memory Store. It is not safe for concurrent use; the
// engine serialises every access.
type MemStore struct {
	vaults  map[crypto.Address]Vault
	totals  Totals
	owners  []crypto.Address
	members map[crypto.Address]struct{}
	parked  map[crypto.Address]uint256.Int
	risk    *riskIndex
	journal *state.Journal
	changes *changeSet
}

// NewMemStore constructs an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		vaults:  make(map[crypto.Address]Vault),
		members: make(map[crypto.Address]struct{}),
		parked:  make(map[crypto.Address]uint256.Int),
		risk:    newRiskIndex(),
		journal: state.NewJournal(),
	}
}

// Get returns the vault for account, zero valued when absent.
func (s *MemStore) Get(account crypto.Address) Vault {
	return s.vaults[account]
}

// Put replaces the vault stored for account.
func (s *MemStore) Put(account crypto.Address, vault Vault) {
	prev, existed := s.vaults[account]
	s.changes.vault(account)
	s.journal.Append(func() {
		if existed {
			s.put(account, prev)
		} else {
			s.put(account, Vault{})
			delete(s.vaults, account)
		}
	})
	s.put(account, vault)
}

func (s *MemStore) put(account crypto.Address, vault Vault) {
	prev := s.vaults[account]
	s.risk.remove(account, prev)
	s.vaults[account] = vault
	s.risk.insert(account, vault)
}

func (s *MemStore) Totals() Totals {
	return s.totals
}

func (s *MemStore) SetTotals(totals Totals) {
	prev := s.totals
	s.changes.markTotals()
	s.journal.Append(func() { s.totals = prev })
	s.totals = totals
}

// RegisterIfNew appends account to the owner registry the first time it is
// seen and reports whether it was added.
func (s *MemStore) RegisterIfNew(account crypto.Address) bool {
	if _, ok := s.members[account]; ok {
		return false
	}
	s.members[account] = struct{}{}
	s.owners = append(s.owners, account)
	s.changes.owner(len(s.owners) - 1)
	s.journal.Append(func() {
		delete(s.members, account)
		s.owners = s.owners[:len(s.owners)-1]
	})
	return true
}

// Owners returns up to limit registered accounts starting at offset, in
// registration order.
func (s *MemStore) Owners(offset, limit int) []crypto.Address {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.owners) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(s.owners) || end < offset {
		end = len(s.owners)
	}
	out := make([]crypto.Address, end-offset)
	copy(out, s.owners[offset:end])
	return out
}

func (s *MemStore) OwnerCount() int {
	return len(s.owners)
}

// Parked returns collateral held back for account after a failed refund.
func (s *MemStore) Parked(account crypto.Address) uint256.Int {
	return s.parked[account]
}

func (s *MemStore) SetParked(account crypto.Address, amount uint256.Int) {
	prev, existed := s.parked[account]
	s.changes.parked(account)
	s.journal.Append(func() {
		if existed {
			s.parked[account] = prev
		} else {
			delete(s.parked, account)
		}
	})
	if amount.IsZero() {
		delete(s.parked, account)
		return
	}
	s.parked[account] = amount
}

// Riskiest returns up to limit debt-bearing accounts ordered from the lowest
// collateral to debt ratio.
func (s *MemStore) Riskiest(limit int) []crypto.Address {
	return s.risk.ascending(limit)
}

func (s *MemStore) Snapshot() int {
	return s.journal.Snapshot()
}

func (s *MemStore) RevertToSnapshot(id int) {
	s.journal.RevertToSnapshot(id)
}

func (s *MemStore) DiscardSnapshot(id int) {
	s.journal.DiscardSnapshot(id)
}
