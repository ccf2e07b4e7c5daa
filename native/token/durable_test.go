package token

import (
	"testing"

	"github.com/holiman/uint256"

	"cdpchain/crypto"
	"cdpchain/storage"
)

func TestLedgerPersistsThroughStage(t *testing.T) {
	db := storage.NewMemDB()
	owner := makeAddress(crypto.ModulePrefix, 0x01)
	alice := makeAddress(crypto.AccountPrefix, 0x02)
	bob := makeAddress(crypto.AccountPrefix, 0x03)

	ledger := NewLedger("cdpusd", owner)
	if err := ledger.Attach(db); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := ledger.Mint(owner, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !ledger.Approve(alice, bob, uint256.NewInt(40)) {
		t.Fatalf("approve rejected")
	}
	if err := ledger.TransferChecked(alice, bob, uint256.NewInt(100)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	batch := db.NewBatch()
	if err := ledger.Stage(batch); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	ledger.ResetStaged()

	restored := NewLedger("cdpusd", owner)
	if err := restored.Attach(db); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if !restored.BalanceOf(alice).IsZero() {
		t.Fatalf("drained balance must not be restored, got %s", restored.BalanceOf(alice))
	}
	if got := restored.BalanceOf(bob); !got.Eq(uint256.NewInt(100)) {
		t.Fatalf("unexpected bob balance %s", got)
	}
	if got := restored.Allowance(alice, bob); !got.Eq(uint256.NewInt(40)) {
		t.Fatalf("unexpected allowance %s", got)
	}
	if got := restored.TotalSupply(); !got.Eq(uint256.NewInt(100)) {
		t.Fatalf("unexpected supply %s", got)
	}

	other := NewLedger("other", owner)
	if err := other.Attach(db); err != nil {
		t.Fatalf("attach other symbol: %v", err)
	}
	if !other.TotalSupply().IsZero() {
		t.Fatalf("ledgers with different symbols must not share state")
	}
}

func TestUnattachedLedgerStagesNothing(t *testing.T) {
	owner := makeAddress(crypto.ModulePrefix, 0x01)
	ledger := NewLedger("cdpusd", owner)
	if err := ledger.Mint(owner, owner, uint256.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	batch := storage.NewMemDB().NewBatch()
	if err := ledger.Stage(batch); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if batch.Len() != 0 {
		t.Fatalf("expected no staged writes, got %d", batch.Len())
	}
}
