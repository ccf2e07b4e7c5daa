package indexer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/goleak"

	"cdpchain/core/events"
	"cdpchain/crypto"
	"cdpchain/services/vaultd/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN("indexer_" + strings.ReplaceAll(t.Name(), "/", "_")))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordExtractsAccount(t *testing.T) {
	store := openStore(t)
	ix, err := New(store)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	account := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength))
	rec, err := ix.Record(context.Background(), events.DebtIncreased{Account: account, Amount: uint256.NewInt(5), Total: uint256.NewInt(15)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Seq == 0 || rec.ID == "" || rec.Account != account.String() {
		t.Fatalf("unexpected record: %+v", rec)
	}
	listed, err := store.ListEvents(context.Background(), storage.EventQuery{Account: account.String()})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Type != events.TypeDebtIncreased {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

func TestRunDrainsBus(t *testing.T) {
	store := openStore(t)
	ix, err := New(store)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	bus := events.NewBus()
	sub := bus.Subscribe(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx, sub) }()

	account := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, crypto.AddressLength))
	bus.Emit(events.VaultOpened{Account: account, Collateral: uint256.NewInt(1), Debt: new(uint256.Int)})
	bus.Emit(events.VaultClosed{Account: account})

	deadline := time.Now().Add(2 * time.Second)
	for {
		listed, err := store.ListEvents(context.Background(), storage.EventQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(listed) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 indexed events, got %d", len(listed))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("subscription should be closed on exit")
	}
}
