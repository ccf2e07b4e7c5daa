package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	name := "vaultd_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := Open(MemoryDSN(name))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordSnapshotAndLatest(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	pair := PairKey("usd", "eth")
	if _, err := store.LatestSnapshot(ctx, pair); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sample := Sample{Source: "Alpha", Price: "2000.000000000000000000", ObservedAt: time.Unix(1700000000, 0), RecordedAt: time.Unix(1700000100, 0)}
	if err := store.RecordSample(ctx, pair, sample); err != nil {
		t.Fatalf("record sample: %v", err)
	}
	snap := Snapshot{Pair: pair, Median: "2000.000000000000000000", Feeders: []string{"alpha"}, ProofID: "proof", ObservedAt: time.Unix(1700000100, 0)}
	if err := store.RecordSnapshot(ctx, snap); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
	latest, err := store.LatestSnapshot(ctx, "USD/ETH")
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if latest.Median != "2000.000000000000000000" || latest.ProofID != "proof" {
		t.Fatalf("unexpected snapshot: %+v", latest)
	}
	if len(latest.Feeders) != 1 || latest.Feeders[0] != "alpha" {
		t.Fatalf("unexpected feeders: %+v", latest.Feeders)
	}
	samples, err := store.RecentSamples(ctx, pair, 10)
	if err != nil {
		t.Fatalf("recent samples: %v", err)
	}
	if len(samples) != 1 || samples[0].Source != "alpha" || !samples[0].ObservedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected samples: %+v", samples)
	}
}

func TestPruneSamples(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	old := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		recorded := old.Add(time.Duration(i) * time.Hour)
		if err := store.RecordSample(ctx, "USD/ETH", Sample{Source: "a", Price: "1", ObservedAt: recorded, RecordedAt: recorded}); err != nil {
			t.Fatalf("record sample: %v", err)
		}
	}
	removed, err := store.PruneSamples(ctx, old.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned samples, got %d", removed)
	}
}

func TestEventIndexFilters(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	records := []EventRecord{
		{ID: "e1", Type: "vault.opened", Account: "cdp1a", Attributes: map[string]string{"collateral": "1"}},
		{ID: "e2", Type: "vault.debt_increased", Account: "cdp1a"},
		{ID: "e3", Type: "vault.opened", Account: "cdp1b"},
	}
	for _, rec := range records {
		if _, err := store.RecordEvent(ctx, rec); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}
	all, err := store.ListEvents(ctx, EventQuery{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 3 || all[0].ID != "e3" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	opened, err := store.ListEvents(ctx, EventQuery{Type: "vault.opened"})
	if err != nil {
		t.Fatalf("list opened: %v", err)
	}
	if len(opened) != 2 {
		t.Fatalf("expected 2 opened events, got %d", len(opened))
	}
	forA, err := store.ListEvents(ctx, EventQuery{Account: "cdp1a", BeforeID: all[0].Seq})
	if err != nil {
		t.Fatalf("list account: %v", err)
	}
	if len(forA) != 2 || forA[1].Attributes["collateral"] != "1" {
		t.Fatalf("unexpected account events: %+v", forA)
	}
	if _, err := store.RecordEvent(ctx, EventRecord{ID: "e1", Type: "dup"}); err == nil {
		t.Fatalf("expected duplicate event id to be rejected")
	}
}

func TestFileDSN(t *testing.T) {
	if _, err := FileDSN("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	dsn, err := FileDSN("data/vaultd.sqlite")
	if err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/") || !strings.Contains(dsn, "journal_mode(WAL)") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
}
