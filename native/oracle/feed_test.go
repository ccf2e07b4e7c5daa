package oracle

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

func makeAddress(b byte) crypto.Address {
	return crypto.NewAddress(crypto.ModulePrefix, bytes.Repeat([]byte{b}, 20))
}

func TestFeedFreshness(t *testing.T) {
	owner := makeAddress(0x01)
	feed := NewFeed(owner)
	now := time.Unix(1_700_000_000, 0)
	feed.SetClock(func() time.Time { return now })

	if feed.IsFresh(time.Hour) {
		t.Fatalf("unset feed must be stale")
	}
	if err := feed.SetDecimal(owner, "2000", "test"); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if !feed.IsFresh(time.Hour) {
		t.Fatalf("expected fresh price")
	}
	now = now.Add(time.Hour)
	if !feed.IsFresh(time.Hour) {
		t.Fatalf("price exactly max age old should be fresh")
	}
	now = now.Add(time.Second)
	if feed.IsFresh(time.Hour) {
		t.Fatalf("expected stale price")
	}
}

func TestFeedOwnerOnly(t *testing.T) {
	owner := makeAddress(0x01)
	feed := NewFeed(owner)
	if err := feed.SetPrice(makeAddress(0x02), uint256.NewInt(1), ""); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := feed.SetPrice(owner, uint256.NewInt(0), ""); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestFeedEmitsPriceUpdated(t *testing.T) {
	owner := makeAddress(0x01)
	feed := NewFeed(owner)
	var got []events.Event
	feed.SetEmitter(events.EmitterFunc(func(evt events.Event) { got = append(got, evt) }))
	if err := feed.SetDecimal(owner, "1200", "manual"); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if len(got) != 1 || got[0].EventType() != events.TypePriceUpdated {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestParseDecimal(t *testing.T) {
	price, err := ParseDecimal("2000.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want, _ := uint256.FromDecimal("2000500000000000000000")
	if !price.Eq(want) {
		t.Fatalf("unexpected price %s", price.Dec())
	}
	if FormatDecimal(price) != "2000.500000000000000000" {
		t.Fatalf("unexpected format %s", FormatDecimal(price))
	}
	if _, err := ParseDecimal("-1"); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if _, err := FromRat(big.NewRat(1, 2_000_000_000_000_000_000)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected sub-precision rate to be rejected, got %v", err)
	}
}
