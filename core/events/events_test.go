package events

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

type recorder struct {
	events []Event
}

func (r *recorder) Emit(evt Event) { r.events = append(r.events, evt) }

func TestBufferHoldsUntilRelease(t *testing.T) {
	rec := &recorder{}
	buf := NewBuffer(rec)

	buf.Emit(VaultClosed{})
	if len(rec.events) != 1 {
		t.Fatalf("expected passthrough while not held")
	}

	buf.Hold()
	buf.Emit(VaultOpened{})
	buf.Emit(CollateralAdded{})
	if len(rec.events) != 1 || buf.Pending() != 2 {
		t.Fatalf("expected events to be queued, got %d delivered %d pending", len(rec.events), buf.Pending())
	}
	buf.Release()
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 events after release, got %d", len(rec.events))
	}
	if rec.events[1].EventType() != TypeVaultOpened || rec.events[2].EventType() != TypeCollateralAdded {
		t.Fatalf("events released out of order")
	}
}

func TestBufferDropDiscards(t *testing.T) {
	rec := &recorder{}
	buf := NewBuffer(rec)
	buf.Hold()
	buf.Emit(VaultOpened{})
	buf.Drop()
	buf.Release()
	if len(rec.events) != 0 {
		t.Fatalf("expected dropped events to stay unpublished")
	}
}

func TestBusFanOutAndDrop(t *testing.T) {
	sink := &recorder{}
	bus := NewBus(sink)
	fast := bus.Subscribe(4)
	slow := bus.Subscribe(1)
	defer fast.Close()

	bus.Emit(VaultClosed{})
	bus.Emit(VaultClosed{})

	if len(sink.events) != 2 {
		t.Fatalf("expected sink to see every event")
	}
	if got := len(fast.C()); got != 2 {
		t.Fatalf("expected fast subscriber to queue 2 events, got %d", got)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", bus.Dropped())
	}
	slow.Close()
	slow.Close()
	if bus.Subscribers() != 1 {
		t.Fatalf("expected one subscriber left")
	}
}

func TestVaultLiquidatedRender(t *testing.T) {
	account := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{1}, 20))
	liquidator := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{2}, 20))
	evt := Render(VaultLiquidated{
		Account:          account,
		Liquidator:       liquidator,
		DebtCovered:      uint256.NewInt(1000),
		CollateralSeized: uint256.NewInt(875),
		Refunded:         uint256.NewInt(0),
		RemainingDebt:    uint256.NewInt(0),
	})
	if evt.Type != TypeVaultLiquidated {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["account"] != account.String() || evt.Attributes["liquidator"] != liquidator.String() {
		t.Fatalf("unexpected addresses: %+v", evt.Attributes)
	}
	if evt.Attributes["debtCovered"] != "1000" || evt.Attributes["collateralSeized"] != "875" {
		t.Fatalf("unexpected amounts: %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["refunded"]; ok {
		t.Fatalf("zero refund should be omitted")
	}
	if evt.Attributes["remainingDebt"] != "0" {
		t.Fatalf("remaining debt should always be reported: %+v", evt.Attributes)
	}
}
