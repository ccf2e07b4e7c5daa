package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	pauses := NewPauseSet()
	if err := Guard(pauses, "vault"); err != nil {
		t.Fatalf("expected unpaused module, got %v", err)
	}
	pauses.Set(" Vault ", true)
	if err := Guard(pauses, "vault"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if got := pauses.Paused(); len(got) != 1 || got[0] != "vault" {
		t.Fatalf("unexpected paused list %v", got)
	}
	pauses.Set("vault", false)
	if err := Guard(pauses, "vault"); err != nil {
		t.Fatalf("expected resumed module, got %v", err)
	}
}

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "vault"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var pauses *PauseSet
	if pauses.IsPaused("vault") {
		t.Fatalf("nil pause set must report unpaused")
	}
}
