package attendance

import (
	"context"
	"errors"
	"testing"

	"classmon/internal/model"
	"classmon/internal/storage"
)

func TestLogAccessUnknownUIDStrict(t *testing.T) {
	store := storage.NewMemory()
	c := NewCorrelator(store, nil)
	_, err := c.LogAccess(context.Background(), "DEADBEEF", model.ActionEntry, Strict)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	logs, err := store.AccessLog(context.Background(), 10)
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("rejected scan must not write an entry, got %d", len(logs))
	}
}

func TestRegisterThenLog(t *testing.T) {
	store := storage.NewMemory()
	c := NewCorrelator(store, nil)
	ctx := context.Background()
	card, err := c.RegisterCard(ctx, "AB12CD34", "Ada")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if card.CardID == "" {
		t.Fatalf("register must allocate a card id")
	}
	res, err := c.LogAccess(ctx, "AB12CD34", model.ActionEntry, Strict)
	if err != nil {
		t.Fatalf("log access: %v", err)
	}
	if res.Card.CardID != card.CardID {
		t.Fatalf("entry must reference the registered card")
	}
	if res.Entry.Action != model.ActionEntry {
		t.Fatalf("unexpected action %q", res.Entry.Action)
	}
}

func TestLogAccessDefaultsToEntry(t *testing.T) {
	store := storage.NewMemory()
	c := NewCorrelator(store, nil)
	ctx := context.Background()
	if _, err := c.RegisterCard(ctx, "CAFE01", "Grace"); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := c.LogAccess(ctx, "CAFE01", "", Strict)
	if err != nil {
		t.Fatalf("log access: %v", err)
	}
	if res.Entry.Action != model.ActionEntry {
		t.Fatalf("missing action must default to ENTRY, got %q", res.Entry.Action)
	}
}

func TestLogAccessUnknownUIDBestEffort(t *testing.T) {
	store := storage.NewMemory()
	c := NewCorrelator(store, nil)
	res, err := c.LogAccess(context.Background(), "DEADBEEF", model.ActionEntry, BestEffort)
	if err != nil {
		t.Fatalf("best effort must swallow the miss, got %v", err)
	}
	if res != nil {
		t.Fatalf("best effort miss must return nil result")
	}
}

func TestDuplicateUIDNewestWins(t *testing.T) {
	store := storage.NewMemory()
	c := NewCorrelator(store, nil)
	ctx := context.Background()
	if _, err := c.RegisterCard(ctx, "AB12", "Old Owner"); err != nil {
		t.Fatalf("register: %v", err)
	}
	newest, err := c.RegisterCard(ctx, "AB12", "New Owner")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := c.LogAccess(ctx, "AB12", model.ActionEntry, Strict)
	if err != nil {
		t.Fatalf("log access: %v", err)
	}
	if res.Card.CardID != newest.CardID {
		t.Fatalf("duplicate uid must resolve to the newest registration")
	}
}
