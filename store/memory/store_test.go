package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/internal/storetest"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/store/memory"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, beacon.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := storetest.NewSubscription("deal.won")
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSubscription(ctx, sub.ID)
	got.EventTypes[0] = "mutated"
	got.Headers["X-Tenant"] = "mutated"

	again, _ := s.GetSubscription(ctx, sub.ID)
	if again.EventTypes[0] != "deal.won" || again.Headers["X-Tenant"] != "acme" {
		t.Fatalf("store state leaked through a read: %+v", again)
	}
}
