package idempotency

import (
	"context"
	"testing"
	"time"
)

type fakeBackend struct {
	values map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: map[string]string{}}
}

func (f *fakeBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeBackend) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func (f *fakeBackend) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.values[key] = value.(string)
	return nil
}

func TestStore_RegisterOrGet_FirstWriterWins(t *testing.T) {
	store := New(newFakeBackend(), "idempotency:payment:")

	r1, err := store.RegisterOrGet(context.Background(), "k1", `{"booking_id":"1"}`, 24*time.Hour)
	if err != nil {
		t.Fatalf("RegisterOrGet: %v", err)
	}
	if !r1.First {
		t.Fatal("expected first registration to win")
	}

	r2, err := store.RegisterOrGet(context.Background(), "k1", `{"booking_id":"2"}`, 24*time.Hour)
	if err != nil {
		t.Fatalf("RegisterOrGet replay: %v", err)
	}
	if r2.First {
		t.Fatal("expected replay to report First=false")
	}
	if r2.Stored != r1.Stored {
		t.Fatalf("replay returned different value: got %s want %s", r2.Stored, r1.Stored)
	}
}

func TestStore_DistinctPrefixesDoNotCollide(t *testing.T) {
	backend := newFakeBackend()
	paymentStore := New(backend, "idempotency:payment:")
	webhookStore := New(backend, "idempotency:webhook:")

	if _, err := paymentStore.RegisterOrGet(context.Background(), "k1", "payment-value", time.Hour); err != nil {
		t.Fatalf("RegisterOrGet: %v", err)
	}

	r, err := webhookStore.RegisterOrGet(context.Background(), "k1", "webhook-value", time.Hour)
	if err != nil {
		t.Fatalf("RegisterOrGet: %v", err)
	}
	if !r.First {
		t.Fatal("same token under a different prefix must not collide")
	}
}

func TestStore_Complete_OverwritesReservation(t *testing.T) {
	store := New(newFakeBackend(), "idempotency:booking:")
	ctx := context.Background()

	r1, err := store.RegisterOrGet(ctx, "k1", "RESERVED", time.Hour)
	if err != nil || !r1.First {
		t.Fatalf("RegisterOrGet: %v (first=%v)", err, r1.First)
	}

	if err := store.Complete(ctx, "k1", `{"booking_id":"final"}`, time.Hour); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	r2, err := store.RegisterOrGet(ctx, "k1", "RESERVED", time.Hour)
	if err != nil {
		t.Fatalf("RegisterOrGet replay: %v", err)
	}
	if r2.First {
		t.Fatal("expected replay after Complete to report First=false")
	}
	if r2.Stored != `{"booking_id":"final"}` {
		t.Fatalf("expected replay to return the completed value, got %s", r2.Stored)
	}
}

func TestStore_Clear(t *testing.T) {
	store := New(newFakeBackend(), "idempotency:payment:")
	ctx := context.Background()

	if _, err := store.RegisterOrGet(ctx, "k1", "v1", time.Hour); err != nil {
		t.Fatalf("RegisterOrGet: %v", err)
	}
	if err := store.Clear(ctx, "k1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	r, err := store.RegisterOrGet(ctx, "k1", "v2", time.Hour)
	if err != nil {
		t.Fatalf("RegisterOrGet after clear: %v", err)
	}
	if !r.First {
		t.Fatal("expected key to be claimable again after Clear")
	}
}
