package seats

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

type fakeRedis struct {
	sets map[string]map[string]bool
	kv   map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string]map[string]bool{}, kv: map[string]string{}}
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) error {
	set, ok := f.sets[key]
	if !ok {
		set = map[string]bool{}
		f.sets[key] = set
	}
	for _, m := range members {
		set[toString(m)] = true
	}
	return nil
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) error {
	set, ok := f.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, toString(m))
	}
	return nil
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) ([]string, error) {
	set := f.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeRedis) Delete(ctx context.Context, key string) error {
	delete(f.kv, key)
	return nil
}

func (f *fakeRedis) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.kv[key] = toString(value)
	return nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return ""
	}
}

func TestEngine_AvailableCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	routeID := uuid.New()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(2),
	)

	redis := newFakeRedis()
	redis.sets[heldSetKey(routeID, "2026-08-01")] = map[string]bool{"3": true}

	engine := New(db, redis)
	available, err := engine.AvailableCount(context.Background(), routeID, "2026-08-01", 10)
	if err != nil {
		t.Fatalf("AvailableCount: %v", err)
	}
	if available != 7 {
		t.Fatalf("expected 7 available (10-2-1), got %d", available)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEngine_HoldRejectsContendedSeat(t *testing.T) {
	routeID := uuid.New()
	redis := newFakeRedis()
	redis.sets[heldSetKey(routeID, "2026-08-01")] = map[string]bool{"1": true}

	engine := New(nil, redis)
	err := engine.Hold(context.Background(), routeID, "2026-08-01", []int{1, 2}, uuid.New(), time.Hour)
	if err == nil {
		t.Fatal("expected SEAT_CONTENDED error")
	}
}

func TestEngine_HoldThenRelease(t *testing.T) {
	routeID := uuid.New()
	redis := newFakeRedis()
	bookingID := uuid.New()

	engine := New(nil, redis)
	if err := engine.Hold(context.Background(), routeID, "2026-08-01", []int{4, 5}, bookingID, time.Hour); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	held, err := engine.heldSeatNumbers(context.Background(), routeID, "2026-08-01")
	if err != nil || len(held) != 2 {
		t.Fatalf("expected 2 held seats, got %v (err=%v)", held, err)
	}

	if err := engine.Release(context.Background(), routeID, "2026-08-01", []int{4, 5}, bookingID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	held, err = engine.heldSeatNumbers(context.Background(), routeID, "2026-08-01")
	if err != nil || len(held) != 0 {
		t.Fatalf("expected held seats cleared, got %v", held)
	}
}
