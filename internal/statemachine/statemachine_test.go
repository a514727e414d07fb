package statemachine

import (
	"context"
	"testing"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

type fakeAudit struct {
	entries []*domain.AuditLog
}

func (f *fakeAudit) Record(ctx context.Context, entry *domain.AuditLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestMachine_TransitionTo_Allowed(t *testing.T) {
	audit := &fakeAudit{}
	m := NewBookingMachine(audit)
	entityID := uuid.New()
	actorID := uuid.New()

	if err := m.TransitionTo(context.Background(), entityID, domain.BookingPending, domain.BookingHeld, actorID, "RIDER", "seat hold acquired"); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	if audit.entries[0].Changes["to"] != "HELD" {
		t.Fatalf("unexpected audit payload: %+v", audit.entries[0].Changes)
	}
}

func TestMachine_TransitionTo_Illegal(t *testing.T) {
	audit := &fakeAudit{}
	m := NewBookingMachine(audit)

	err := m.TransitionTo(context.Background(), uuid.New(), domain.BookingPending, domain.BookingCompleted, uuid.New(), "RIDER", "skip ahead")
	if err == nil {
		t.Fatal("expected error for illegal transition")
	}
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Kind != apierr.KindConflict {
		t.Fatalf("expected KindConflict, got %v", apiErr.Kind)
	}
	if len(audit.entries) != 0 {
		t.Fatal("illegal transition must not write an audit row")
	}
}

func TestMachine_TransitionTo_SameState(t *testing.T) {
	m := NewPaymentMachine(&fakeAudit{})
	err := m.TransitionTo(context.Background(), uuid.New(), domain.PaymentPending, domain.PaymentPending, uuid.New(), "SYSTEM", "noop")
	if err == nil {
		t.Fatal("expected error transitioning to the same state")
	}
}

func TestMachine_CanTransition(t *testing.T) {
	m := NewPaymentMachine(&fakeAudit{})
	if !m.CanTransition(domain.PaymentPending, domain.PaymentSuccess) {
		t.Fatal("expected PENDING -> SUCCESS to be legal")
	}
	if m.CanTransition(domain.PaymentSuccess, domain.PaymentPending) {
		t.Fatal("expected SUCCESS -> PENDING to be illegal (terminal-bound table)")
	}
}

func TestBookingTable_CoversEveryNonTerminalState(t *testing.T) {
	for _, state := range []domain.BookingStatus{
		domain.BookingPending, domain.BookingHeld, domain.BookingPaymentInitiated,
		domain.BookingPaid, domain.BookingConfirmed, domain.BookingCheckedIn,
	} {
		if len(BookingTable[state]) == 0 {
			t.Fatalf("non-terminal state %v has no outbound transitions", state)
		}
	}
}
