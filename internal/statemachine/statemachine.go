// Package statemachine implements the generic transition-table harness
// shared by the Booking and Payment cores: every status
// change is validated against a declared table and recorded to the audit
// log in the same call, so no core ever mutates a status column without
// leaving a trail.
package statemachine

import (
	"context"
	"fmt"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

// State is any of the platform's string-enum statuses (BookingStatus,
// PaymentStatus, ...), constrained to a single reusable type parameter.
type State interface {
	~string
}

// Table declares, for each state, the set of states it may transition to.
// A state absent from the map or with no matching entry has no legal
// outbound transitions.
type Table[S State] map[S][]S

// Allows reports whether the table permits moving from `from` to `to`.
func (t Table[S]) Allows(from, to S) bool {
	for _, candidate := range t[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AuditRecorder is the subset of audit.Repository the machine needs,
// kept as an interface so state-machine tests can supply a fake.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditLog) error
}

// Machine evaluates transitions against Table and records each accepted
// one to the audit log.
type Machine[S State] struct {
	table      Table[S]
	entityType string
	audit      AuditRecorder
}

// New builds a Machine for one entity type (e.g. "booking", "payment").
func New[S State](table Table[S], entityType string, audit AuditRecorder) *Machine[S] {
	return &Machine[S]{table: table, entityType: entityType, audit: audit}
}

// TransitionTo validates that from -> to is legal and, if so, writes an
// audit row describing the change. It does not persist the new state
// itself — callers own their own repository update, inside the same
// transaction/lock scope, and call TransitionTo to validate + audit it.
func (m *Machine[S]) TransitionTo(ctx context.Context, entityID uuid.UUID, from, to S, actorID uuid.UUID, actorRole, reason string) error {
	if from == to {
		return apierr.Conflict("ALREADY_IN_STATE", fmt.Sprintf("%s is already in state %v", m.entityType, to))
	}
	if !m.table.Allows(from, to) {
		return apierr.Conflict("INVALID_TRANSITION", fmt.Sprintf("illegal %s transition: %v -> %v", m.entityType, from, to))
	}

	entry := &domain.AuditLog{
		EntityType: m.entityType,
		EntityID:   entityID,
		Action:     "TRANSITION",
		ActorID:    actorID,
		ActorRole:  actorRole,
		Changes: map[string]interface{}{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		},
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to audit %s transition: %w", m.entityType, err)
	}
	return nil
}

// CanTransition reports whether from -> to is legal, without recording
// anything — used by handlers to pre-validate before attempting work.
func (m *Machine[S]) CanTransition(from, to S) bool {
	return m.table.Allows(from, to)
}

// BookingTable is the Booking lifecycle transition table. HELD has no
// direct edge to PAID: ConfirmBooking always walks HELD -> PAYMENT_INITIATED
// -> PAID -> CONFIRMED so the audit trail shows every hop, even when the
// payment core's own PAYMENT_INITIATED update (booking.Service.
// MarkPaymentInitiated) hasn't landed yet.
var BookingTable = Table[domain.BookingStatus]{
	domain.BookingPending: {
		domain.BookingHeld, domain.BookingExpired, domain.BookingFailed,
	},
	domain.BookingHeld: {
		domain.BookingPaymentInitiated, domain.BookingExpired, domain.BookingCancelled,
	},
	domain.BookingPaymentInitiated: {
		domain.BookingPaid, domain.BookingFailed, domain.BookingCancelled,
	},
	domain.BookingPaid: {
		domain.BookingConfirmed, domain.BookingFailed,
	},
	domain.BookingConfirmed: {
		domain.BookingCheckedIn, domain.BookingCancelled,
	},
	domain.BookingCheckedIn: {
		domain.BookingCompleted, domain.BookingCancelled,
	},
}

// PaymentTable is the Payment lifecycle transition table.
var PaymentTable = Table[domain.PaymentStatus]{
	domain.PaymentInitiated: {
		domain.PaymentPending, domain.PaymentFailed,
	},
	domain.PaymentPending: {
		domain.PaymentSuccess, domain.PaymentFailed,
	},
	domain.PaymentSuccess: {
		domain.PaymentRefunded, domain.PaymentCompleted,
	},
}

// NewBookingMachine builds the Machine for Booking transitions.
func NewBookingMachine(audit AuditRecorder) *Machine[domain.BookingStatus] {
	return New(BookingTable, "booking", audit)
}

// NewPaymentMachine builds the Machine for Payment transitions.
func NewPaymentMachine(audit AuditRecorder) *Machine[domain.PaymentStatus] {
	return New(PaymentTable, "payment", audit)
}
