package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is one of the six payment lifecycle states.
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

// IsTerminal reports whether no further transition is permitted.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentFailed, PaymentRefunded, PaymentCompleted:
		return true
	default:
		return false
	}
}

// IsActive reports whether a payment in this status counts toward the "at
// most one active payment per booking" invariant.
func (s PaymentStatus) IsActive() bool {
	switch s {
	case PaymentInitiated, PaymentPending, PaymentSuccess:
		return true
	default:
		return false
	}
}

// Payment is the payment-order entity.
type Payment struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	BookingID         uuid.UUID     `json:"booking_id" db:"booking_id"`
	RiderID           uuid.UUID     `json:"rider_id" db:"rider_id"`
	Amount            float64       `json:"amount" db:"amount"`
	Currency          string        `json:"currency" db:"currency"`
	Status            PaymentStatus `json:"status" db:"status"`
	PaymentMethod     *string       `json:"payment_method,omitempty" db:"payment_method"`
	GatewayReference  string        `json:"gateway_reference" db:"gateway_reference"`
	GatewayTxID       *string       `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	CheckoutURL       string        `json:"checkout_url,omitempty" db:"checkout_url"`
	FailureReason     string        `json:"failure_reason,omitempty" db:"failure_reason"`
	RefundAmount      *float64      `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundReason      string        `json:"refund_reason,omitempty" db:"refund_reason"`
	InitiatedAt       time.Time     `json:"initiated_at" db:"initiated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	ExpiresAt         time.Time     `json:"expires_at" db:"expires_at"`
	IdempotencyKey    string        `json:"idempotency_key" db:"idempotency_key"`
}

// PaymentEvent is an append-only audit row for a payment.
type PaymentEvent struct {
	ID        uuid.UUID              `json:"id" db:"id"`
	PaymentID uuid.UUID              `json:"payment_id" db:"payment_id"`
	EventType string                 `json:"event_type" db:"event_type"`
	OldStatus PaymentStatus          `json:"old_status" db:"old_status"`
	NewStatus PaymentStatus          `json:"new_status" db:"new_status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
}

// InitiatePaymentRequest is the input to payment.Service.InitiatePayment.
type InitiatePaymentRequest struct {
	BookingID      uuid.UUID
	Amount         float64
	Currency       string
	CustomerEmail  string
	CustomerName   string
	IdempotencyKey string
}

// ReconciliationStatus is the outcome of comparing a day's local payments
// against the gateway's ledger.
type ReconciliationStatus string

const (
	ReconciliationMatched     ReconciliationStatus = "MATCHED"
	ReconciliationDiscrepancy ReconciliationStatus = "DISCREPANCY"
)

// DiscrepancyEntry describes one local/gateway mismatch found during
// reconciliation.
type DiscrepancyEntry struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	LocalStatus    string    `json:"local_status"`
	GatewayStatus  string    `json:"gateway_status"`
	LocalAmount    float64   `json:"local_amount"`
	GatewayAmount  float64   `json:"gateway_amount"`
	Reason         string    `json:"reason"`
}

// ReconciliationRecord is the output of a scheduled daily reconciliation run.
type ReconciliationRecord struct {
	ID              uuid.UUID            `json:"id" db:"id"`
	BusinessDate    time.Time             `json:"business_date" db:"business_date"`
	Status          ReconciliationStatus  `json:"status" db:"status"`
	LocalCount      int                   `json:"local_count" db:"local_count"`
	GatewayCount    int                   `json:"gateway_count" db:"gateway_count"`
	Discrepancies   []DiscrepancyEntry    `json:"discrepancies,omitempty" db:"discrepancies"`
	CreatedAt       time.Time             `json:"created_at" db:"created_at"`
}
