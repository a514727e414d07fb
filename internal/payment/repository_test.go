package payment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/routecore/platform/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	cleanup := func() { db.Close() }
	return NewRepository(db), mock, cleanup
}

func TestRepository_Create(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	p := &domain.Payment{
		BookingID:        uuid.New(),
		RiderID:          uuid.New(),
		Amount:           42.50,
		Currency:         "USD",
		Status:           domain.PaymentInitiated,
		GatewayReference: "GW-TEST",
		ExpiresAt:        time.Now().Add(15 * time.Minute),
		IdempotencyKey:   "idem-key-0123456789",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Fatal("expected Create to assign an id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepository_GetActiveByBookingID_NoneFound(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	bookingID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments")).WillReturnRows(sqlmock.NewRows(nil))

	p, err := repo.GetActiveByBookingID(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("GetActiveByBookingID: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil when no active payment exists")
	}
}

func TestRepository_GetActiveByBookingID_Found(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	bookingID := uuid.New()
	riderID := uuid.New()
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "booking_id", "rider_id", "amount", "currency", "status", "payment_method",
		"gateway_reference", "gateway_transaction_id", "checkout_url", "failure_reason",
		"refund_amount", "refund_reason", "initiated_at", "completed_at", "expires_at", "idempotency_key",
	}).AddRow(
		id, bookingID, riderID, 42.50, "USD", "PENDING", nil,
		"GW-TEST", nil, "https://pay.example/checkout", "",
		nil, "", now, nil, now.Add(15*time.Minute), "idem-key-0123456789",
	)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments")).WillReturnRows(rows)

	p, err := repo.GetActiveByBookingID(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("GetActiveByBookingID: %v", err)
	}
	if p == nil || p.Status != domain.PaymentPending {
		t.Fatalf("unexpected result: %+v", p)
	}
}

func TestRepository_SetSuccess(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetSuccess(context.Background(), id, "tx-123"); err != nil {
		t.Fatalf("SetSuccess: %v", err)
	}
}

func TestRepository_RecordEvent(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordEvent(context.Background(), &domain.PaymentEvent{
		PaymentID: uuid.New(),
		EventType: "CHARGE_SUCCESS",
		OldStatus: domain.PaymentPending,
		NewStatus: domain.PaymentSuccess,
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
}
