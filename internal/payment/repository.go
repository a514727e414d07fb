// Package payment implements the Payment Core: gateway checkout, webhook
// processing, refunds, and reconciliation against the gateway's ledger.
// Webhook handling maps the external event type to an internal status,
// updates the payment without taking a distributed lock, and writes an
// event row; persistence follows the platform's repository/service
// layering.
package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the repository needs.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository persists Payment and PaymentEvent rows in Postgres.
type Repository struct {
	db DB
}

// NewRepository creates a payment Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const paymentColumns = `
	id, booking_id, rider_id, amount, currency, status, payment_method, gateway_reference,
	gateway_transaction_id, checkout_url, failure_reason, refund_amount, refund_reason,
	initiated_at, completed_at, expires_at, idempotency_key
`

func (r *Repository) scanRow(scan func(dest ...interface{}) error) (*domain.Payment, error) {
	var p domain.Payment
	err := scan(
		&p.ID, &p.BookingID, &p.RiderID, &p.Amount, &p.Currency, &p.Status, &p.PaymentMethod,
		&p.GatewayReference, &p.GatewayTxID, &p.CheckoutURL, &p.FailureReason, &p.RefundAmount,
		&p.RefundReason, &p.InitiatedAt, &p.CompletedAt, &p.ExpiresAt, &p.IdempotencyKey,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new payment in status INITIATED.
func (r *Repository) Create(ctx context.Context, p *domain.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.InitiatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, booking_id, rider_id, amount, currency, status, gateway_reference,
			expires_at, idempotency_key, initiated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		p.ID, p.BookingID, p.RiderID, p.Amount, p.Currency, p.Status, p.GatewayReference,
		p.ExpiresAt, p.IdempotencyKey, p.InitiatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID loads a payment by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := r.scanRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("payment not found")
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// GetByGatewayReference loads a payment by its gateway reference, used by
// webhook processing to map the callback back to a local row.
func (r *Repository) GetByGatewayReference(ctx context.Context, ref string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_reference = $1`, ref)
	p, err := r.scanRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("payment not found")
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// GetActiveByBookingID returns the currently active payment (if any) for a
// booking — enforces "at most one active payment per booking".
func (r *Repository) GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND status IN ('INITIATED', 'PENDING', 'SUCCESS')
		ORDER BY initiated_at DESC LIMIT 1
	`, bookingID)
	p, err := r.scanRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load active payment: %w", err)
	}
	return p, nil
}

// ListByBusinessDate returns all payments initiated on a given UTC date —
// feeds the daily reconciliation job.
func (r *Repository) ListByBusinessDate(ctx context.Context, date time.Time) ([]domain.Payment, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE initiated_at >= $1 AND initiated_at < $2
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for reconciliation: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListByRider returns a page of a rider's payments, most recent first
// ("GET /v1/payments/my-payments").
func (r *Repository) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Payment, error) {
	if size <= 0 {
		size = 20
	}
	if page <= 0 {
		page = 1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE rider_id = $1
		ORDER BY initiated_at DESC LIMIT $2 OFFSET $3
	`, riderID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListByFilter supports the admin payment listing endpoint, filtering by
// status and/or rider id when non-empty/non-nil ( "GET
// /v1/admin/payments[?status&riderId]").
func (r *Repository) ListByFilter(ctx context.Context, status string, riderID *uuid.UUID) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	var args []interface{}
	i := 1
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, status)
		i++
	}
	if riderID != nil {
		query += fmt.Sprintf(" AND rider_id = $%d", i)
		args = append(args, *riderID)
		i++
	}
	query += " ORDER BY initiated_at DESC LIMIT 200"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListExpiring returns PENDING payments past expiry — feeds the
// payment-expiration scheduled job.
func (r *Repository) ListExpiring(ctx context.Context, asOf time.Time) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE status = 'PENDING' AND expires_at <= $1
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repository) update(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("payment not found")
	}
	return nil
}

// SetPending records the gateway checkout URL and moves INITIATED -> PENDING.
func (r *Repository) SetPending(ctx context.Context, id uuid.UUID, checkoutURL string) error {
	return r.update(ctx, id, `
		UPDATE payments SET status = $1, checkout_url = $2 WHERE id = $3
	`, domain.PaymentPending, checkoutURL, id)
}

// SetSuccess attaches the gateway transaction id and moves to SUCCESS.
func (r *Repository) SetSuccess(ctx context.Context, id uuid.UUID, gatewayTxID string) error {
	now := time.Now().UTC()
	return r.update(ctx, id, `
		UPDATE payments SET status = $1, gateway_transaction_id = $2, completed_at = $3 WHERE id = $4
	`, domain.PaymentSuccess, gatewayTxID, now, id)
}

// SetFailed moves to FAILED with a failure reason.
func (r *Repository) SetFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.update(ctx, id, `
		UPDATE payments SET status = $1, failure_reason = $2 WHERE id = $3
	`, domain.PaymentFailed, reason, id)
}

// SetRefunded records a refund and moves SUCCESS -> REFUNDED.
func (r *Repository) SetRefunded(ctx context.Context, id uuid.UUID, amount float64, reason string) error {
	return r.update(ctx, id, `
		UPDATE payments SET status = $1, refund_amount = $2, refund_reason = $3 WHERE id = $4
	`, domain.PaymentRefunded, amount, reason, id)
}

// SaveReconciliation persists the outcome of a reconciliation run
// ("payments ... audit table").
func (r *Repository) SaveReconciliation(ctx context.Context, rec *domain.ReconciliationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	discJSON, err := json.Marshal(rec.Discrepancies)
	if err != nil {
		return fmt.Errorf("failed to marshal discrepancies: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_records (
			id, business_date, status, local_count, gateway_count, discrepancies, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.BusinessDate, rec.Status, rec.LocalCount, rec.GatewayCount, string(discJSON), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist reconciliation record: %w", err)
	}
	return nil
}

func (r *Repository) scanReconciliation(scan func(dest ...interface{}) error) (*domain.ReconciliationRecord, error) {
	var rec domain.ReconciliationRecord
	var discJSON string
	if err := scan(&rec.ID, &rec.BusinessDate, &rec.Status, &rec.LocalCount, &rec.GatewayCount, &discJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(discJSON), &rec.Discrepancies)
	return &rec, nil
}

// ListReconciliation returns the most recent reconciliation runs, newest
// first, capped at limit ("GET /v1/admin/reconciliation[?limit]").
func (r *Repository) ListReconciliation(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, business_date, status, local_count, gateway_count, discrepancies, created_at
		FROM reconciliation_records ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation records: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := r.scanReconciliation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ListDiscrepancies returns only reconciliation runs that found at least
// one mismatch ("GET /v1/admin/reconciliation/discrepancies").
func (r *Repository) ListDiscrepancies(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, business_date, status, local_count, gateway_count, discrepancies, created_at
		FROM reconciliation_records WHERE status = $1 ORDER BY created_at DESC LIMIT 100
	`, domain.ReconciliationDiscrepancy)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation discrepancies: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := r.scanReconciliation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// RecordEvent appends a PaymentEvent row.
func (r *Repository) RecordEvent(ctx context.Context, event *domain.PaymentEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payment_events (id, payment_id, event_type, old_status, new_status, metadata, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.PaymentID, event.EventType, event.OldStatus, event.NewStatus, string(metaJSON), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	return nil
}
