package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/idempotency"
	"github.com/routecore/platform/internal/lock"
	"github.com/routecore/platform/internal/statemachine"

	"github.com/google/uuid"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	payments         map[uuid.UUID]*domain.Payment
	events           []domain.PaymentEvent
	reconciliations  []domain.ReconciliationRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: map[uuid.UUID]*domain.Payment{}}
}

func (f *fakeStore) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range f.payments {
		if p.RiderID == riderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByFilter(ctx context.Context, status string, riderID *uuid.UUID) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range f.payments {
		if status != "" && string(p.Status) != status {
			continue
		}
		if riderID != nil && p.RiderID != *riderID {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) SaveReconciliation(ctx context.Context, rec *domain.ReconciliationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.reconciliations = append(f.reconciliations, *rec)
	return nil
}

func (f *fakeStore) ListReconciliation(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error) {
	return f.reconciliations, nil
}

func (f *fakeStore) ListDiscrepancies(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	var out []domain.ReconciliationRecord
	for _, r := range f.reconciliations {
		if r.Status == domain.ReconciliationDiscrepancy {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Create(ctx context.Context, p *domain.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetByGatewayReference(ctx context.Context, ref string) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.GatewayReference == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment not found")
}

func (f *fakeStore) GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	for _, p := range f.payments {
		if p.BookingID == bookingID && p.Status.IsActive() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListByBusinessDate(ctx context.Context, date time.Time) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range f.payments {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) ListExpiring(ctx context.Context, asOf time.Time) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range f.payments {
		if p.Status == domain.PaymentPending && !p.ExpiresAt.After(asOf) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetPending(ctx context.Context, id uuid.UUID, checkoutURL string) error {
	p, ok := f.payments[id]
	if !ok {
		return fmt.Errorf("payment not found")
	}
	p.Status = domain.PaymentPending
	p.CheckoutURL = checkoutURL
	return nil
}

func (f *fakeStore) SetSuccess(ctx context.Context, id uuid.UUID, gatewayTxID string) error {
	p, ok := f.payments[id]
	if !ok {
		return fmt.Errorf("payment not found")
	}
	p.Status = domain.PaymentSuccess
	p.GatewayTxID = &gatewayTxID
	return nil
}

func (f *fakeStore) SetFailed(ctx context.Context, id uuid.UUID, reason string) error {
	p, ok := f.payments[id]
	if !ok {
		return fmt.Errorf("payment not found")
	}
	p.Status = domain.PaymentFailed
	p.FailureReason = reason
	return nil
}

func (f *fakeStore) SetRefunded(ctx context.Context, id uuid.UUID, amount float64, reason string) error {
	p, ok := f.payments[id]
	if !ok {
		return fmt.Errorf("payment not found")
	}
	p.Status = domain.PaymentRefunded
	p.RefundAmount = &amount
	p.RefundReason = reason
	return nil
}

func (f *fakeStore) RecordEvent(ctx context.Context, event *domain.PaymentEvent) error {
	f.events = append(f.events, *event)
	return nil
}

// fakeGateway implements GatewayClient.
type fakeGateway struct {
	failInit bool
	status   string
}

func (g *fakeGateway) InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	if g.failInit {
		return nil, fmt.Errorf("gateway unreachable")
	}
	return &ChargeResponse{CheckoutURL: "https://pay.example/" + req.Reference, Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	status := g.status
	if status == "" {
		status = "success"
	}
	return &VerifyResponse{Reference: reference, Status: status, Amount: 42.50, TransactionID: "tx-verified"}, nil
}

// fakeBookings implements BookingConfirmer.
type fakeBookings struct {
	paymentInitiated []uuid.UUID
	confirmed        []uuid.UUID
	cancelled        []uuid.UUID
}

func (f *fakeBookings) MarkPaymentInitiated(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	f.paymentInitiated = append(f.paymentInitiated, bookingID)
	return nil
}

func (f *fakeBookings) ConfirmBooking(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	f.confirmed = append(f.confirmed, bookingID)
	return nil
}

func (f *fakeBookings) CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*domain.Booking, error) {
	f.cancelled = append(f.cancelled, bookingID)
	return &domain.Booking{ID: bookingID, Status: domain.BookingCancelled}, nil
}

// fakePublisher implements Publisher.
type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, payload map[string]interface{}) error {
	f.published = append(f.published, topic)
	return nil
}

// fakeLockBackend implements lock.Backend.
type fakeLockBackend struct {
	values map[string]string
}

func newFakeLockBackend() *fakeLockBackend { return &fakeLockBackend{values: map[string]string{}} }

func (f *fakeLockBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeLockBackend) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	if f.values[key] != token {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

// memIdemBackend implements idempotency.Backend.
type memIdemBackend struct {
	values map[string]string
}

func newIdemBackend() *memIdemBackend { return &memIdemBackend{values: map[string]string{}} }

func (m *memIdemBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *memIdemBackend) Get(ctx context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memIdemBackend) Delete(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func (m *memIdemBackend) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.values[key] = value.(string)
	return nil
}

// fakeAudit implements statemachine.AuditRecorder.
type fakeAudit struct{}

func (fakeAudit) Record(ctx context.Context, entry *domain.AuditLog) error { return nil }

func newTestService() (*Service, *fakeStore, *fakeGateway, *fakeBookings, *fakePublisher) {
	store := newFakeStore()
	gateway := &fakeGateway{}
	bookings := &fakeBookings{}
	publisher := &fakePublisher{}
	lockSvc := lock.New(newFakeLockBackend(), time.Second, 5*time.Second)
	idemStore := idempotency.New(newIdemBackend(), "idempotency:payment:")
	webhookIdem := idempotency.New(newIdemBackend(), "idempotency:webhook:")
	machine := statemachine.NewPaymentMachine(fakeAudit{})
	cfg := config.PaymentConfig{ExpiryTTL: 15 * time.Minute, WebhookSecret: "test-secret", GatewayTimeout: 10 * time.Second}

	svc := NewService(store, gateway, lockSvc, idemStore, webhookIdem, machine, bookings, publisher, cfg)
	return svc, store, gateway, bookings, publisher
}

func validInitiateRequest() *domain.InitiatePaymentRequest {
	return &domain.InitiatePaymentRequest{
		BookingID:      uuid.New(),
		Amount:         42.50,
		Currency:       "USD",
		CustomerEmail:  "rider@example.com",
		CustomerName:   "Test Rider",
		IdempotencyKey: "idem-key-0123456789",
	}
}

func TestService_InitiatePayment_CreatesPendingPayment(t *testing.T) {
	svc, _, _, bookings, _ := newTestService()

	req := validInitiateRequest()
	p, err := svc.InitiatePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if p.Status != domain.PaymentPending {
		t.Fatalf("expected status PENDING, got %s", p.Status)
	}
	if p.CheckoutURL == "" {
		t.Fatal("expected a checkout url to be set")
	}
	if len(bookings.paymentInitiated) != 1 || bookings.paymentInitiated[0] != req.BookingID {
		t.Fatalf("expected booking to be marked payment-initiated, got %v", bookings.paymentInitiated)
	}
}

func TestService_InitiatePayment_RejectsInvalidAmount(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	req := validInitiateRequest()
	req.Amount = 0

	if _, err := svc.InitiatePayment(context.Background(), req); err == nil {
		t.Fatal("expected error for amount below minimum")
	}
}

func TestService_InitiatePayment_RejectsSecondActivePayment(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	req := validInitiateRequest()

	if _, err := svc.InitiatePayment(context.Background(), req); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	req2 := validInitiateRequest()
	req2.BookingID = req.BookingID
	req2.IdempotencyKey = "idem-key-9876543210"

	if _, err := svc.InitiatePayment(context.Background(), req2); err == nil {
		t.Fatal("expected error for a second active payment on the same booking")
	}
}

func TestService_InitiatePayment_IsIdempotentOnReplay(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	req := validInitiateRequest()

	p1, err := svc.InitiatePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	p2, err := svc.InitiatePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("InitiatePayment replay: %v", err)
	}
	if p2.ID != p1.ID {
		t.Fatalf("expected replay to return the same payment, got %s vs %s", p2.ID, p1.ID)
	}
}

func TestService_ProcessWebhook_ChargeSuccessConfirmsBooking(t *testing.T) {
	svc, store, _, bookings, publisher := newTestService()
	p, err := svc.InitiatePayment(context.Background(), validInitiateRequest())
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	err = svc.ProcessWebhook(context.Background(), WebhookEvent{
		EventType:        "charge.success",
		GatewayReference: p.GatewayReference,
		TransactionID:    "tx-abc",
	})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	updated := store.payments[p.ID]
	if updated.Status != domain.PaymentSuccess {
		t.Fatalf("expected status SUCCESS, got %s", updated.Status)
	}
	if len(bookings.confirmed) != 1 || bookings.confirmed[0] != p.BookingID {
		t.Fatalf("expected booking to be confirmed, got %+v", bookings.confirmed)
	}
	found := false
	for _, topic := range publisher.published {
		if topic == "payment.success" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected payment.success to be published")
	}
}

func TestService_ProcessWebhook_ChargeFailedCancelsBooking(t *testing.T) {
	svc, store, _, bookings, _ := newTestService()
	p, err := svc.InitiatePayment(context.Background(), validInitiateRequest())
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	err = svc.ProcessWebhook(context.Background(), WebhookEvent{
		EventType:        "charge.failed",
		GatewayReference: p.GatewayReference,
		FailureReason:    "insufficient funds",
	})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	updated := store.payments[p.ID]
	if updated.Status != domain.PaymentFailed {
		t.Fatalf("expected status FAILED, got %s", updated.Status)
	}
	if len(bookings.cancelled) != 1 || bookings.cancelled[0] != p.BookingID {
		t.Fatalf("expected booking to be cancelled, got %+v", bookings.cancelled)
	}
}

func TestService_ProcessWebhook_DuplicateIsAcknowledgedWithoutAction(t *testing.T) {
	svc, _, _, bookings, _ := newTestService()
	p, err := svc.InitiatePayment(context.Background(), validInitiateRequest())
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	event := WebhookEvent{EventType: "charge.success", GatewayReference: p.GatewayReference, TransactionID: "tx-abc"}
	if err := svc.ProcessWebhook(context.Background(), event); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if err := svc.ProcessWebhook(context.Background(), event); err != nil {
		t.Fatalf("ProcessWebhook duplicate: %v", err)
	}

	if len(bookings.confirmed) != 1 {
		t.Fatalf("expected exactly one confirmation despite duplicate webhook, got %d", len(bookings.confirmed))
	}
}

func TestService_VerifyWebhookSignature(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	payload := []byte(`{"event_type":"charge.success"}`)

	sig := hmacHex(t, "test-secret", payload)
	if !svc.VerifyWebhookSignature(payload, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if svc.VerifyWebhookSignature(payload, "00"+sig[2:]) {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func hmacHex(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestService_Refund_RequiresSuccessStatus(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	p, err := svc.InitiatePayment(context.Background(), validInitiateRequest())
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	if _, err := svc.Refund(context.Background(), p.ID, nil, "changed mind", uuid.New()); err == nil {
		t.Fatal("expected error refunding a non-SUCCESS payment")
	}

	store.payments[p.ID].Status = domain.PaymentSuccess
	refunded, err := svc.Refund(context.Background(), p.ID, nil, "changed mind", uuid.New())
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.Status != domain.PaymentRefunded {
		t.Fatalf("expected status REFUNDED, got %s", refunded.Status)
	}
}
