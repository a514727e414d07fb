package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/idempotency"
	"github.com/routecore/platform/internal/integrator"
	"github.com/routecore/platform/internal/lock"
	"github.com/routecore/platform/internal/metrics"
	"github.com/routecore/platform/internal/platformlog"
	"github.com/routecore/platform/internal/statemachine"

	"github.com/google/uuid"
)

// BookingConfirmer is the subset of the booking core the payment core
// calls on successful/failed payment outcomes.
type BookingConfirmer interface {
	MarkPaymentInitiated(ctx context.Context, bookingID, paymentID uuid.UUID) error
	ConfirmBooking(ctx context.Context, bookingID, paymentID uuid.UUID) error
	CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*domain.Booking, error)
}

// Publisher is the subset of eventbus.Producer the payment core needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload map[string]interface{}) error
}

// Store is the subset of *Repository the payment core needs, kept as an
// interface so service tests can inject a hand-written fake.
type Store interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByGatewayReference(ctx context.Context, ref string) (*domain.Payment, error)
	GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	ListByBusinessDate(ctx context.Context, date time.Time) ([]domain.Payment, error)
	ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Payment, error)
	ListByFilter(ctx context.Context, status string, riderID *uuid.UUID) ([]domain.Payment, error)
	ListExpiring(ctx context.Context, asOf time.Time) ([]domain.Payment, error)
	SetPending(ctx context.Context, id uuid.UUID, checkoutURL string) error
	SetSuccess(ctx context.Context, id uuid.UUID, gatewayTxID string) error
	SetFailed(ctx context.Context, id uuid.UUID, reason string) error
	SetRefunded(ctx context.Context, id uuid.UUID, amount float64, reason string) error
	RecordEvent(ctx context.Context, event *domain.PaymentEvent) error
	SaveReconciliation(ctx context.Context, rec *domain.ReconciliationRecord) error
	ListReconciliation(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error)
	ListDiscrepancies(ctx context.Context) ([]domain.ReconciliationRecord, error)
}

// Service is the Payment Core.
type Service struct {
	repo        Store
	gateway     GatewayClient
	lockSvc     *lock.Service
	idempotency *idempotency.Store
	webhookIdem *idempotency.Store
	machine     *statemachine.Machine[domain.PaymentStatus]
	bookings    BookingConfirmer
	publisher   Publisher
	cfg         config.PaymentConfig
	integration integrator.Config
}

// NewService creates the Payment Core.
func NewService(
	repo Store,
	gateway GatewayClient,
	lockSvc *lock.Service,
	idemStore *idempotency.Store,
	webhookIdemStore *idempotency.Store,
	machine *statemachine.Machine[domain.PaymentStatus],
	bookings BookingConfirmer,
	publisher Publisher,
	cfg config.PaymentConfig,
) *Service {
	return &Service{
		repo:        repo,
		gateway:     gateway,
		lockSvc:     lockSvc,
		idempotency: idemStore,
		webhookIdem: webhookIdemStore,
		machine:     machine,
		bookings:    bookings,
		publisher:   publisher,
		cfg:         cfg,
		integration: integrator.DefaultConfig(),
	}
}

const actorSystem = "SYSTEM"

func isISO4217(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func generateGatewayReference() string {
	return "GW-" + strings.ToUpper(uuid.New().String()[:16])
}

// InitiatePayment opens a gateway checkout for a booking.
func (s *Service) InitiatePayment(ctx context.Context, req *domain.InitiatePaymentRequest) (*domain.Payment, error) {
	if req.Amount < 0.01 {
		return nil, apierr.Validation("INVALID_AMOUNT", "amount must be at least 0.01")
	}
	if !isISO4217(req.Currency) {
		return nil, apierr.Validation("INVALID_CURRENCY", "currency must be an ISO-4217 code")
	}
	if len(req.IdempotencyKey) < 10 || len(req.IdempotencyKey) > 255 {
		return nil, apierr.Validation("INVALID_IDEMPOTENCY_KEY", "idempotency key must be 10-255 characters")
	}

	reservation, err := s.idempotency.RegisterOrGet(ctx, "initiate:"+req.IdempotencyKey, "RESERVED", 24*time.Hour)
	if err != nil {
		return nil, apierr.Internal("IDEMPOTENCY_STORE_ERROR", "failed to check idempotency", err)
	}
	if !reservation.First {
		if reservation.Stored == "RESERVED" {
			return nil, apierr.Conflict("PAYMENT_IN_PROGRESS", "a payment request with this idempotency key is already being processed")
		}
		var stored domain.Payment
		if err := json.Unmarshal([]byte(reservation.Stored), &stored); err != nil {
			return nil, apierr.Internal("IDEMPOTENCY_DECODE_ERROR", "failed to decode stored payment", err)
		}
		return &stored, nil
	}

	var result *domain.Payment
	lockErr := lock.ExecuteWithLock(ctx, s.lockSvc, lock.BookingKey(req.BookingID.String()), 0, 0, func(ctx context.Context) error {
		existing, err := s.repo.GetActiveByBookingID(ctx, req.BookingID)
		if err != nil {
			return apierr.Internal("PAYMENT_LOOKUP_FAILED", "failed to check for an active payment", err)
		}
		if existing != nil {
			return apierr.Conflict("PAYMENT_ALREADY_ACTIVE", "an active payment already exists for this booking")
		}

		payment := &domain.Payment{
			BookingID:        req.BookingID,
			Amount:           req.Amount,
			Currency:         req.Currency,
			Status:           domain.PaymentInitiated,
			GatewayReference: generateGatewayReference(),
			ExpiresAt:        time.Now().UTC().Add(s.cfg.ExpiryTTL),
			IdempotencyKey:    req.IdempotencyKey,
		}
		if err := s.repo.Create(ctx, payment); err != nil {
			return apierr.Internal("PAYMENT_CREATE_FAILED", "failed to create payment", err)
		}

		gatewayStart := time.Now()
		charge, err := s.gateway.InitializeCharge(ctx, ChargeRequest{
			Reference:     payment.GatewayReference,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			CustomerEmail: req.CustomerEmail,
			CustomerName:  req.CustomerName,
		})
		if err != nil {
			metrics.PaymentAttempts.WithLabelValues("error").Inc()
			metrics.PaymentDuration.WithLabelValues("error").Observe(time.Since(gatewayStart).Seconds())
			_ = s.repo.SetFailed(ctx, payment.ID, "gateway initialization failed")
			return apierr.Unavailable("GATEWAY_UNAVAILABLE", "failed to initialize charge with gateway")
		}
		metrics.PaymentAttempts.WithLabelValues("initialized").Inc()
		metrics.PaymentDuration.WithLabelValues("initialized").Observe(time.Since(gatewayStart).Seconds())

		if err := s.machine.TransitionTo(ctx, payment.ID, domain.PaymentInitiated, domain.PaymentPending, uuid.Nil, actorSystem, "gateway checkout created"); err != nil {
			return err
		}
		if err := s.repo.SetPending(ctx, payment.ID, charge.CheckoutURL); err != nil {
			return apierr.Internal("PAYMENT_UPDATE_FAILED", "failed to persist checkout url", err)
		}
		payment.Status = domain.PaymentPending
		payment.CheckoutURL = charge.CheckoutURL

		if err := s.bookings.MarkPaymentInitiated(ctx, payment.BookingID, payment.ID); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Msg("failed to mark booking payment-initiated")
		}

		if err := s.repo.RecordEvent(ctx, &domain.PaymentEvent{
			PaymentID: payment.ID,
			EventType: "CHECKOUT_CREATED",
			OldStatus: domain.PaymentInitiated,
			NewStatus: domain.PaymentPending,
		}); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Msg("failed to record payment event")
		}

		result = payment
		return nil
	})
	if lockErr != nil {
		_ = s.idempotency.Clear(ctx, "initiate:"+req.IdempotencyKey)
		return nil, lockErr
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return result, nil
	}
	if err := s.idempotency.Complete(ctx, "initiate:"+req.IdempotencyKey, string(encoded), 24*time.Hour); err != nil {
		platformlog.FromContext(ctx).Warn().Err(err).Msg("failed to finalize idempotency record")
	}
	return result, nil
}

// WebhookEvent is the payload of a gateway callback, already JSON-decoded
// by the HTTP handler.
type WebhookEvent struct {
	EventType        string  `json:"event_type"`
	GatewayReference string  `json:"reference"`
	TransactionID    string  `json:"transaction_id"`
	FailureReason    string  `json:"failure_reason,omitempty"`
}

// VerifyWebhookSignature checks the HMAC-SHA256 signature of a raw webhook
// payload against the configured shared secret, constant-time.
func (s *Service) VerifyWebhookSignature(rawPayload []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(rawPayload)
	expected := mac.Sum(nil)

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, signature) == 1
}

// ProcessWebhook handles a verified gateway callback. The
// caller is responsible for signature verification via
// VerifyWebhookSignature before invoking this.
func (s *Service) ProcessWebhook(ctx context.Context, event WebhookEvent) error {
	webhookKey := fmt.Sprintf("%s:%s", event.GatewayReference, event.EventType)
	reservation, err := s.webhookIdem.RegisterOrGet(ctx, webhookKey, "PROCESSED", 7*24*time.Hour)
	if err != nil {
		return apierr.Internal("WEBHOOK_IDEMPOTENCY_ERROR", "failed to check webhook idempotency", err)
	}
	if !reservation.First {
		platformlog.FromContext(ctx).Info().Str("gateway_reference", event.GatewayReference).Msg("duplicate webhook acknowledged without action")
		return nil
	}

	payment, err := s.repo.GetByGatewayReference(ctx, event.GatewayReference)
	if err != nil {
		return apierr.NotFound("PAYMENT_NOT_FOUND", "no payment matches this gateway reference")
	}

	switch event.EventType {
	case "charge.success":
		return s.handleChargeSuccess(ctx, payment, event)
	case "charge.failed":
		return s.handleChargeFailed(ctx, payment, event)
	default:
		platformlog.FromContext(ctx).Warn().Str("event_type", event.EventType).Msg("unrecognized webhook event type")
		return nil
	}
}

func (s *Service) handleChargeSuccess(ctx context.Context, payment *domain.Payment, event WebhookEvent) error {
	from := payment.Status
	if from == domain.PaymentInitiated {
		if err := s.machine.TransitionTo(ctx, payment.ID, domain.PaymentInitiated, domain.PaymentPending, uuid.Nil, actorSystem, "webhook arrived before pending transition"); err != nil {
			return err
		}
		from = domain.PaymentPending
	}
	if err := s.machine.TransitionTo(ctx, payment.ID, from, domain.PaymentSuccess, uuid.Nil, actorSystem, "gateway reported charge success"); err != nil {
		return err
	}
	if err := s.repo.SetSuccess(ctx, payment.ID, event.TransactionID); err != nil {
		return apierr.Internal("PAYMENT_UPDATE_FAILED", "failed to persist payment success", err)
	}
	_ = s.repo.RecordEvent(ctx, &domain.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "CHARGE_SUCCESS",
		OldStatus: from,
		NewStatus: domain.PaymentSuccess,
		Metadata:  map[string]interface{}{"gateway_transaction_id": event.TransactionID},
	})

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, "payment.success", payment.ID.String(), map[string]interface{}{
			"payment_id": payment.ID.String(),
			"booking_id": payment.BookingID.String(),
		})
	}

	err := integrator.Call(ctx, s.integration, "booking.ConfirmBooking", func(ctx context.Context) error {
		return s.bookings.ConfirmBooking(ctx, payment.BookingID, payment.ID)
	})
	if err != nil {
		platformlog.FromContext(ctx).Error().Err(err).
			Str("booking_id", payment.BookingID.String()).
			Msg("failed to confirm booking after successful payment; reconciliation will heal")
	}
	return nil
}

func (s *Service) handleChargeFailed(ctx context.Context, payment *domain.Payment, event WebhookEvent) error {
	from := payment.Status
	if err := s.machine.TransitionTo(ctx, payment.ID, from, domain.PaymentFailed, uuid.Nil, actorSystem, "gateway reported charge failure"); err != nil {
		return err
	}
	reason := event.FailureReason
	if reason == "" {
		reason = "gateway declined the charge"
	}
	if err := s.repo.SetFailed(ctx, payment.ID, reason); err != nil {
		return apierr.Internal("PAYMENT_UPDATE_FAILED", "failed to persist payment failure", err)
	}
	_ = s.repo.RecordEvent(ctx, &domain.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "CHARGE_FAILED",
		OldStatus: from,
		NewStatus: domain.PaymentFailed,
		Metadata:  map[string]interface{}{"reason": reason},
	})

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, "payment.failed", payment.ID.String(), map[string]interface{}{
			"payment_id": payment.ID.String(),
			"booking_id": payment.BookingID.String(),
		})
	}

	_, err := s.bookings.CancelBooking(ctx, payment.BookingID, uuid.Nil, "payment failed")
	if err != nil {
		platformlog.FromContext(ctx).Error().Err(err).
			Str("booking_id", payment.BookingID.String()).
			Msg("best-effort booking cancellation after payment failure did not complete")
	}
	return nil
}

// Refund reverses a SUCCESS payment (admin-only).
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, amount *float64, reason string, actorID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apierr.NotFound("PAYMENT_NOT_FOUND", "payment not found")
	}
	if payment.Status != domain.PaymentSuccess {
		return nil, apierr.Conflict("PAYMENT_NOT_REFUNDABLE", "only a successful payment can be refunded")
	}

	refundAmount := payment.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount > payment.Amount {
		return nil, apierr.Validation("REFUND_EXCEEDS_AMOUNT", "refund amount cannot exceed the original payment amount")
	}

	if err := s.machine.TransitionTo(ctx, payment.ID, domain.PaymentSuccess, domain.PaymentRefunded, actorID, "ADMIN", reason); err != nil {
		return nil, err
	}
	if err := s.repo.SetRefunded(ctx, payment.ID, refundAmount, reason); err != nil {
		return nil, apierr.Internal("REFUND_FAILED", "failed to persist refund", err)
	}
	_ = s.repo.RecordEvent(ctx, &domain.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "REFUND_ISSUED",
		OldStatus: domain.PaymentSuccess,
		NewStatus: domain.PaymentRefunded,
		Metadata:  map[string]interface{}{"refund_amount": refundAmount, "reason": reason},
	})

	payment.Status = domain.PaymentRefunded
	payment.RefundAmount = &refundAmount
	payment.RefundReason = reason
	return payment, nil
}

// VerifyPayment queries the gateway directly and heals a disagreement
// between local and gateway status.
func (s *Service) VerifyPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apierr.NotFound("PAYMENT_NOT_FOUND", "payment not found")
	}

	verification, err := s.gateway.Verify(ctx, payment.GatewayReference)
	if err != nil {
		return nil, apierr.Unavailable("GATEWAY_UNAVAILABLE", "failed to verify payment with gateway")
	}

	if verification.Status == "success" && payment.Status != domain.PaymentSuccess && !payment.Status.IsTerminal() {
		if err := s.handleChargeSuccess(ctx, payment, WebhookEvent{
			EventType:        "charge.success",
			GatewayReference: payment.GatewayReference,
			TransactionID:    verification.TransactionID,
		}); err != nil {
			return nil, err
		}
		payment.Status = domain.PaymentSuccess
	}
	return payment, nil
}

// Reconciliation compares local payment records for a business date
// against the gateway's ledger (scheduled job).
func (s *Service) Reconciliation(ctx context.Context, businessDate time.Time) (*domain.ReconciliationRecord, error) {
	local, err := s.repo.ListByBusinessDate(ctx, businessDate)
	if err != nil {
		return nil, apierr.Internal("RECONCILIATION_LOAD_FAILED", "failed to load local payments", err)
	}

	record := &domain.ReconciliationRecord{
		ID:           uuid.New(),
		BusinessDate: businessDate,
		LocalCount:   len(local),
		CreatedAt:    time.Now().UTC(),
	}

	for i := range local {
		p := &local[i]
		verification, err := s.gateway.Verify(ctx, p.GatewayReference)
		if err != nil {
			record.Discrepancies = append(record.Discrepancies, domain.DiscrepancyEntry{
				PaymentID:   p.ID,
				LocalStatus: string(p.Status),
				Reason:      "gateway lookup failed",
			})
			continue
		}
		record.GatewayCount++

		if !strings.EqualFold(verification.Status, string(p.Status)) || verification.Amount != p.Amount {
			record.Discrepancies = append(record.Discrepancies, domain.DiscrepancyEntry{
				PaymentID:     p.ID,
				LocalStatus:   string(p.Status),
				GatewayStatus: verification.Status,
				LocalAmount:   p.Amount,
				GatewayAmount: verification.Amount,
				Reason:        "status or amount mismatch",
			})
		}
	}

	if len(record.Discrepancies) == 0 {
		record.Status = domain.ReconciliationMatched
	} else {
		record.Status = domain.ReconciliationDiscrepancy
	}
	if err := s.repo.SaveReconciliation(ctx, record); err != nil {
		platformlog.FromContext(ctx).Warn().Err(err).Str("business_date", businessDate.Format("2006-01-02")).
			Msg("failed to persist reconciliation record")
	}
	return record, nil
}

// GetPayment loads a payment by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetByID(ctx, id)
}

// GetActivePaymentForBooking loads the currently active payment for a
// booking, if any ("GET /v1/payments/booking/{bookingId}").
func (s *Service) GetActivePaymentForBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetActiveByBookingID(ctx, bookingID)
}

// ListByRider returns a page of a rider's payments.
func (s *Service) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Payment, error) {
	return s.repo.ListByRider(ctx, riderID, page, size)
}

// ListByFilter supports the admin payment listing endpoint.
func (s *Service) ListByFilter(ctx context.Context, status string, riderID *uuid.UUID) ([]domain.Payment, error) {
	return s.repo.ListByFilter(ctx, status, riderID)
}

// ListReconciliation returns the most recent reconciliation runs.
func (s *Service) ListReconciliation(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error) {
	return s.repo.ListReconciliation(ctx, limit)
}

// ListDiscrepancies returns reconciliation runs that found a mismatch.
func (s *Service) ListDiscrepancies(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	return s.repo.ListDiscrepancies(ctx)
}

// ExpirePendingPayments transitions PENDING payments past their expiry to
// FAILED and best-effort cancels the associated booking.
func (s *Service) ExpirePendingPayments(ctx context.Context) (int, error) {
	expiring, err := s.repo.ListExpiring(ctx, time.Now().UTC())
	if err != nil {
		return 0, apierr.Internal("EXPIRE_PAYMENTS_LOAD_FAILED", "failed to list expiring payments", err)
	}

	count := 0
	for i := range expiring {
		p := &expiring[i]
		if err := s.machine.TransitionTo(ctx, p.ID, p.Status, domain.PaymentFailed, uuid.Nil, actorSystem, "payment expired before completion"); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("payment_id", p.ID.String()).Msg("failed to transition expired payment")
			continue
		}
		if err := s.repo.SetFailed(ctx, p.ID, "expired"); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("payment_id", p.ID.String()).Msg("failed to persist expired payment")
			continue
		}
		if _, err := s.bookings.CancelBooking(ctx, p.BookingID, uuid.Nil, "payment expired"); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("booking_id", p.BookingID.String()).Msg("failed to cancel booking after payment expiry")
		}
		count++
	}
	return count, nil
}
