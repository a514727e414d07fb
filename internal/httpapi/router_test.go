package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/payment"
	"github.com/routecore/platform/internal/ticketing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// fakeBookingService satisfies BookingService but never gets called in
// these router-shape tests.
type fakeBookingService struct{}

func (fakeBookingService) CreateBooking(ctx context.Context, req *domain.CreateBookingRequest) (*domain.Booking, error) {
	return nil, nil
}
func (fakeBookingService) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return nil, nil
}
func (fakeBookingService) GetBookingByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return nil, nil
}
func (fakeBookingService) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Booking, error) {
	return nil, nil
}
func (fakeBookingService) ListUpcomingByRider(ctx context.Context, riderID uuid.UUID) ([]domain.Booking, error) {
	return nil, nil
}
func (fakeBookingService) CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*domain.Booking, error) {
	return nil, nil
}
func (fakeBookingService) ConfirmBooking(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	return nil
}

type fakePaymentService struct{}

func (fakePaymentService) InitiatePayment(ctx context.Context, req *domain.InitiatePaymentRequest) (*domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) GetActivePaymentForBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) ListByFilter(ctx context.Context, status string, riderID *uuid.UUID) ([]domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) VerifyPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) Refund(ctx context.Context, paymentID uuid.UUID, amount *float64, reason string, actorID uuid.UUID) (*domain.Payment, error) {
	return nil, nil
}
func (fakePaymentService) ExpirePendingPayments(ctx context.Context) (int, error) { return 0, nil }
func (fakePaymentService) Reconciliation(ctx context.Context, businessDate time.Time) (*domain.ReconciliationRecord, error) {
	return nil, nil
}
func (fakePaymentService) ListReconciliation(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error) {
	return nil, nil
}
func (fakePaymentService) ListDiscrepancies(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	return nil, nil
}
func (fakePaymentService) VerifyWebhookSignature(rawPayload []byte, signatureHex string) bool {
	return false
}
func (fakePaymentService) ProcessWebhook(ctx context.Context, event payment.WebhookEvent) error {
	return nil
}

type fakeMatchmakingService struct{}

func (fakeMatchmakingService) Search(ctx context.Context, req domain.MatchRequest) (*domain.MatchResponse, error) {
	return &domain.MatchResponse{}, nil
}

type fakeTicketingService struct{}

func (fakeTicketingService) IssueTicket(ctx context.Context, booking ticketing.BookingView) (*domain.Ticket, error) {
	return nil, nil
}
func (fakeTicketingService) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	return nil, nil
}
func (fakeTicketingService) VerifyTicket(ctx context.Context, ticketID uuid.UUID, vctx domain.VerifyContext) (domain.VerificationResult, error) {
	return domain.VerificationInvalid, nil
}
func (fakeTicketingService) CancelTicket(ctx context.Context, id uuid.UUID) error { return nil }
func (fakeTicketingService) GetMerkleProof(ctx context.Context, id uuid.UUID) (*domain.MerkleProof, error) {
	return nil, nil
}

func testRouter() http.Handler {
	return NewRouter(
		Config{JWTSecret: "test-secret", RateLimitPerMinute: 1000, RateLimitBurst: 1000, MaxInFlightRequests: 100},
		NewBookingHandler(fakeBookingService{}),
		NewPaymentHandler(fakePaymentService{}),
		NewMatchmakingHandler(fakeMatchmakingService{}),
		NewTicketingHandler(fakeTicketingService{}),
	)
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
}

func TestBookingRouteRejectsMissingToken(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/v1/bookings/upcoming", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestBookingRouteAcceptsValidToken(t *testing.T) {
	router := testRouter()

	claims := jwt.MapClaims{
		"sub":  uuid.New().String(),
		"role": "RIDER",
		"exp":  time.Now().Add(time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/bookings/upcoming", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (body: %s)", http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestWebhookRouteSkipsAuth(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/gateway", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// No Authorization header is required; the fake signature check fails
	// instead, proving the request reached the handler rather than
	// bouncing off authMiddleware.
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}
