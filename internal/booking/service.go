package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/eventbus"
	"github.com/routecore/platform/internal/idempotency"
	"github.com/routecore/platform/internal/lock"
	"github.com/routecore/platform/internal/metrics"
	"github.com/routecore/platform/internal/platformlog"
	"github.com/routecore/platform/internal/seats"
	"github.com/routecore/platform/internal/statemachine"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

// RouteProvider is the subset of the matchmaking core's route lookup the
// booking core needs to revalidate availability and pricing.
type RouteProvider interface {
	GetRoute(ctx context.Context, routeID uuid.UUID) (*domain.Route, error)
}

// Publisher is the subset of eventbus.Producer the booking core needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload map[string]interface{}) error
}

// Store is the subset of *Repository the Booking Core needs, kept as an
// interface so service-layer tests can supply a hand-written fake instead
// of a real database.
type Store interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Booking, error)
	ListUpcomingByRider(ctx context.Context, riderID uuid.UUID, asOf time.Time) ([]domain.Booking, error)
	ListExpiring(ctx context.Context, asOf time.Time) ([]domain.Booking, error)
	SetHeld(ctx context.Context, id uuid.UUID, status domain.BookingStatus) error
	SetPaymentInitiated(ctx context.Context, id, paymentID uuid.UUID) error
	SetConfirmed(ctx context.Context, id, paymentID uuid.UUID) error
	SetCancelled(ctx context.Context, id uuid.UUID, reason string, refundAmount float64, refundStatus domain.RefundStatus) error
	SetCompleted(ctx context.Context, id uuid.UUID) error
	SetFailed(ctx context.Context, id uuid.UUID, reason string) error
	SetExpired(ctx context.Context, id uuid.UUID) error
	SetCheckedIn(ctx context.Context, id uuid.UUID) error
}

// Service is the Booking Core.
type Service struct {
	repo        Store
	routes      RouteProvider
	seatsEngine *seats.Engine
	lockSvc     *lock.Service
	idempotency *idempotency.Store
	machine     *statemachine.Machine[domain.BookingStatus]
	publisher   Publisher
	cfg         config.BookingConfig
	seatsCfg    config.SeatsConfig
	tracerName  string
}

// NewService creates the Booking Core.
func NewService(
	repo Store,
	routes RouteProvider,
	seatsEngine *seats.Engine,
	lockSvc *lock.Service,
	idemStore *idempotency.Store,
	machine *statemachine.Machine[domain.BookingStatus],
	publisher Publisher,
	cfg config.BookingConfig,
	seatsCfg config.SeatsConfig,
) *Service {
	return &Service{
		repo:        repo,
		routes:      routes,
		seatsEngine: seatsEngine,
		lockSvc:     lockSvc,
		idempotency: idemStore,
		machine:     machine,
		publisher:   publisher,
		cfg:         cfg,
		seatsCfg:    seatsCfg,
		tracerName:  "routecore/booking-service",
	}
}

const actorSystem = "SYSTEM"

// CreateBooking reserves seats for a rider on a route/date.
func (s *Service) CreateBooking(ctx context.Context, req *domain.CreateBookingRequest) (*domain.Booking, error) {
	tr := otel.Tracer(s.tracerName)
	ctx, span := tr.Start(ctx, "booking.CreateBooking")
	defer span.End()

	if !req.IsValid() {
		return nil, apierr.Validation("INVALID_BOOKING_REQUEST", "booking request is missing required fields")
	}
	if req.SeatsBooked > s.cfg.MaxSeatsPerBooking {
		return nil, apierr.Validation("TOO_MANY_SEATS", fmt.Sprintf("a single booking may request at most %d seats", s.cfg.MaxSeatsPerBooking))
	}

	if req.IdempotencyKey != "" {
		result, err := s.idempotency.RegisterOrGet(ctx, "booking:"+req.IdempotencyKey, "RESERVED", 24*time.Hour)
		if err != nil {
			return nil, apierr.Internal("IDEMPOTENCY_BACKEND_ERROR", "idempotency check failed", err)
		}
		if !result.First {
			if result.Stored == "RESERVED" {
				return nil, apierr.Conflict("BOOKING_IN_PROGRESS", "a booking for this idempotency key is already being created")
			}
			var existing domain.Booking
			if err := json.Unmarshal([]byte(result.Stored), &existing); err == nil {
				return &existing, nil
			}
		}
	}

	route, err := s.routes.GetRoute(ctx, req.RouteID)
	if err != nil {
		return nil, apierr.NotFound("ROUTE_NOT_FOUND", "route not found")
	}
	if route.Status != domain.RouteActive {
		return nil, apierr.Conflict("ROUTE_NOT_ACTIVE", "route is not accepting bookings")
	}

	date := req.TravelDate.Format("2006-01-02")
	lockName := lock.RouteDateKey(req.RouteID.String(), date)

	var booking *domain.Booking
	err = lock.ExecuteWithLock(ctx, s.lockSvc, lockName, 0, 0, func(ctx context.Context) error {
		available, err := s.seatsEngine.AvailableCount(ctx, req.RouteID, date, route.SeatsTotal)
		if err != nil {
			return apierr.Internal("SEAT_LOOKUP_FAILED", "failed to compute seat availability", err)
		}
		if available < req.SeatsBooked {
			return apierr.Conflict("SEATS_UNAVAILABLE", "not enough seats available for this route/date")
		}

		seatNumbers, err := s.seatsEngine.Allocate(ctx, req.RouteID, date, route.SeatsTotal, req.SeatsBooked)
		if err != nil {
			return err
		}

		total := route.BasePrice * float64(req.SeatsBooked)
		fee := total * s.cfg.PlatformFeePct
		expiresAt := time.Now().UTC().Add(s.seatsCfg.HoldTTL)

		b := &domain.Booking{
			RiderID:              req.RiderID,
			RouteID:              req.RouteID,
			DriverID:             route.DriverID,
			OriginStopID:         req.OriginStopID,
			DestinationStopID:    req.DestinationStopID,
			TravelDate:           req.TravelDate,
			DepartureTime:        route.DepartureTime,
			SeatsBooked:          req.SeatsBooked,
			AllocatedSeatNumbers: seatNumbers,
			PricePerSeat:         route.BasePrice,
			TotalPrice:           total,
			PlatformFee:          fee,
			Status:               domain.BookingPending,
			ExpiresAt:            &expiresAt,
			RefundStatus:         domain.RefundNone,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			b.IdempotencyKey = &key
		}

		if err := s.repo.Create(ctx, b); err != nil {
			return apierr.Internal("BOOKING_PERSIST_FAILED", "failed to persist booking", err)
		}

		if err := s.seatsEngine.Hold(ctx, req.RouteID, date, seatNumbers, b.ID, s.seatsCfg.HoldTTL); err != nil {
			_ = s.repo.SetFailed(ctx, b.ID, "seat hold failed")
			return apierr.Wrap(apierr.KindConflict, "SEAT_HOLD_FAILED", "seats could not be held", err)
		}

		if err := s.machine.TransitionTo(ctx, b.ID, domain.BookingPending, domain.BookingHeld, req.RiderID, "RIDER", "seats held"); err != nil {
			return err
		}
		if err := s.repo.SetHeld(ctx, b.ID, domain.BookingHeld); err != nil {
			return apierr.Internal("BOOKING_PERSIST_FAILED", "failed to persist hold", err)
		}
		b.Status = domain.BookingHeld

		booking = b
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" {
			_ = s.idempotency.Clear(ctx, "booking:"+req.IdempotencyKey)
		}
		metrics.BookingsCreated.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.BookingsCreated.WithLabelValues("held").Inc()

	if err := s.publisher.Publish(ctx, eventbus.TopicBookingCreated, booking.ID.String(), map[string]interface{}{
		"booking_id": booking.ID.String(),
		"rider_id":   booking.RiderID.String(),
		"route_id":   booking.RouteID.String(),
		"status":     string(booking.Status),
	}); err != nil {
		platformlog.FromContext(ctx).Warn().Err(err).Str("booking_id", booking.ID.String()).Msg("failed to publish booking.created")
	}

	if req.IdempotencyKey != "" {
		if encoded, err := json.Marshal(booking); err == nil {
			_ = s.idempotency.Complete(ctx, "booking:"+req.IdempotencyKey, string(encoded), 24*time.Hour)
		}
	}

	return booking, nil
}

// MarkPaymentInitiated is called by the payment core once a gateway
// checkout has been created for this booking (HELD -> PAYMENT_INITIATED).
func (s *Service) MarkPaymentInitiated(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	lockName := lock.BookingKey(bookingID.String())
	return lock.ExecuteWithLock(ctx, s.lockSvc, lockName, 0, 0, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bookingID)
		if err != nil {
			return apierr.NotFound("BOOKING_NOT_FOUND", "booking not found")
		}

		if b.Status != domain.BookingHeld {
			platformlog.FromContext(ctx).Info().Str("booking_id", bookingID.String()).Str("status", string(b.Status)).Msg("markPaymentInitiated no-op: booking not HELD")
			return nil
		}

		if err := s.machine.TransitionTo(ctx, b.ID, b.Status, domain.BookingPaymentInitiated, paymentID, actorSystem, "payment checkout started"); err != nil {
			return err
		}
		if err := s.repo.SetPaymentInitiated(ctx, b.ID, paymentID); err != nil {
			return apierr.Internal("BOOKING_PERSIST_FAILED", "failed to persist payment initiation", err)
		}
		return nil
	})
}

// ConfirmBooking is called by the payment core after gateway success.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	lockName := lock.BookingKey(bookingID.String())
	return lock.ExecuteWithLock(ctx, s.lockSvc, lockName, 0, 0, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bookingID)
		if err != nil {
			return apierr.NotFound("BOOKING_NOT_FOUND", "booking not found")
		}

		if b.Status != domain.BookingHeld && b.Status != domain.BookingPaymentInitiated {
			platformlog.FromContext(ctx).Info().Str("booking_id", bookingID.String()).Str("status", string(b.Status)).Msg("confirmBooking no-op: booking not in a confirmable state")
			return nil
		}

		// Walk every hop from the current status to CONFIRMED so the audit
		// trail always shows HELD -> PAYMENT_INITIATED -> PAID -> CONFIRMED,
		// even if MarkPaymentInitiated was never reached (e.g. a webhook
		// racing ahead of InitiatePayment's own PAYMENT_INITIATED update).
		if b.Status == domain.BookingHeld {
			if err := s.machine.TransitionTo(ctx, b.ID, b.Status, domain.BookingPaymentInitiated, paymentID, actorSystem, "payment succeeded"); err != nil {
				return err
			}
			b.Status = domain.BookingPaymentInitiated
		}
		if err := s.machine.TransitionTo(ctx, b.ID, b.Status, domain.BookingPaid, paymentID, actorSystem, "payment succeeded"); err != nil {
			return err
		}
		if err := s.machine.TransitionTo(ctx, b.ID, domain.BookingPaid, domain.BookingConfirmed, paymentID, actorSystem, "booking confirmed"); err != nil {
			return err
		}
		if err := s.repo.SetConfirmed(ctx, b.ID, paymentID); err != nil {
			return apierr.Internal("BOOKING_PERSIST_FAILED", "failed to persist confirmation", err)
		}

		date := b.TravelDate.Format("2006-01-02")
		if err := s.seatsEngine.Release(ctx, b.RouteID, date, b.AllocatedSeatNumbers, b.ID); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Msg("failed to release seat hold after confirmation (seats remain confirmed durably)")
		}

		return s.publisher.Publish(ctx, eventbus.TopicBookingConfirmed, b.ID.String(), map[string]interface{}{
			"booking_id": b.ID.String(),
			"payment_id": paymentID.String(),
		})
	})
}

// cancellable is the set of states the transition table allows to move
// directly to CANCELLED. PENDING and PAID are both momentary states that
// never persist on their own (PENDING becomes HELD, PAID becomes CONFIRMED,
// within the same locked call that produced them), so neither is reachable
// here in practice.
var cancellable = map[domain.BookingStatus]bool{
	domain.BookingHeld:             true,
	domain.BookingPaymentInitiated: true,
	domain.BookingConfirmed:        true,
	domain.BookingCheckedIn:        true,
}

// CancelBooking cancels a booking and computes its refund.
func (s *Service) CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*domain.Booking, error) {
	lockName := lock.BookingKey(bookingID.String())
	var result *domain.Booking
	err := lock.ExecuteWithLock(ctx, s.lockSvc, lockName, 0, 0, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bookingID)
		if err != nil {
			return apierr.NotFound("BOOKING_NOT_FOUND", "booking not found")
		}
		if !cancellable[b.Status] {
			return apierr.Conflict("BOOKING_NOT_CANCELLABLE", fmt.Sprintf("booking in status %s cannot be cancelled", b.Status))
		}

		refundAmount := s.computeRefund(b)
		refundStatus := domain.RefundNone
		if refundAmount > 0 {
			refundStatus = domain.RefundPending
		}

		date := b.TravelDate.Format("2006-01-02")
		if err := s.seatsEngine.Release(ctx, b.RouteID, date, b.AllocatedSeatNumbers, b.ID); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Msg("failed to release seat hold during cancellation")
		}

		if err := s.machine.TransitionTo(ctx, b.ID, b.Status, domain.BookingCancelled, actorID, "RIDER", reason); err != nil {
			return err
		}
		if err := s.repo.SetCancelled(ctx, b.ID, reason, refundAmount, refundStatus); err != nil {
			return apierr.Internal("BOOKING_PERSIST_FAILED", "failed to persist cancellation", err)
		}

		b.Status = domain.BookingCancelled
		b.RefundAmount = refundAmount
		b.RefundStatus = refundStatus
		result = b

		return s.publisher.Publish(ctx, eventbus.TopicBookingCancelled, b.ID.String(), map[string]interface{}{
			"booking_id":    b.ID.String(),
			"reason":        reason,
			"refund_amount": refundAmount,
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.BookingCancellations.WithLabelValues(string(result.RefundStatus)).Inc()
	return result, nil
}

// computeRefund applies the time-based refund policy.
func (s *Service) computeRefund(b *domain.Booking) float64 {
	departure := time.Date(b.TravelDate.Year(), b.TravelDate.Month(), b.TravelDate.Day(),
		b.DepartureTime.Hour(), b.DepartureTime.Minute(), 0, 0, b.DepartureTime.Location())
	hoursUntilDeparture := time.Until(departure).Hours()

	switch {
	case hoursUntilDeparture >= s.cfg.FullRefundHours:
		return b.TotalPrice
	case hoursUntilDeparture >= s.cfg.PartialRefundHours:
		return b.TotalPrice * s.cfg.PartialRefundPct
	default:
		return 0
	}
}

// CompleteBooking transitions a checked-in booking to COMPLETED.
func (s *Service) CompleteBooking(ctx context.Context, bookingID uuid.UUID) error {
	lockName := lock.BookingKey(bookingID.String())
	return lock.ExecuteWithLock(ctx, s.lockSvc, lockName, 0, 0, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, bookingID)
		if err != nil {
			return apierr.NotFound("BOOKING_NOT_FOUND", "booking not found")
		}
		if err := s.machine.TransitionTo(ctx, b.ID, b.Status, domain.BookingCompleted, uuid.Nil, actorSystem, "trip completed"); err != nil {
			return err
		}
		if err := s.repo.SetCompleted(ctx, b.ID); err != nil {
			return apierr.Internal("BOOKING_PERSIST_FAILED", "failed to persist completion", err)
		}
		return s.publisher.Publish(ctx, eventbus.TopicBookingCompleted, b.ID.String(), map[string]interface{}{
			"booking_id": b.ID.String(),
		})
	})
}

// GetBooking loads a booking by id.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.repo.GetByID(ctx, id)
}

// GetBookingByReference loads a booking by its public display reference.
func (s *Service) GetBookingByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return s.repo.GetByReference(ctx, reference)
}

// ListByRider returns a page of a rider's bookings.
func (s *Service) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Booking, error) {
	return s.repo.ListByRider(ctx, riderID, page, size)
}

// ListUpcomingByRider returns a rider's upcoming confirmed/checked-in trips.
func (s *Service) ListUpcomingByRider(ctx context.Context, riderID uuid.UUID) ([]domain.Booking, error) {
	return s.repo.ListUpcomingByRider(ctx, riderID, time.Now().UTC())
}

// ExpireStaleHolds transitions past-expiry PENDING/HELD bookings to
// EXPIRED and releases their holds — driven by the scheduler's
// hold-expiration job.
func (s *Service) ExpireStaleHolds(ctx context.Context) (int, error) {
	expiring, err := s.repo.ListExpiring(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring bookings: %w", err)
	}

	count := 0
	for _, b := range expiring {
		date := b.TravelDate.Format("2006-01-02")
		if err := s.seatsEngine.Release(ctx, b.RouteID, date, b.AllocatedSeatNumbers, b.ID); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("booking_id", b.ID.String()).Msg("failed to release hold during expiration sweep")
		}
		if err := s.machine.TransitionTo(ctx, b.ID, b.Status, domain.BookingExpired, uuid.Nil, actorSystem, "hold expired"); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("booking_id", b.ID.String()).Msg("failed to transition expired booking")
			continue
		}
		if err := s.repo.SetExpired(ctx, b.ID); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("booking_id", b.ID.String()).Msg("failed to persist expiration")
			continue
		}
		count++
	}
	return count, nil
}
