// Package external declares the narrow interfaces the platform would call
// against collaborators that live outside this codebase: fleet dispatch
// and driver payouts. KYC/identity verification and rider notifications
// have no interface here. None of them are implemented here — wiring a real fleet-management service or
// payout processor is out of scope — but the shapes are declared so a core
// can depend on the interface today and an adapter can be dropped in later
// without touching call sites, the same narrow-interface idiom used
// throughout (booking.RouteProvider, payment.GatewayClient,
// ticketing.AnchorClient).
package external

import (
	"context"

	"github.com/google/uuid"
)

// FleetEvent is the payload a fleet dispatch system would want on trip
// hand-off: enough to assign a vehicle and driver to a confirmed booking.
type FleetEvent struct {
	BookingID     uuid.UUID
	RouteID       uuid.UUID
	DriverID      uuid.UUID
	ScheduledTime string
}

// FleetEventSink is the consumer interface a fleet-management integration
// would satisfy. booking.completed is the documented hand-off point: once a
// trip completes, a real implementation would release the vehicle/driver
// back to the dispatch pool.
type FleetEventSink interface {
	NotifyTripCompleted(ctx context.Context, event FleetEvent) error
}

// PayoutEvent carries the figures a payout processor needs to credit a
// driver once a trip's fare has cleared.
type PayoutEvent struct {
	BookingID uuid.UUID
	DriverID  uuid.UUID
	Amount    float64
	Currency  string
}

// PayoutEventSink is the consumer interface a driver-payout integration
// would satisfy. trip.completed is the documented hand-off point: a real
// implementation would queue the driver's share of the fare for the next
// payout run.
type PayoutEventSink interface {
	NotifyPayoutDue(ctx context.Context, event PayoutEvent) error
}
