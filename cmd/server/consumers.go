package main

import (
	"context"

	"github.com/routecore/platform/internal/booking"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/eventbus"
	"github.com/routecore/platform/internal/platformlog"
	"github.com/routecore/platform/internal/ticketing"

	"github.com/google/uuid"
)

// startConsumers launches the event bus consumer groups that react to
// cross-core events asynchronously, as opposed to the in-process
// synchronous hops payment.Service makes directly through BookingConfirmer.
// Each group runs in its own goroutine until ctx is cancelled.
func startConsumers(ctx context.Context, cfg *config.Config, bookingSvc *booking.Service, ticketSvc *ticketing.Service) {
	ticketIssuance := eventbus.NewConsumerGroup(&cfg.Kafka, eventbus.TopicBookingConfirmed, issueTicketOnBookingConfirmed(bookingSvc, ticketSvc))
	go runConsumer(ctx, ticketIssuance)
}

func runConsumer(ctx context.Context, group *eventbus.ConsumerGroup) {
	err := group.Run(ctx, func(topic string, err error) {
		platformlog.Logger.Error().Err(err).Str("topic", topic).Msg("consumer handler failed")
	})
	if err != nil && ctx.Err() == nil {
		platformlog.Logger.Error().Err(err).Msg("consumer group stopped unexpectedly")
	}
}

// issueTicketOnBookingConfirmed loads the confirmed booking and issues its
// ride ticket, decoupling ticket generation from the booking/payment
// request path. It keeps no record of bookings already ticketed, so a
// redelivered event issues another ticket for the same booking.
func issueTicketOnBookingConfirmed(bookingSvc *booking.Service, ticketSvc *ticketing.Service) eventbus.Handler {
	return func(ctx context.Context, event eventbus.Event) error {
		bookingIDRaw, _ := event.Payload["booking_id"].(string)
		paymentIDRaw, _ := event.Payload["payment_id"].(string)

		bookingID, err := uuid.Parse(bookingIDRaw)
		if err != nil {
			return err
		}
		paymentID, _ := uuid.Parse(paymentIDRaw)

		b, err := bookingSvc.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		_, err = ticketSvc.IssueTicket(ctx, ticketing.BookingView{
			BookingID:     b.ID,
			RiderID:       b.RiderID,
			DriverID:      b.DriverID,
			ScheduledTime: b.DepartureTime,
			PickupStopID:  b.OriginStopID,
			DropoffStopID: b.DestinationStopID,
			Fare:          b.TotalPrice,
			PaymentID:     paymentID,
		})
		return err
	}
}
