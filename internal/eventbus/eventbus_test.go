package eventbus

import (
	"encoding/json"
	"testing"
)

func TestEvent_MarshalsPayload(t *testing.T) {
	event := Event{
		Type: TopicBookingCreated,
		Key:  "booking-123",
		Payload: map[string]interface{}{
			"booking_id": "booking-123",
			"status":     "HELD",
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Type != TopicBookingCreated {
		t.Fatalf("unexpected type: %s", decoded.Type)
	}
	if decoded.Payload["status"] != "HELD" {
		t.Fatalf("unexpected payload: %+v", decoded.Payload)
	}
}

func TestTopics_AreDistinct(t *testing.T) {
	topics := []string{
		TopicBookingCreated, TopicBookingConfirmed, TopicBookingCancelled,
		TopicBookingCompleted, TopicPaymentSuccess, TopicPaymentFailed,
		TopicTripCompleted, TopicTicketIssued,
	}
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if seen[topic] {
			t.Fatalf("duplicate topic name: %s", topic)
		}
		seen[topic] = true
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 distinct topics, got %d", len(seen))
	}
}
