package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is one append-only record of a state transition or admin action.
type AuditLog struct {
	ID          uuid.UUID              `json:"id" db:"id"`
	EntityType  string                 `json:"entity_type" db:"entity_type"`
	EntityID    uuid.UUID              `json:"entity_id" db:"entity_id"`
	Action      string                 `json:"action" db:"action"`
	ActorID     uuid.UUID              `json:"actor_id" db:"actor_id"`
	ActorRole   string                 `json:"actor_role" db:"actor_role"`
	Changes     map[string]interface{} `json:"changes,omitempty" db:"changes"`
	RequestMeta map[string]interface{} `json:"request_metadata,omitempty" db:"request_metadata"`
	Timestamp   time.Time              `json:"timestamp" db:"timestamp"`
}

// AuditQuery filters the audit log query surface.
type AuditQuery struct {
	EntityType string
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	ActorRole  string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
}
