package domain

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus tracks a ticket across its lifetime.
type TicketStatus string

const (
	TicketActive    TicketStatus = "ACTIVE"
	TicketUsed      TicketStatus = "USED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketRevoked   TicketStatus = "REVOKED"
	TicketExpired   TicketStatus = "EXPIRED"
)

// Ticket is a signed, batchable ride ticket.
type Ticket struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	BookingID     uuid.UUID    `json:"booking_id" db:"booking_id"`
	UserID        uuid.UUID    `json:"user_id" db:"user_id"`
	DriverID      uuid.UUID    `json:"driver_id" db:"driver_id"`
	CanonicalBody string       `json:"canonical_body" db:"canonical_body"`
	Hash          string       `json:"hash" db:"hash"`
	Signature     string       `json:"signature" db:"signature"`
	Status        TicketStatus `json:"status" db:"status"`
	IssuedAt      time.Time    `json:"issued_at" db:"issued_at"`
	ExpiresAt     time.Time    `json:"expires_at" db:"expires_at"`
	MerkleBatchID *uuid.UUID   `json:"merkle_batch_id,omitempty" db:"merkle_batch_id"`
}

// TicketBody is the canonical payload that gets hashed and signed.
type TicketBody struct {
	TicketID      string `json:"ticket_id"`
	BookingID     string `json:"booking_id"`
	RiderID       string `json:"rider_id"`
	DriverID      string `json:"driver_id"`
	VehicleID     string `json:"vehicle_id"`
	RideType      string `json:"ride_type"`
	ScheduledTime string `json:"scheduled_time"`
	PickupStopID  string `json:"pickup_stop_id"`
	DropoffStopID string `json:"dropoff_stop_id"`
	Fare          string `json:"fare"`
	PaymentID     string `json:"payment_id"`
}

// MerkleBatchStatus tracks the lifecycle of a ticket batch.
type MerkleBatchStatus string

const (
	BatchPending  MerkleBatchStatus = "PENDING"
	BatchReady    MerkleBatchStatus = "READY"
	BatchBuilding MerkleBatchStatus = "BUILDING"
	BatchAnchored MerkleBatchStatus = "ANCHORED"
	BatchFailed   MerkleBatchStatus = "FAILED"
)

// MerkleBatch groups tickets whose hashes form the leaves of one Merkle
// tree.
type MerkleBatch struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	Status        MerkleBatchStatus `json:"status" db:"status"`
	TicketCount   int               `json:"ticket_count" db:"ticket_count"`
	MerkleRoot    string            `json:"merkle_root,omitempty" db:"merkle_root"`
	AnchorRef     string            `json:"anchor_reference,omitempty" db:"anchor_reference"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// MerkleProof is the sibling path from a leaf to its batch's root.
type MerkleProof struct {
	TicketID  uuid.UUID `json:"ticket_id" db:"ticket_id"`
	BatchID   uuid.UUID `json:"batch_id" db:"batch_id"`
	LeafIndex int       `json:"leaf_index" db:"leaf_index"`
	Path      []string  `json:"path" db:"path"`
}

// AnchorStatus tracks confirmation progress of a blockchain anchor.
type AnchorStatus string

const (
	AnchorPending   AnchorStatus = "PENDING"
	AnchorConfirmed AnchorStatus = "CONFIRMED"
	AnchorFailed    AnchorStatus = "FAILED"
)

// BlockchainAnchor is the one-to-one anchor record for a MerkleBatch.
type BlockchainAnchor struct {
	BatchID       uuid.UUID    `json:"batch_id" db:"batch_id"`
	ChainID       string       `json:"chain_identifier" db:"chain_identifier"`
	TxHash        string       `json:"transaction_hash" db:"transaction_hash"`
	BlockNumber   int64        `json:"block_number" db:"block_number"`
	Confirmations int          `json:"confirmations" db:"confirmations"`
	Status        AnchorStatus `json:"status" db:"status"`
	GasCost       float64      `json:"gas_cost" db:"gas_cost"`
	RetryCount    int          `json:"retry_count" db:"retry_count"`
}

// VerificationMethod names the check that produced a VerificationLog entry.
type VerificationMethod string

const (
	VerifyDatabase     VerificationMethod = "DATABASE"
	VerifySignature    VerificationMethod = "SIGNATURE"
	VerifyMerkleProof  VerificationMethod = "MERKLE_PROOF"
)

// VerificationResult is the outcome of a ticket verification.
type VerificationResult string

const (
	VerificationValid    VerificationResult = "VALID"
	VerificationInvalid  VerificationResult = "INVALID"
	VerificationExpired  VerificationResult = "EXPIRED"
	VerificationRevoked  VerificationResult = "REVOKED"
	VerificationNotFound VerificationResult = "NOT_FOUND"
)

// VerificationLog records one verification attempt. Every verification
// is logged, regardless of outcome.
type VerificationLog struct {
	ID         uuid.UUID           `json:"id" db:"id"`
	TicketID   uuid.UUID           `json:"ticket_id" db:"ticket_id"`
	Method     VerificationMethod  `json:"method" db:"method"`
	VerifierID uuid.UUID           `json:"verifier_id" db:"verifier_id"`
	Result     VerificationResult  `json:"result" db:"result"`
	IP         string              `json:"ip" db:"ip"`
	UserAgent  string              `json:"user_agent" db:"user_agent"`
	Notes      string              `json:"notes,omitempty" db:"notes"`
	Timestamp  time.Time           `json:"timestamp" db:"timestamp"`
}

// VerifyContext carries the caller-supplied checks for verifyTicket.
type VerifyContext struct {
	ExpectedDriverID uuid.UUID
	VerifierID       uuid.UUID
	IP               string
	UserAgent        string
}
