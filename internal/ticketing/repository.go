package ticketing

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

// Repository persists tickets, Merkle batches/proofs, blockchain anchors,
// and verification logs.
type Repository struct {
	db DB
}

// NewRepository creates a ticketing Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// CreateTicket inserts a newly issued ticket in status ACTIVE.
func (r *Repository) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets (id, booking_id, user_id, driver_id, canonical_body, hash,
			signature, status, issued_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.BookingID, t.UserID, t.DriverID, t.CanonicalBody, t.Hash, t.Signature, t.Status, t.IssuedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetTicket loads a ticket by id.
func (r *Repository) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	var t domain.Ticket
	err := r.db.QueryRowContext(ctx, `
		SELECT id, booking_id, user_id, driver_id, canonical_body, hash, signature,
			status, issued_at, expires_at, merkle_batch_id
		FROM tickets WHERE id = $1
	`, id).Scan(&t.ID, &t.BookingID, &t.UserID, &t.DriverID, &t.CanonicalBody, &t.Hash,
		&t.Signature, &t.Status, &t.IssuedAt, &t.ExpiresAt, &t.MerkleBatchID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ticket not found")
		}
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	return &t, nil
}

// AssignBatch attaches a ticket to a Merkle batch once enqueued.
func (r *Repository) AssignBatch(ctx context.Context, ticketID, batchID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tickets SET merkle_batch_id = $1 WHERE id = $2`, batchID, ticketID)
	if err != nil {
		return fmt.Errorf("failed to assign ticket to batch: %w", err)
	}
	return nil
}

// SetStatus transitions a ticket's status (USED/CANCELLED/REVOKED/EXPIRED).
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status domain.TicketStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tickets SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ticket not found")
	}
	return nil
}

// CurrentPendingBatch returns the open PENDING batch, creating one if none
// exists yet.
func (r *Repository) CurrentPendingBatch(ctx context.Context) (*domain.MerkleBatch, error) {
	var b domain.MerkleBatch
	err := r.db.QueryRowContext(ctx, `
		SELECT id, status, ticket_count, merkle_root, anchor_reference, created_at
		FROM merkle_batches WHERE status = 'PENDING' ORDER BY created_at ASC LIMIT 1
	`).Scan(&b.ID, &b.Status, &b.TicketCount, &b.MerkleRoot, &b.AnchorRef, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return r.createBatch(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending batch: %w", err)
	}
	return &b, nil
}

// GetBatchRoot returns the persisted Merkle root for a batch, used by
// proof verification to recompute against the value it was anchored
// under.
func (r *Repository) GetBatchRoot(ctx context.Context, batchID uuid.UUID) (string, error) {
	var root sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT merkle_root FROM merkle_batches WHERE id = $1`, batchID).Scan(&root)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("batch not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to load batch root: %w", err)
	}
	return root.String, nil
}

func (r *Repository) createBatch(ctx context.Context) (*domain.MerkleBatch, error) {
	b := &domain.MerkleBatch{ID: uuid.New(), Status: domain.BatchPending, CreatedAt: time.Now().UTC()}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merkle_batches (id, status, ticket_count, created_at) VALUES ($1,$2,0,$3)
	`, b.ID, b.Status, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create merkle batch: %w", err)
	}
	return b, nil
}

// IncrementBatchCount bumps a batch's ticket count by one and marks it
// READY once it reaches maxSize.
func (r *Repository) IncrementBatchCount(ctx context.Context, batchID uuid.UUID, maxSize int) (ready bool, err error) {
	var count int
	err = r.db.QueryRowContext(ctx, `
		UPDATE merkle_batches SET ticket_count = ticket_count + 1 WHERE id = $1 RETURNING ticket_count
	`, batchID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to increment batch count: %w", err)
	}
	if count >= maxSize {
		if _, err := r.db.ExecContext(ctx, `UPDATE merkle_batches SET status = $1 WHERE id = $2`, domain.BatchReady, batchID); err != nil {
			return false, fmt.Errorf("failed to mark batch ready: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// TicketHashesForBatch returns ticket id/hash pairs for every ticket
// enqueued in a batch, ordered by issue time (stable leaf ordering).
func (r *Repository) TicketHashesForBatch(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, []string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hash FROM tickets WHERE merkle_batch_id = $1 ORDER BY issued_at ASC
	`, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load batch tickets: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	var hashes []string
	for rows.Next() {
		var id uuid.UUID
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, nil, fmt.Errorf("failed to scan batch ticket: %w", err)
		}
		ids = append(ids, id)
		hashes = append(hashes, hash)
	}
	return ids, hashes, rows.Err()
}

// SetBatchBuilding/SetBatchRoot mark batch lifecycle transitions.
func (r *Repository) SetBatchBuilding(ctx context.Context, batchID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merkle_batches SET status = $1 WHERE id = $2`, domain.BatchBuilding, batchID)
	return err
}

func (r *Repository) SetBatchRoot(ctx context.Context, batchID uuid.UUID, root string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merkle_batches SET merkle_root = $1 WHERE id = $2`, root, batchID)
	return err
}

func (r *Repository) SetBatchAnchorRef(ctx context.Context, batchID uuid.UUID, ref string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merkle_batches SET status = $1, anchor_reference = $2 WHERE id = $3`, domain.BatchAnchored, ref, batchID)
	return err
}

func (r *Repository) SetBatchFailed(ctx context.Context, batchID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merkle_batches SET status = $1 WHERE id = $2`, domain.BatchFailed, batchID)
	return err
}

// SaveProof persists one leaf's Merkle proof path.
func (r *Repository) SaveProof(ctx context.Context, proof *domain.MerkleProof) error {
	pathJSON, err := json.Marshal(proof.Path)
	if err != nil {
		return fmt.Errorf("failed to marshal proof path: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO merkle_proofs (ticket_id, batch_id, leaf_index, path) VALUES ($1,$2,$3,$4)
	`, proof.TicketID, proof.BatchID, proof.LeafIndex, string(pathJSON))
	if err != nil {
		return fmt.Errorf("failed to save merkle proof: %w", err)
	}
	return nil
}

// GetProof loads the Merkle proof for a ticket, if one exists.
func (r *Repository) GetProof(ctx context.Context, ticketID uuid.UUID) (*domain.MerkleProof, error) {
	var proof domain.MerkleProof
	var pathJSON string
	err := r.db.QueryRowContext(ctx, `
		SELECT ticket_id, batch_id, leaf_index, path FROM merkle_proofs WHERE ticket_id = $1
	`, ticketID).Scan(&proof.TicketID, &proof.BatchID, &proof.LeafIndex, &pathJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merkle proof: %w", err)
	}
	if err := json.Unmarshal([]byte(pathJSON), &proof.Path); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proof path: %w", err)
	}
	return &proof, nil
}

// CreateAnchor persists a new blockchain anchor record in PENDING.
func (r *Repository) CreateAnchor(ctx context.Context, anchor *domain.BlockchainAnchor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blockchain_anchors (batch_id, chain_identifier, transaction_hash, status, gas_cost, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, anchor.BatchID, anchor.ChainID, anchor.TxHash, anchor.Status, anchor.GasCost, anchor.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to create blockchain anchor: %w", err)
	}
	return nil
}

// ListPendingAnchors returns anchors not yet confirmed, for the
// confirmation-poll scheduled job.
func (r *Repository) ListPendingAnchors(ctx context.Context) ([]domain.BlockchainAnchor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT batch_id, chain_identifier, transaction_hash, block_number, confirmations,
			status, gas_cost, retry_count
		FROM blockchain_anchors WHERE status = 'PENDING'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending anchors: %w", err)
	}
	defer rows.Close()

	var out []domain.BlockchainAnchor
	for rows.Next() {
		var a domain.BlockchainAnchor
		if err := rows.Scan(&a.BatchID, &a.ChainID, &a.TxHash, &a.BlockNumber, &a.Confirmations,
			&a.Status, &a.GasCost, &a.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAnchorConfirmations records the latest confirmation count and
// block number for an anchor, marking it CONFIRMED once the threshold is met.
func (r *Repository) UpdateAnchorConfirmations(ctx context.Context, batchID uuid.UUID, blockNumber int64, confirmations, required int) error {
	status := domain.AnchorPending
	if confirmations >= required {
		status = domain.AnchorConfirmed
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE blockchain_anchors SET block_number = $1, confirmations = $2, status = $3
		WHERE batch_id = $4
	`, blockNumber, confirmations, status, batchID)
	if err != nil {
		return fmt.Errorf("failed to update anchor confirmations: %w", err)
	}
	return nil
}

// RecordVerification appends an append-only verification log entry.
func (r *Repository) RecordVerification(ctx context.Context, entry *domain.VerificationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_logs (id, ticket_id, method, verifier_id, result, ip, user_agent, notes, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TicketID, entry.Method, entry.VerifierID, entry.Result, entry.IP, entry.UserAgent, entry.Notes, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record verification log: %w", err)
	}
	return nil
}
