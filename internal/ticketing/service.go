package ticketing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/metrics"
	"github.com/routecore/platform/internal/platformlog"

	"github.com/google/uuid"
)

// defaultRideType is used until the booking/route models carry a distinct
// vehicle class; every ticket issued today is for a shared ride.
const defaultRideType = "SHARED"

// defaultChainIdentifier names the chain anchor submissions target.
const defaultChainIdentifier = "routecore-anchor-testnet"

// Store is the subset of *Repository the ticketing core needs.
type Store interface {
	CreateTicket(ctx context.Context, t *domain.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	AssignBatch(ctx context.Context, ticketID, batchID uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.TicketStatus) error

	CurrentPendingBatch(ctx context.Context) (*domain.MerkleBatch, error)
	IncrementBatchCount(ctx context.Context, batchID uuid.UUID, maxSize int) (bool, error)
	TicketHashesForBatch(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, []string, error)
	SetBatchBuilding(ctx context.Context, batchID uuid.UUID) error
	SetBatchRoot(ctx context.Context, batchID uuid.UUID, root string) error
	SetBatchAnchorRef(ctx context.Context, batchID uuid.UUID, ref string) error
	SetBatchFailed(ctx context.Context, batchID uuid.UUID) error

	SaveProof(ctx context.Context, proof *domain.MerkleProof) error
	GetProof(ctx context.Context, ticketID uuid.UUID) (*domain.MerkleProof, error)
	GetBatchRoot(ctx context.Context, batchID uuid.UUID) (string, error)

	CreateAnchor(ctx context.Context, anchor *domain.BlockchainAnchor) error
	ListPendingAnchors(ctx context.Context) ([]domain.BlockchainAnchor, error)
	UpdateAnchorConfirmations(ctx context.Context, batchID uuid.UUID, blockNumber int64, confirmations, required int) error

	RecordVerification(ctx context.Context, entry *domain.VerificationLog) error
}

// BookingView is the subset of a confirmed booking issueTicket needs.
type BookingView struct {
	BookingID     uuid.UUID
	RiderID       uuid.UUID
	DriverID      uuid.UUID
	ScheduledTime time.Time
	PickupStopID  uuid.UUID
	DropoffStopID uuid.UUID
	Fare          float64
	PaymentID     uuid.UUID
}

// Service is the Ticketing Core.
type Service struct {
	repo   Store
	signer *Signer
	anchor AnchorClient
	cfg    config.TicketingConfig
}

// NewService creates the Ticketing Core.
func NewService(repo Store, signer *Signer, anchor AnchorClient, cfg config.TicketingConfig) *Service {
	return &Service{repo: repo, signer: signer, anchor: anchor, cfg: cfg}
}

// IssueTicket builds, signs, and persists a ticket for a confirmed
// booking, then enqueues it into the current pending Merkle batch
// ("issueTicket").
func (s *Service) IssueTicket(ctx context.Context, booking BookingView) (*domain.Ticket, error) {
	ticketID := uuid.New()

	body := domain.TicketBody{
		TicketID:      ticketID.String(),
		BookingID:     booking.BookingID.String(),
		RiderID:       booking.RiderID.String(),
		DriverID:      booking.DriverID.String(),
		VehicleID:     booking.DriverID.String(),
		RideType:      defaultRideType,
		ScheduledTime: booking.ScheduledTime.UTC().Format(time.RFC3339),
		PickupStopID:  booking.PickupStopID.String(),
		DropoffStopID: booking.DropoffStopID.String(),
		Fare:          fmt.Sprintf("%.2f", booking.Fare),
		PaymentID:     booking.PaymentID.String(),
	}

	canonical, err := CanonicalJSON(body)
	if err != nil {
		return nil, apierr.Internal("TICKET_CANONICALIZATION_FAILED", "failed to canonicalize ticket body", err)
	}
	hash := Hash(canonical)
	signature, err := s.signer.Sign(hash)
	if err != nil {
		return nil, apierr.Internal("TICKET_SIGNING_FAILED", "failed to sign ticket", err)
	}

	now := time.Now().UTC()
	ticket := &domain.Ticket{
		ID:            ticketID,
		BookingID:     booking.BookingID,
		UserID:        booking.RiderID,
		DriverID:      booking.DriverID,
		CanonicalBody: string(canonical),
		Hash:          hash,
		Signature:     signature,
		Status:        domain.TicketActive,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.TicketTTL),
	}
	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		return nil, apierr.Internal("TICKET_CREATE_FAILED", "failed to persist ticket", err)
	}
	metrics.TicketsIssued.Inc()

	batchID, err := s.enqueueIntoBatch(ctx, ticket.ID)
	if err != nil {
		platformlog.FromContext(ctx).Warn().Err(err).Str("ticket_id", ticket.ID.String()).
			Msg("failed to enqueue ticket into a merkle batch; it remains unbatched until the next issuance")
	} else {
		ticket.MerkleBatchID = &batchID
	}

	return ticket, nil
}

func (s *Service) enqueueIntoBatch(ctx context.Context, ticketID uuid.UUID) (uuid.UUID, error) {
	batch, err := s.repo.CurrentPendingBatch(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load pending batch: %w", err)
	}
	if err := s.repo.AssignBatch(ctx, ticketID, batch.ID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to assign ticket to batch: %w", err)
	}

	maxSize := s.cfg.BatchMaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	ready, err := s.repo.IncrementBatchCount(ctx, batch.ID, maxSize)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to update batch count: %w", err)
	}
	if ready {
		if err := s.BuildBatch(ctx, batch.ID); err != nil {
			platformlog.FromContext(ctx).Error().Err(err).Str("batch_id", batch.ID.String()).
				Msg("failed to build merkle batch after it reached capacity")
		}
	}
	return batch.ID, nil
}

// BuildBatch computes the Merkle tree for a READY batch, persists the
// root and per-leaf proofs, and submits the root for anchoring
// ("Merkle batcher").
func (s *Service) BuildBatch(ctx context.Context, batchID uuid.UUID) error {
	if err := s.repo.SetBatchBuilding(ctx, batchID); err != nil {
		return fmt.Errorf("failed to mark batch building: %w", err)
	}

	ticketIDs, hashes, err := s.repo.TicketHashesForBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch leaves: %w", err)
	}
	if len(hashes) == 0 {
		return fmt.Errorf("batch %s has no tickets to build a tree from", batchID)
	}

	root, proofs := BuildMerkleTree(hashes)
	if err := s.repo.SetBatchRoot(ctx, batchID, root); err != nil {
		return fmt.Errorf("failed to persist batch root: %w", err)
	}

	for i, ticketID := range ticketIDs {
		proof := &domain.MerkleProof{
			TicketID:  ticketID,
			BatchID:   batchID,
			LeafIndex: i,
			Path:      proofs[i],
		}
		if err := s.repo.SaveProof(ctx, proof); err != nil {
			platformlog.FromContext(ctx).Error().Err(err).Str("ticket_id", ticketID.String()).
				Msg("failed to persist merkle proof for ticket")
		}
	}

	if err := s.anchorBatch(ctx, batchID, root); err != nil {
		_ = s.repo.SetBatchFailed(ctx, batchID)
		return fmt.Errorf("failed to anchor batch: %w", err)
	}
	metrics.MerkleBatchesAnchored.Inc()
	return nil
}

func (s *Service) anchorBatch(ctx context.Context, batchID uuid.UUID, root string) error {
	resp, err := s.anchor.Submit(ctx, AnchorSubmitRequest{ChainID: defaultChainIdentifier, Root: root})
	if err != nil {
		return fmt.Errorf("anchor submission failed: %w", err)
	}

	if err := s.repo.CreateAnchor(ctx, &domain.BlockchainAnchor{
		BatchID: batchID,
		ChainID: defaultChainIdentifier,
		TxHash:  resp.TransactionHash,
		Status:  domain.AnchorPending,
		GasCost: resp.GasCost,
	}); err != nil {
		return fmt.Errorf("failed to persist anchor record: %w", err)
	}
	if err := s.repo.SetBatchAnchorRef(ctx, batchID, resp.TransactionHash); err != nil {
		return fmt.Errorf("failed to record anchor reference on batch: %w", err)
	}
	return nil
}

// GetTicket loads a ticket by id.
func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	return s.repo.GetTicket(ctx, id)
}

// CancelTicket marks a ticket CANCELLED.
func (s *Service) CancelTicket(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetStatus(ctx, id, domain.TicketCancelled)
}

// GetMerkleProof returns the persisted inclusion proof for a ticket, or an
// error if the ticket has not yet been batched.
func (s *Service) GetMerkleProof(ctx context.Context, id uuid.UUID) (*domain.MerkleProof, error) {
	proof, err := s.repo.GetProof(ctx, id)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, fmt.Errorf("ticket %s has no merkle proof yet", id)
	}
	return proof, nil
}

// FlushPendingBatch force-builds the current pending Merkle batch if it
// holds any tickets, so a batch that never fills still gets anchored on
// the scheduler's timer instead of waiting indefinitely.
func (s *Service) FlushPendingBatch(ctx context.Context) error {
	batch, err := s.repo.CurrentPendingBatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending batch: %w", err)
	}
	_, hashes, err := s.repo.TicketHashesForBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to load batch leaves: %w", err)
	}
	if len(hashes) == 0 {
		return nil
	}
	return s.BuildBatch(ctx, batch.ID)
}

// PollAnchorConfirmations checks every pending anchor's confirmation
// count and promotes it to CONFIRMED once it reaches the required
// threshold (scheduled job).
func (s *Service) PollAnchorConfirmations(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingAnchors(ctx)
	if err != nil {
		return 0, apierr.Internal("ANCHOR_POLL_LOAD_FAILED", "failed to list pending anchors", err)
	}

	required := s.cfg.RequiredConfirmations
	if required <= 0 {
		required = 12
	}

	confirmed := 0
	for _, a := range pending {
		status, err := s.anchor.Status(ctx, a.TxHash)
		if err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("tx_hash", a.TxHash).Msg("failed to poll anchor status")
			continue
		}
		if err := s.repo.UpdateAnchorConfirmations(ctx, a.BatchID, status.BlockNumber, status.Confirmations, required); err != nil {
			platformlog.FromContext(ctx).Warn().Err(err).Str("batch_id", a.BatchID.String()).Msg("failed to persist anchor confirmations")
			continue
		}
		if status.Confirmations >= required {
			confirmed++
		}
	}
	return confirmed, nil
}

// VerifyTicket runs the five-step verification chain and logs the
// outcome regardless of the result.
func (s *Service) VerifyTicket(ctx context.Context, ticketID uuid.UUID, vctx domain.VerifyContext) (domain.VerificationResult, error) {
	result, notes, method := s.verifyTicket(ctx, ticketID, vctx)

	logErr := s.repo.RecordVerification(ctx, &domain.VerificationLog{
		TicketID:   ticketID,
		Method:     method,
		VerifierID: vctx.VerifierID,
		Result:     result,
		IP:         vctx.IP,
		UserAgent:  vctx.UserAgent,
		Notes:      notes,
	})
	if logErr != nil {
		platformlog.FromContext(ctx).Warn().Err(logErr).Str("ticket_id", ticketID.String()).Msg("failed to record verification log")
	}
	metrics.TicketVerifications.WithLabelValues(strings.ToLower(string(result))).Inc()
	return result, nil
}

func (s *Service) verifyTicket(ctx context.Context, ticketID uuid.UUID, vctx domain.VerifyContext) (domain.VerificationResult, string, domain.VerificationMethod) {
	// Step 1: existence, status, expiry.
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.VerificationNotFound, "ticket does not exist", domain.VerifyDatabase
	}
	if ticket.Status == domain.TicketRevoked {
		return domain.VerificationRevoked, "ticket has been revoked", domain.VerifyDatabase
	}
	if time.Now().UTC().After(ticket.ExpiresAt) {
		return domain.VerificationExpired, "ticket has expired", domain.VerifyDatabase
	}

	// Step 2: signature.
	if !s.signer.Verify(ticket.Hash, ticket.Signature) {
		return domain.VerificationInvalid, "signature does not verify against the service public key", domain.VerifySignature
	}

	// Step 3: hash matches canonical body.
	if Hash([]byte(ticket.CanonicalBody)) != ticket.Hash {
		return domain.VerificationInvalid, "hash does not match canonical body", domain.VerifySignature
	}

	// Step 4: Merkle proof, if one has been built yet.
	proof, err := s.repo.GetProof(ctx, ticketID)
	if err == nil && proof != nil {
		root, rootErr := s.repo.GetBatchRoot(ctx, proof.BatchID)
		if rootErr == nil && root != "" {
			if !VerifyMerkleProof(ticket.Hash, proof.LeafIndex, proof.Path, root) {
				return domain.VerificationInvalid, "merkle proof does not recompute the anchored root", domain.VerifyMerkleProof
			}
		}
	}

	// Step 5: context checks.
	if vctx.ExpectedDriverID != uuid.Nil && vctx.ExpectedDriverID != ticket.DriverID {
		return domain.VerificationInvalid, "driver id does not match the ticket", domain.VerifySignature
	}

	return domain.VerificationValid, "", domain.VerifyDatabase
}

// MarshalVerification is a small helper for handlers that need to log
// the verification outcome alongside the raw ticket for a response body.
func MarshalVerification(result domain.VerificationResult) ([]byte, error) {
	return json.Marshal(map[string]string{"result": string(result)})
}
