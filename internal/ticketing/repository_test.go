package ticketing

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/routecore/platform/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	cleanup := func() { db.Close() }
	return NewRepository(db), mock, cleanup
}

func TestRepository_CreateTicket(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	ticket := &domain.Ticket{
		BookingID:     uuid.New(),
		UserID:        uuid.New(),
		DriverID:      uuid.New(),
		CanonicalBody: `{"ticket_id":"x"}`,
		Hash:          "deadbeef",
		Signature:     "cafebabe",
		Status:        domain.TicketActive,
		IssuedAt:      time.Now(),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tickets")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.CreateTicket(context.Background(), ticket); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.ID == uuid.Nil {
		t.Fatal("expected CreateTicket to assign an id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepository_GetTicket_NotFound(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tickets")).WillReturnRows(sqlmock.NewRows(nil))

	_, err := repo.GetTicket(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error for missing ticket")
	}
}

func TestRepository_CurrentPendingBatch_CreatesWhenNoneExists(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM merkle_batches")).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO merkle_batches")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	batch, err := repo.CurrentPendingBatch(context.Background())
	if err != nil {
		t.Fatalf("CurrentPendingBatch: %v", err)
	}
	if batch.Status != domain.BatchPending {
		t.Fatalf("expected a fresh PENDING batch, got %v", batch.Status)
	}
}

func TestRepository_IncrementBatchCount_MarksReadyAtMax(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	batchID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE merkle_batches SET ticket_count")).
		WillReturnRows(sqlmock.NewRows([]string{"ticket_count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE merkle_batches SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ready, err := repo.IncrementBatchCount(context.Background(), batchID, 2)
	if err != nil {
		t.Fatalf("IncrementBatchCount: %v", err)
	}
	if !ready {
		t.Fatal("expected batch to be marked ready at max size")
	}
}

func TestRepository_GetBatchRoot(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	batchID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT merkle_root")).
		WillReturnRows(sqlmock.NewRows([]string{"merkle_root"}).AddRow("abc123"))

	root, err := repo.GetBatchRoot(context.Background(), batchID)
	if err != nil {
		t.Fatalf("GetBatchRoot: %v", err)
	}
	if root != "abc123" {
		t.Fatalf("expected root abc123, got %q", root)
	}
}

func TestRepository_RecordVerification(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordVerification(context.Background(), &domain.VerificationLog{
		TicketID:   uuid.New(),
		Method:     domain.VerifyDatabase,
		VerifierID: uuid.New(),
		Result:     domain.VerificationValid,
	})
	if err != nil {
		t.Fatalf("RecordVerification: %v", err)
	}
}
