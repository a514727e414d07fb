package audit

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

func TestRepository_Record(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	entry := &domain.AuditLog{
		EntityType: "booking",
		EntityID:   uuid.New(),
		Action:     "TRANSITION",
		ActorID:    uuid.New(),
		ActorRole:  "RIDER",
		Changes:    map[string]interface{}{"old": "HELD", "new": "PAID"},
		Timestamp:  time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepository_Query(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	entityID := uuid.New()
	actorID := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "entity_type", "entity_id", "action", "actor_id", "actor_role",
		"changes", "request_metadata", "timestamp",
	}).AddRow(uuid.New(), "booking", entityID, "TRANSITION", actorID, "RIDER", `{}`, `{}`, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, entity_type, entity_id, action, actor_id, actor_role")).
		WillReturnRows(rows)

	got, err := repo.Query(context.Background(), domain.AuditQuery{EntityType: "booking", EntityID: &entityID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Action != "TRANSITION" {
		t.Fatalf("unexpected action: %s", got[0].Action)
	}
}
