package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestGetResourceTypeNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, version, schema, description, status, metadata, created_at, updated_at")).
		WithArgs("widget", "v1").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetResourceType(context.Background(), types.TypeKey{Name: "widget", Version: "v1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.StatusCode(err) != 404 {
		t.Fatalf("expected a 404-mapped error, got status %d (%v)", apperrors.StatusCode(err), err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateResourceUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO resources")).
		WillReturnError(errors.New(`duplicate key value violates unique constraint "resources_name_key"`))

	_, err := s.CreateResource(context.Background(), types.Resource{Name: "dup", Type: types.TypeKey{Name: "widget", Version: "v1"}, Spec: map[string]any{}})
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.StatusCode(err) != 409 {
		t.Fatalf("expected a 409-mapped conflict, got status %d (%v)", apperrors.StatusCode(err), err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRetryCountExecutesUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE resources SET retry_count = $1, updated_at = now() WHERE id = $2")).
		WithArgs(3, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetRetryCount(context.Background(), 42, 3); err != nil {
		t.Fatalf("SetRetryCount: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
