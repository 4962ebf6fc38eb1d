// Package postgres implements internal/store.Store against PostgreSQL
// using jackc/pgx/v5 as the driver, jmoiron/sqlx for struct-scanning reads,
// lib/pq for array column (de)serialization, and pressly/goose for schema
// migrations. Every operation that touches more than one invariant runs
// inside a single transaction.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, applies pending goose migrations, and returns a
// ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeStore, "open database connection")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeStore, "ping database")
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "set goose dialect")
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeStore, "apply migrations")
	}

	return &Store{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

// ensure pgx's stdlib driver is registered under the name "pgx" used above.
var _ = stdlib.GetDefaultDriver

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStoreTransient("ping", err)
	}
	return nil
}

// --- Resource Types ---

type dbResourceType struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Version     string    `db:"version"`
	Schema      []byte    `db:"schema"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	Metadata    []byte    `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (d dbResourceType) toDomain() (types.ResourceType, error) {
	var schema, metadata map[string]any
	if err := json.Unmarshal(d.Schema, &schema); err != nil {
		return types.ResourceType{}, err
	}
	if len(d.Metadata) > 0 {
		if err := json.Unmarshal(d.Metadata, &metadata); err != nil {
			return types.ResourceType{}, err
		}
	}
	return types.ResourceType{
		ID: d.ID, Name: d.Name, Version: d.Version, Schema: schema,
		Description: d.Description, Status: types.ResourceTypeStatus(d.Status),
		Metadata: metadata, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

func (s *Store) UpsertResourceType(ctx context.Context, rt types.ResourceType) (types.ResourceType, error) {
	schemaJSON, err := json.Marshal(rt.Schema)
	if err != nil {
		return types.ResourceType{}, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "encode schema")
	}
	metaJSON, err := json.Marshal(rt.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	if rt.Status == "" {
		rt.Status = types.ResourceTypeActive
	}

	var row dbResourceType
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO resource_types (name, version, schema, description, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, version) DO UPDATE SET
			schema = EXCLUDED.schema,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING id, name, version, schema, description, status, metadata, created_at, updated_at
	`, rt.Name, rt.Version, schemaJSON, rt.Description, string(rt.Status), metaJSON)
	if err != nil {
		return types.ResourceType{}, apperrors.NewStoreTransient("upsert_resource_type", err)
	}
	return row.toDomain()
}

func (s *Store) GetResourceType(ctx context.Context, key types.TypeKey) (types.ResourceType, error) {
	var row dbResourceType
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, version, schema, description, status, metadata, created_at, updated_at
		FROM resource_types WHERE name = $1 AND version = $2
	`, key.Name, key.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ResourceType{}, apperrors.NewNotFound(fmt.Sprintf("resource type %s/%s", key.Name, key.Version))
	}
	if err != nil {
		return types.ResourceType{}, apperrors.NewStoreTransient("get_resource_type", err)
	}
	return row.toDomain()
}

func (s *Store) GetResourceTypeByID(ctx context.Context, id int64) (types.ResourceType, error) {
	var row dbResourceType
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, version, schema, description, status, metadata, created_at, updated_at
		FROM resource_types WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ResourceType{}, apperrors.NewNotFound("resource type")
	}
	if err != nil {
		return types.ResourceType{}, apperrors.NewStoreTransient("get_resource_type_by_id", err)
	}
	return row.toDomain()
}

func (s *Store) ListResourceTypes(ctx context.Context, name string) ([]types.ResourceType, error) {
	var rows []dbResourceType
	var err error
	if name == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT id, name, version, schema, description, status, metadata, created_at, updated_at FROM resource_types ORDER BY name, version`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT id, name, version, schema, description, status, metadata, created_at, updated_at FROM resource_types WHERE name = $1 ORDER BY version`, name)
	}
	if err != nil {
		return nil, apperrors.NewStoreTransient("list_resource_types", err)
	}
	out := make([]types.ResourceType, 0, len(rows))
	for _, r := range rows {
		rt, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

func (s *Store) CountResourcesOfType(ctx context.Context, key types.TypeKey) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM resources WHERE resource_type_name = $1 AND resource_type_version = $2`, key.Name, key.Version)
	if err != nil {
		return 0, apperrors.NewStoreTransient("count_resources_of_type", err)
	}
	return n, nil
}

func (s *Store) DeleteResourceType(ctx context.Context, key types.TypeKey) error {
	n, err := s.CountResourcesOfType(ctx, key)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperrors.NewConflict(fmt.Sprintf("resource type %s/%s still has %d resource(s) referencing it", key.Name, key.Version, n))
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM resource_types WHERE name = $1 AND version = $2`, key.Name, key.Version)
	if err != nil {
		return apperrors.NewStoreTransient("delete_resource_type", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperrors.NewNotFound(fmt.Sprintf("resource type %s/%s", key.Name, key.Version))
	}
	return nil
}

// pq is referenced to keep the lib/pq dependency wired for array columns
// even on code paths above that don't touch them directly in this file.
var _ = pq.Array
