// Package postgres provides the Postgres-backed scholarship store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantwell/scholarship-ingest/internal/dedup"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres error code for unique_violation.
const uniqueViolation = "23505"

// Config controls the Postgres connection pool used for scholarship rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists scholarship records in Postgres. The dedup key is computed
// on write and kept in its own indexed column so duplicate lookups stay cheap.
//
// Expected schema:
//
//	CREATE TABLE scholarships (
//		id UUID PRIMARY KEY,
//		dedup_key TEXT NOT NULL,
//		title TEXT NOT NULL,
//		description TEXT,
//		eligibility TEXT,
//		amount TEXT,
//		deadline TEXT,
//		provider TEXT,
//		category TEXT,
//		application_link TEXT NOT NULL,
//		source_url TEXT,
//		source_name TEXT,
//		is_active BOOLEAN NOT NULL,
//		link_status TEXT NOT NULL,
//		quality_score INT NOT NULL,
//		last_validated TIMESTAMPTZ,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX scholarships_active_dedup_key
//		ON scholarships (dedup_key) WHERE is_active;
//
// The partial unique index is what makes concurrent duplicate inserts lose
// the race instead of double-persisting.
type Store struct {
	pool  pgxPool
	table string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scholarships"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scholarships"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const recordColumns = `
	id,
	title,
	description,
	eligibility,
	amount,
	deadline,
	provider,
	category,
	application_link,
	source_url,
	source_name,
	is_active,
	link_status,
	quality_score,
	last_validated,
	created_at,
	updated_at`

// Find returns records matching the filter, ordered by creation time.
func (s *Store) Find(ctx context.Context, filter scholar.StoreFilter) ([]scholar.Scholarship, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("scholarship store is not configured")
	}
	var (
		clauses []string
		args    []any
	)
	if filter.DedupKey != "" {
		args = append(args, filter.DedupKey)
		clauses = append(clauses, fmt.Sprintf("dedup_key = $%d", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active = TRUE")
	}
	if filter.SourceName != "" {
		args = append(args, filter.SourceName)
		clauses = append(clauses, fmt.Sprintf("source_name = $%d", len(args)))
	}
	query := fmt.Sprintf("SELECT%s\nFROM %s", recordColumns, s.table)
	if len(clauses) > 0 {
		query += "\nWHERE " + strings.Join(clauses, " AND ")
	}
	query += "\nORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scholarships: %w", err)
	}
	defer rows.Close()

	var records []scholar.Scholarship
	for rows.Next() {
		var rec scholar.Scholarship
		if err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.Description,
			&rec.Eligibility,
			&rec.Amount,
			&rec.Deadline,
			&rec.Provider,
			&rec.Category,
			&rec.ApplicationLink,
			&rec.SourceURL,
			&rec.SourceName,
			&rec.IsActive,
			&rec.LinkStatus,
			&rec.QualityScore,
			&rec.LastValidated,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan scholarship row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scholarship rows: %w", err)
	}
	return records, nil
}

// Save inserts a new record. The dedup key is derived from the record's title
// and provider at write time.
func (s *Store) Save(ctx context.Context, record scholar.Scholarship) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("scholarship store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	dedup_key,
	title,
	description,
	eligibility,
	amount,
	deadline,
	provider,
	category,
	application_link,
	source_url,
	source_name,
	is_active,
	link_status,
	quality_score,
	last_validated,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)`, s.table)

	args := []any{
		record.ID,
		dedup.Key(record.Title, record.Provider),
		record.Title,
		record.Description,
		record.Eligibility,
		record.Amount,
		record.Deadline,
		record.Provider,
		record.Category,
		record.ApplicationLink,
		record.SourceURL,
		record.SourceName,
		record.IsActive,
		record.LinkStatus,
		record.QualityScore,
		record.LastValidated,
		record.CreatedAt,
		record.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return scholar.ErrDuplicate
		}
		return fmt.Errorf("insert scholarship: %w", err)
	}
	return nil
}

// Update applies the non-nil patch fields to an existing record.
func (s *Store) Update(ctx context.Context, id string, patch scholar.ScholarshipPatch) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("scholarship store is not configured")
	}
	if id == "" {
		return fmt.Errorf("record id is required")
	}
	var (
		sets []string
		args []any
	)
	if patch.ApplicationLink != nil {
		args = append(args, *patch.ApplicationLink)
		sets = append(sets, fmt.Sprintf("application_link = $%d", len(args)))
	}
	if patch.IsActive != nil {
		args = append(args, *patch.IsActive)
		sets = append(sets, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if patch.LinkStatus != nil {
		args = append(args, *patch.LinkStatus)
		sets = append(sets, fmt.Sprintf("link_status = $%d", len(args)))
	}
	if patch.QualityScore != nil {
		args = append(args, *patch.QualityScore)
		sets = append(sets, fmt.Sprintf("quality_score = $%d", len(args)))
	}
	if patch.LastValidated != nil {
		args = append(args, *patch.LastValidated)
		sets = append(sets, fmt.Sprintf("last_validated = $%d", len(args)))
	}
	if len(sets) == 0 {
		// Nothing to change; still report missing records.
		var exists bool
		query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", s.table)
		if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
			return fmt.Errorf("check scholarship: %w", err)
		}
		if !exists {
			return scholar.ErrNotFound
		}
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		s.table, strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update scholarship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scholar.ErrNotFound
	}
	return nil
}

// Stats aggregates persisted record counts and the mean quality score.
func (s *Store) Stats(ctx context.Context) (scholar.IngestStats, error) {
	if s == nil || s.pool == nil {
		return scholar.IngestStats{}, fmt.Errorf("scholarship store is not configured")
	}
	query := fmt.Sprintf(`
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE is_active),
	COALESCE(AVG(quality_score), 0)
FROM %s`, s.table)

	var stats scholar.IngestStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.TotalRecords,
		&stats.ActiveRecords,
		&stats.AverageQualityScore,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return scholar.IngestStats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}
