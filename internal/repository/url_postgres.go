package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/shortlink/internal/models"
)

// PostgresURLStore implements URLStore on pgx.
type PostgresURLStore struct {
	db *pgxpool.Pool
}

func NewPostgresURLStore(db *pgxpool.Pool) *PostgresURLStore {
	return &PostgresURLStore{db: db}
}

// InsertURL writes the row idempotently on url_hash.
//
// ON CONFLICT (url_hash) DO NOTHING RETURNING id returns no row when
// the URL was already shortened; the follow-up select fetches the
// winning row. Concurrent shortens of the same URL serialize at the
// store: one caller observes Created=true, the rest Created=false.
// A unique violation on code means the candidate collides with a
// different URL.
func (r *PostgresURLStore) InsertURL(ctx context.Context, code, originalURL, urlHash string) (*models.UpsertResult, error) {
	query := `
		INSERT INTO urls (id, code, original_url, url_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url_hash) DO NOTHING
		RETURNING id
	`

	id := uuid.New()
	err := r.db.QueryRow(ctx, query, id, code, originalURL, urlHash).Scan(&id)
	if err == nil {
		return &models.UpsertResult{ID: id, Code: code, Created: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isPgUniqueViolation(err, "urls_code_key") {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert URL: %w", err)
	}

	// Hash conflict: somebody already shortened this URL.
	existing, err := r.GetByURLHash(ctx, urlHash)
	if err != nil {
		return nil, err
	}
	return &models.UpsertResult{ID: existing.ID, Code: existing.Code, Created: false}, nil
}

// GetURL resolves a generated code, falling back to the aliases table.
func (r *PostgresURLStore) GetURL(ctx context.Context, code string) (*models.URL, error) {
	query := `
		SELECT id, code, original_url, url_hash, created_at
		FROM urls
		WHERE code = $1
	`

	u := &models.URL{}
	err := r.db.QueryRow(ctx, query, code).Scan(&u.ID, &u.Code, &u.OriginalURL, &u.URLHash, &u.CreatedAt)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query URL: %w", err)
	}

	aliasQuery := `
		SELECT u.id, u.code, u.original_url, u.url_hash, u.created_at
		FROM urls u
		JOIN aliases a ON a.target_id = u.id
		WHERE a.alias = $1
	`
	err = r.db.QueryRow(ctx, aliasQuery, code).Scan(&u.ID, &u.Code, &u.OriginalURL, &u.URLHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alias: %w", err)
	}
	return u, nil
}

// GetByURLHash returns the row holding the URL with this content hash.
func (r *PostgresURLStore) GetByURLHash(ctx context.Context, urlHash string) (*models.URL, error) {
	query := `
		SELECT id, code, original_url, url_hash, created_at
		FROM urls
		WHERE url_hash = $1
	`

	u := &models.URL{}
	err := r.db.QueryRow(ctx, query, urlHash).Scan(&u.ID, &u.Code, &u.OriginalURL, &u.URLHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query URL by hash: %w", err)
	}
	return u, nil
}

// ListShortCodes pages through all codes and aliases for filter
// rebuilds. Ordering makes the pagination stable under concurrent
// inserts (new rows land on later pages or are caught by the live
// filter updates).
func (r *PostgresURLStore) ListShortCodes(ctx context.Context, offset, limit int) ([]string, error) {
	query := `
		SELECT code FROM urls
		UNION ALL
		SELECT alias FROM aliases
		ORDER BY code
		OFFSET $1 LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list short codes: %w", err)
	}
	defer rows.Close()

	codes := make([]string, 0, limit)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan short code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// InsertAlias attaches an extra identifier to an existing row.
func (r *PostgresURLStore) InsertAlias(ctx context.Context, alias string, targetID uuid.UUID) error {
	// An alias must not shadow a generated code either.
	if _, err := r.GetURL(ctx, alias); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	query := `INSERT INTO aliases (alias, target_id) VALUES ($1, $2)`
	if _, err := r.db.Exec(ctx, query, alias, targetID); err != nil {
		if isPgUniqueViolation(err, "") {
			return ErrDuplicate
		}
		if isPgForeignKeyViolation(err) {
			return ErrNotFound // target row gone
		}
		return fmt.Errorf("failed to insert alias: %w", err)
	}
	return nil
}

// LoadBloomSnapshot returns (nil, nil) when no snapshot exists.
func (r *PostgresURLStore) LoadBloomSnapshot(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM bloom_snapshots WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bloom snapshot: %w", err)
	}
	return data, nil
}

// SaveBloomSnapshot upserts the named snapshot.
func (r *PostgresURLStore) SaveBloomSnapshot(ctx context.Context, name string, data []byte) error {
	query := `
		INSERT INTO bloom_snapshots (name, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET data = $2, updated_at = $3
	`
	if _, err := r.db.Exec(ctx, query, name, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save bloom snapshot: %w", err)
	}
	return nil
}
