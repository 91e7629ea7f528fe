package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/user/shortlink/internal/models"
)

// SqliteURLStore implements URLStore on database/sql with the pure-Go
// SQLite driver. Same contract as the PostgreSQL store; the handle is
// capped to one writer connection so concurrent shortens serialize in
// the pool rather than erroring with SQLITE_BUSY.
type SqliteURLStore struct {
	db *sql.DB
}

func NewSqliteURLStore(db *sql.DB) *SqliteURLStore {
	return &SqliteURLStore{db: db}
}

// InsertURL writes the row idempotently on url_hash.
func (r *SqliteURLStore) InsertURL(ctx context.Context, code, originalURL, urlHash string) (*models.UpsertResult, error) {
	query := `
		INSERT INTO urls (id, code, original_url, url_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (url_hash) DO NOTHING
	`

	id := uuid.New()
	res, err := r.db.ExecContext(ctx, query, id.String(), code, originalURL, urlHash, time.Now().UTC())
	if err != nil {
		// SQLite reports the violated constraint in the message; a
		// url_hash conflict is swallowed by DO NOTHING, so any unique
		// failure here is the code column.
		if isSqliteUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert URL: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 1 {
		return &models.UpsertResult{ID: id, Code: code, Created: true}, nil
	}

	existing, err := r.GetByURLHash(ctx, urlHash)
	if err != nil {
		return nil, err
	}
	return &models.UpsertResult{ID: existing.ID, Code: existing.Code, Created: false}, nil
}

// GetURL resolves a generated code, falling back to the aliases table.
func (r *SqliteURLStore) GetURL(ctx context.Context, code string) (*models.URL, error) {
	u, err := r.scanURL(ctx, `
		SELECT id, code, original_url, url_hash, created_at
		FROM urls
		WHERE code = ?
	`, code)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return r.scanURL(ctx, `
		SELECT u.id, u.code, u.original_url, u.url_hash, u.created_at
		FROM urls u
		JOIN aliases a ON a.target_id = u.id
		WHERE a.alias = ?
	`, code)
}

// GetByURLHash returns the row holding the URL with this content hash.
func (r *SqliteURLStore) GetByURLHash(ctx context.Context, urlHash string) (*models.URL, error) {
	return r.scanURL(ctx, `
		SELECT id, code, original_url, url_hash, created_at
		FROM urls
		WHERE url_hash = ?
	`, urlHash)
}

func (r *SqliteURLStore) scanURL(ctx context.Context, query string, arg string) (*models.URL, error) {
	u := &models.URL{}
	var id string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&id, &u.Code, &u.OriginalURL, &u.URLHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query URL: %w", err)
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("stored id %q is not a UUID: %w", id, err)
	}
	return u, nil
}

// ListShortCodes pages through all codes and aliases.
func (r *SqliteURLStore) ListShortCodes(ctx context.Context, offset, limit int) ([]string, error) {
	query := `
		SELECT code FROM urls
		UNION ALL
		SELECT alias FROM aliases
		ORDER BY code
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
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
func (r *SqliteURLStore) InsertAlias(ctx context.Context, alias string, targetID uuid.UUID) error {
	if _, err := r.GetURL(ctx, alias); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	query := `INSERT INTO aliases (alias, target_id, created_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, alias, targetID.String(), time.Now().UTC()); err != nil {
		if isSqliteUniqueViolation(err) {
			return ErrDuplicate
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert alias: %w", err)
	}
	return nil
}

// LoadBloomSnapshot returns (nil, nil) when no snapshot exists.
func (r *SqliteURLStore) LoadBloomSnapshot(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM bloom_snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bloom snapshot: %w", err)
	}
	return data, nil
}

// SaveBloomSnapshot upserts the named snapshot.
func (r *SqliteURLStore) SaveBloomSnapshot(ctx context.Context, name string, data []byte) error {
	query := `
		INSERT INTO bloom_snapshots (name, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, name, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save bloom snapshot: %w", err)
	}
	return nil
}
