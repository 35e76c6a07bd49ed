package fhir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists resources in PostgreSQL across three tables: the current
// record, an append-only history, and the search index. Every mutation runs in
// a single transaction so the three stay consistent.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Create(ctx context.Context, res Resource) (string, error) {
	resourceType := res.Type()
	if resourceType == "" {
		return "", ErrInvalidResource
	}
	if res.ID() == "" {
		res.SetID(uuid.New().String())
	}
	now := time.Now().UTC()
	res.SetMeta(1, now)

	body, err := res.Bytes()
	if err != nil {
		return "", fmt.Errorf("create %s: %w", resourceType, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO resource (resource_type, id, version_id, last_updated, is_deleted, content)
		VALUES ($1, $2, 1, $3, FALSE, $4)`,
		resourceType, res.ID(), now, body,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("create %s: %w", resourceType, err)
	}

	if err := insertHistory(ctx, tx, resourceType, res.ID(), 1, now, false, body); err != nil {
		return "", err
	}
	if err := insertIndex(ctx, tx, Extract(res)); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return res.ID(), nil
}

func (s *PGStore) Get(ctx context.Context, resourceType, id string) (Resource, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT content FROM resource
		WHERE resource_type = $1 AND id = $2 AND NOT is_deleted`,
		resourceType, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", resourceType, id, err)
	}
	return ParseResource(body)
}

func (s *PGStore) GetVersion(ctx context.Context, resourceType, id string, versionID int) (Resource, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT content FROM resource_history
		WHERE resource_type = $1 AND resource_id = $2 AND version_id = $3`,
		resourceType, id, versionID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s version %d: %w", resourceType, id, versionID, err)
	}
	return ParseResource(body)
}

func (s *PGStore) History(ctx context.Context, resourceType, id string) ([]Resource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content FROM resource_history
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY version_id DESC`,
		resourceType, id,
	)
	if err != nil {
		return nil, fmt.Errorf("history %s/%s: %w", resourceType, id, err)
	}
	defer rows.Close()

	var versions []Resource
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		res, err := ParseResource(body)
		if err != nil {
			return nil, err
		}
		versions = append(versions, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}

func (s *PGStore) Search(ctx context.Context, resourceType, code, value string) ([]Resource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.content FROM resource r
		JOIN resource_index i
			ON i.resource_type = r.resource_type AND i.resource_id = r.id
		WHERE i.resource_type = $1 AND i.search_param_code = $2 AND i.value = lower($3)
			AND NOT r.is_deleted
		ORDER BY r.last_updated DESC`,
		resourceType, code, value,
	)
	if err != nil {
		return nil, fmt.Errorf("search %s %s=%s: %w", resourceType, code, value, err)
	}
	defer rows.Close()

	var results []Resource
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		res, err := ParseResource(body)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (s *PGStore) Update(ctx context.Context, id string, res Resource) error {
	resourceType := res.Type()
	if resourceType == "" {
		return ErrInvalidResource
	}
	switch res.ID() {
	case "":
		res.SetID(id)
	case id:
	default:
		return ErrIDMismatch
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The conditional bump is the concurrency guard: if another writer
	// deleted the record first, zero rows come back and the update loses.
	var version int
	err = tx.QueryRow(ctx, `
		UPDATE resource SET version_id = version_id + 1, last_updated = $3
		WHERE resource_type = $1 AND id = $2 AND NOT is_deleted
		RETURNING version_id`,
		resourceType, id, now,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", resourceType, id, err)
	}

	res.SetMeta(version, now)
	body, err := res.Bytes()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", resourceType, id, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE resource SET content = $3
		WHERE resource_type = $1 AND id = $2`,
		resourceType, id, body,
	); err != nil {
		return fmt.Errorf("update %s/%s: %w", resourceType, id, err)
	}

	if err := insertHistory(ctx, tx, resourceType, id, version, now, false, body); err != nil {
		return err
	}
	if err := replaceIndex(ctx, tx, resourceType, id, Extract(res)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Delete(ctx context.Context, resourceType, id string) error {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int
	var body []byte
	err = tx.QueryRow(ctx, `
		UPDATE resource SET is_deleted = TRUE, version_id = version_id + 1, last_updated = $3
		WHERE resource_type = $1 AND id = $2 AND NOT is_deleted
		RETURNING version_id, content`,
		resourceType, id, now,
	).Scan(&version, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}

	// History keeps a final snapshot of the resource as it stood at delete
	// time, stamped with the tombstone version.
	res, err := ParseResource(body)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}
	res.SetMeta(version, now)
	snapshot, err := res.Bytes()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE resource SET content = $3
		WHERE resource_type = $1 AND id = $2`,
		resourceType, id, snapshot,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}

	if err := insertHistory(ctx, tx, resourceType, id, version, now, true, snapshot); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM resource_index
		WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, id,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) FindIndex(ctx context.Context, resourceType, code, value string) ([]IndexEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource_type, resource_id, search_param_code, value
		FROM resource_index
		WHERE resource_type = $1 AND search_param_code = $2 AND value = lower($3)`,
		resourceType, code, value,
	)
	if err != nil {
		return nil, fmt.Errorf("find index %s %s=%s: %w", resourceType, code, value, err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ResourceType, &e.ResourceID, &e.Code, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PGStore) ResourceIndex(ctx context.Context, resourceType, id string) ([]IndexEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource_type, resource_id, search_param_code, value
		FROM resource_index
		WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, id,
	)
	if err != nil {
		return nil, fmt.Errorf("resource index %s/%s: %w", resourceType, id, err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ResourceType, &e.ResourceID, &e.Code, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, resourceType, id string, version int, at time.Time, deleted bool, body []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO resource_history (resource_type, resource_id, version_id, last_updated, is_deleted, content)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		resourceType, id, version, at, deleted, body,
	)
	if err != nil {
		return fmt.Errorf("history insert %s/%s v%d: %w", resourceType, id, version, err)
	}
	return nil
}

func insertIndex(ctx context.Context, tx pgx.Tx, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO resource_index (resource_type, resource_id, search_param_code, value)
			VALUES ($1, $2, $3, $4)`,
			e.ResourceType, e.ResourceID, e.Code, e.Value,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("index insert: %w", err)
	}
	return nil
}

func replaceIndex(ctx context.Context, tx pgx.Tx, resourceType, id string, entries []IndexEntry) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM resource_index
		WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, id,
	); err != nil {
		return fmt.Errorf("index replace %s/%s: %w", resourceType, id, err)
	}
	return insertIndex(ctx, tx, entries)
}
