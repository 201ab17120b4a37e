package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	file_id      TEXT NOT NULL,
	content      TEXT NOT NULL,
	state        BYTEA,
	created_by   TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_file_created ON snapshots (file_id, created_at DESC);
`

const selectColumns = `SELECT id, file_id, content, state, created_by, created_at, message, content_hash FROM snapshots`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate создаёт таблицу снимков, если её ещё нет
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *PostgresStore) Save(ctx context.Context, s Snapshot) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO snapshots (id, file_id, content, state, created_by, created_at, message, content_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.FileID, s.Content, s.State, s.CreatedBy, s.CreatedAt, s.Message, s.ContentHash)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Snapshot, error) {
	s, err := scanSnapshot(p.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) List(ctx context.Context, fileID string) ([]Snapshot, error) {
	rows, err := p.pool.Query(ctx, selectColumns+` WHERE file_id = $1 ORDER BY created_at DESC, id DESC`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.FileID, &s.Content, &s.State, &s.CreatedBy, &s.CreatedAt, &s.Message, &s.ContentHash)
	if err != nil {
		return Snapshot{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
