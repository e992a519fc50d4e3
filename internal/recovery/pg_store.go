package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const defaultTable = "ordermatch_snapshots"

// PGStore 把快照写入 Postgres，保留最近 keep 份
type PGStore struct {
	db    *sql.DB
	table string
	keep  int
}

// OpenPostgres 打开 lib/pq 连接
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewPGStore(db *sql.DB, table string, keep int) *PGStore {
	if table == "" {
		table = defaultTable
	}
	if keep <= 0 {
		keep = 10
	}
	return &PGStore{db: db, table: pq.QuoteIdentifier(table), keep: keep}
}

func (s *PGStore) Name() string { return "postgres" }

func (s *PGStore) Close() error { return s.db.Close() }

// EnsureSchema 建表
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		id BIGSERIAL PRIMARY KEY,
		version INT NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL,
		last_exec_id BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (s *PGStore) Save(ctx context.Context, snap *Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO ` + s.table + ` (version, saved_at, last_exec_id, payload) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insert, snap.Version, snap.SavedAt, snap.LastExecID, raw); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	prune := `DELETE FROM ` + s.table + ` WHERE id NOT IN (SELECT id FROM ` + s.table + ` ORDER BY id DESC LIMIT $1)`
	if _, err := tx.ExecContext(ctx, prune, s.keep); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return tx.Commit()
}

func (s *PGStore) Load(ctx context.Context) (*Snapshot, error) {
	query := `SELECT payload FROM ` + s.table + ` ORDER BY id DESC LIMIT 1`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return Decode(raw)
}
