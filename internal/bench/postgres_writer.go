package bench

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"discobench/internal/measure"
)

// PostgresWriter inserts samples into a PostgreSQL table.
type PostgresWriter struct {
	db        *sql.DB
	tableName string
}

// OpenPostgres opens a PostgreSQL connection pool and verifies it.
func OpenPostgres(connString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresWriter creates a writer for table.
func NewPostgresWriter(db *sql.DB, table string) *PostgresWriter {
	return &PostgresWriter{db: db, tableName: table}
}

// EnsureTable creates the sample table if it is missing.
func (p *PostgresWriter) EnsureTable() error {
	_, err := p.db.Exec("CREATE TABLE IF NOT EXISTS " + p.tableName + ` (
  run_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  mode TEXT NOT NULL,
  param DOUBLE PRECISION NOT NULL,
  trial INTEGER NOT NULL,
  elapsed_seconds DOUBLE PRECISION NOT NULL,
  peer TEXT,
  address TEXT,
  observed_at TIMESTAMPTZ NOT NULL
)`)
	return err
}

// WriteSample inserts one sample row.
func (p *PostgresWriter) WriteSample(s measure.Sample) error {
	_, err := p.db.Exec("INSERT INTO "+p.tableName+
		" (run_id, kind, mode, param, trial, elapsed_seconds, peer, address, observed_at)"+
		" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)",
		s.RunID, string(s.Kind), s.Mode, s.Param, s.Trial, s.Seconds(), s.Peer, s.Address, s.ObservedAt)
	return err
}

// Close closes the connection pool.
func (p *PostgresWriter) Close() error {
	return p.db.Close()
}
