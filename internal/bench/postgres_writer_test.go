package bench

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"discobench/internal/measure"
)

func TestPostgresWriterWriteSample(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	w := NewPostgresWriter(db, "discovery_samples")
	ts := time.Now()
	s := measure.Sample{
		RunID:      "r1",
		Kind:       measure.KindScalability,
		Mode:       "netman",
		Param:      2,
		Trial:      1,
		Elapsed:    1500 * time.Millisecond,
		Peer:       "peer-1",
		Address:    "172.18.0.13:30000",
		ObservedAt: ts,
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO discovery_samples (run_id, kind, mode, param, trial, elapsed_seconds, peer, address, observed_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)")
	mock.ExpectExec(expectedQuery).
		WithArgs("r1", "scalability", "netman", 2.0, 1, 1.5, "peer-1", "172.18.0.13:30000", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := w.WriteSample(s); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresWriterEnsureTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS discovery_samples").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewPostgresWriter(db, "discovery_samples").EnsureTable(); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
