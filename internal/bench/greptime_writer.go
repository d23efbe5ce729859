package bench

import (
	"context"
	"log"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"discobench/internal/measure"
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes samples and trial outcomes to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client      greptimeClient
	sampleTable string
	trialTable  string
	timeout     time.Duration
}

// NewGreptimeDBWriter connects to GreptimeDB. Trial outcomes go to
// "<tableName>_trials".
func NewGreptimeDBWriter(host string, port int, database, tableName string) (*GreptimeDBWriter, error) {
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &GreptimeDBWriter{
		client:      client,
		sampleTable: tableName,
		trialTable:  tableName + "_trials",
		timeout:     10 * time.Second,
	}, nil
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table) error {
	timeout := w.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Printf("[GreptimeDBWriter] write to %s failed: %v", name, err)
		return err
	}
	return nil
}

// WriteSample inserts a single sample row.
func (w *GreptimeDBWriter) WriteSample(s measure.Sample) error {
	tbl, err := table.New(w.sampleTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("run_id", types.STRING)
	tbl.AddTagColumn("kind", types.STRING)
	tbl.AddTagColumn("mode", types.STRING)
	tbl.AddFieldColumn("param", types.FLOAT64)
	tbl.AddFieldColumn("trial", types.INT64)
	tbl.AddFieldColumn("elapsed_seconds", types.FLOAT64)
	tbl.AddFieldColumn("peer", types.STRING)
	tbl.AddFieldColumn("address", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(s.RunID, string(s.Kind), s.Mode, s.Param, int64(s.Trial),
		s.Seconds(), s.Peer, s.Address, s.ObservedAt); err != nil {
		return err
	}
	return w.write(w.sampleTable, tbl)
}

// WriteTrial inserts a trial outcome row.
func (w *GreptimeDBWriter) WriteTrial(t measure.TrialRecord) error {
	tbl, err := table.New(w.trialTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("run_id", types.STRING)
	tbl.AddTagColumn("kind", types.STRING)
	tbl.AddTagColumn("mode", types.STRING)
	tbl.AddFieldColumn("param", types.FLOAT64)
	tbl.AddFieldColumn("trial", types.INT64)
	tbl.AddFieldColumn("outcome", types.STRING)
	tbl.AddFieldColumn("samples", types.INT64)
	tbl.AddFieldColumn("error", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	ts := t.EndedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := tbl.AddRow(t.RunID, string(t.Kind), t.Mode, t.Param, int64(t.Index),
		string(t.Outcome), int64(t.Samples), t.Err, ts); err != nil {
		return err
	}
	return w.write(w.trialTable, tbl)
}
