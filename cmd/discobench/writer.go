package main

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"discobench/internal/bench"
	"discobench/internal/config"
)

type writerSettings struct {
	tui      bool
	colorize bool
	registry prometheus.Registerer
	stdout   io.Writer
}

// newWriters sets up the sample file and every optional sink enabled by cfg.
// The sample file is always first so it holds a sample before any mirror does.
// GREPTIMEDB_ENDPOINT enables GreptimeDB when the config leaves it unset.
func newWriters(cfg *config.Config, opts bench.Options, s writerSettings) (*bench.MultiWriter, error) {
	fw, err := bench.NewFileWriter(cfg.Output.Path, cfg.Output.Field)
	if err != nil {
		return nil, err
	}
	ws := []bench.SampleWriter{fw}
	fail := func(err error) (*bench.MultiWriter, error) {
		bench.NewMultiWriter(ws...).Close()
		return nil, err
	}

	if s.tui {
		ws = append(ws, bench.NewTUIWriter(opts))
	} else {
		ws = append(ws, bench.NewConsoleWriter(opts, s.stdout, s.colorize))
	}

	host := cfg.Greptime.Host
	if host == "" {
		host = os.Getenv("GREPTIMEDB_ENDPOINT")
	}
	if host != "" {
		gw, err := bench.NewGreptimeDBWriter(host, cfg.Greptime.Port, cfg.Greptime.Database, cfg.Greptime.Table)
		if err != nil {
			return fail(err)
		}
		ws = append(ws, gw)
	}

	if cfg.Postgres.ConnString != "" {
		db, err := bench.OpenPostgres(cfg.Postgres.ConnString)
		if err != nil {
			return fail(err)
		}
		pw := bench.NewPostgresWriter(db, cfg.Postgres.Table)
		ws = append(ws, pw)
		if err := pw.EnsureTable(); err != nil {
			return fail(err)
		}
	}

	if s.registry != nil {
		ws = append(ws, bench.NewMetrics(s.registry))
	}
	return bench.NewMultiWriter(ws...), nil
}
