package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"discobench/internal/admin"
	"discobench/internal/bench"
	"discobench/internal/cluster"
	"discobench/internal/config"
	"discobench/internal/logging"
	"discobench/internal/measure"
)

var runCmd = &cobra.Command{
	Use:       "run <netman|neuropil>",
	Short:     "Run a discovery benchmark",
	Long:      "run disables and re-enables the discovery mechanism for every trial and appends the measured convergence times to the sample file.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{config.ModeNetman, config.ModeNeuropil},
	RunE:      func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(args[0], cmd.Flags())
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		useTUI, _ := cmd.Flags().GetBool("tui")
		return runExperiment(cfg, verbose, useTUI)
	},
}

func init() {
	addRunFlags(runCmd.Flags())
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.BoolP("verbose", "v", false, "Log every watch event and API call")
	fs.IntP("runs", "r", 0, "Trials per settle value")
	fs.StringP("output", "o", "", "Sample file to append to")
	fs.IntP("nodes", "n", 0, "Nodes in the testbed; a scalability run waits for nodes-1 peers")
	fs.String("config", "", "Path to experiment configuration YAML")
	fs.String("schema", "", "Path to CUE schema file (defaults to the embedded schema)")
	fs.String("measure", "", "Measurement kind: latency, startup, discovery-only or scalability")
	fs.Float64("settle", 0, "Seconds to wait after disabling the mechanism")
	fs.String("sweep", "", "Sweep settle times as from:to:step seconds")
	fs.String("address", "", "Only match discovery records with this address (prefix with * for a suffix match)")
	fs.Duration("timeout", 0, "Observation timeout per trial (e.g. 90s, 5m)")
	fs.String("measure-from", "", "Measure from the disable or the enable mutation")
	fs.String("namespace", "", "Namespace of the discovery mechanism")
	fs.String("kubeconfig", "", "Path to kubeconfig")
	fs.String("context", "", "Kubeconfig context to use")
	fs.Bool("tui", false, "Show an interactive terminal UI")
	fs.String("admin-addr", "", "Serve /status, /metrics and /healthz on this address")
	fs.String("greptime", "", "GreptimeDB host[:port] to mirror samples to")
	fs.String("postgres", "", "PostgreSQL connection string to mirror samples to")
}

// loadRunConfig reads the optional config file and applies mode and flag
// overrides on top of it.
func loadRunConfig(mode string, fs *pflag.FlagSet) (*config.Config, error) {
	path, _ := fs.GetString("config")
	schema, _ := fs.GetString("schema")
	cfg := &config.Config{}
	if path != "" {
		var err error
		if cfg, err = config.Load(path, schema); err != nil {
			return nil, err
		}
	}
	cfg.Mode = mode
	if err := applyRunFlags(cfg, fs); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRunFlags copies every flag the user set into cfg.
func applyRunFlags(cfg *config.Config, fs *pflag.FlagSet) error {
	var err error
	if fs.Changed("runs") {
		cfg.Measurement.Runs, _ = fs.GetInt("runs")
	}
	if fs.Changed("output") {
		path, _ := fs.GetString("output")
		cfg.SetOutputPath(path)
	}
	if fs.Changed("nodes") {
		n, _ := fs.GetInt("nodes")
		if n < 2 {
			return fmt.Errorf("--nodes must be at least 2, got %d", n)
		}
		cfg.Measurement.Target = n - 1
	}
	if fs.Changed("measure") {
		s, _ := fs.GetString("measure")
		if cfg.Measurement.Kind, err = measure.ParseKind(s); err != nil {
			return err
		}
	}
	if fs.Changed("settle") {
		cfg.Measurement.Settle, _ = fs.GetFloat64("settle")
	}
	if fs.Changed("sweep") {
		s, _ := fs.GetString("sweep")
		if cfg.Measurement.Sweep, err = parseSweep(s); err != nil {
			return err
		}
	}
	if fs.Changed("address") {
		cfg.Discovery.Address, _ = fs.GetString("address")
	}
	if fs.Changed("timeout") {
		cfg.Measurement.ObserveTimeout, _ = fs.GetDuration("timeout")
	}
	if fs.Changed("measure-from") {
		s, _ := fs.GetString("measure-from")
		cfg.Measurement.MeasureFrom = measure.Origin(s)
	}
	if fs.Changed("namespace") {
		cfg.Namespace, _ = fs.GetString("namespace")
	}
	if fs.Changed("kubeconfig") {
		cfg.Kubeconfig, _ = fs.GetString("kubeconfig")
	}
	if fs.Changed("context") {
		cfg.Context, _ = fs.GetString("context")
	}
	if fs.Changed("admin-addr") {
		cfg.Admin.Addr, _ = fs.GetString("admin-addr")
	}
	if fs.Changed("greptime") {
		s, _ := fs.GetString("greptime")
		if err := setGreptimeEndpoint(cfg, s); err != nil {
			return err
		}
	}
	if fs.Changed("postgres") {
		cfg.Postgres.ConnString, _ = fs.GetString("postgres")
	}
	return nil
}

// parseSweep parses "from:to:step".
func parseSweep(s string) (*config.Sweep, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid sweep %q: want from:to:step", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep %q: %w", s, err)
		}
		vals[i] = v
	}
	return &config.Sweep{From: vals[0], To: vals[1], Step: vals[2]}, nil
}

func setGreptimeEndpoint(cfg *config.Config, endpoint string) error {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		cfg.Greptime.Host = endpoint
		return nil
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid greptime port %q", port)
	}
	cfg.Greptime.Host = host
	cfg.Greptime.Port = p
	return nil
}

// benchOptions derives the orchestrator options from cfg.
func benchOptions(cfg *config.Config, runID string) bench.Options {
	return bench.Options{
		RunID:         runID,
		Kind:          cfg.Measurement.Kind,
		Mode:          cfg.Mode,
		Field:         cfg.Output.Field,
		Runs:          cfg.Measurement.Runs,
		Params:        cfg.Params(),
		Swept:         cfg.Swept(),
		Target:        cfg.Measurement.Target,
		Timeout:       cfg.Measurement.ObserveTimeout,
		Address:       cfg.Discovery.Address,
		EventPrefix:   cfg.EventPrefix(),
		StartedReason: cfg.Measurement.StartedReason,
		MeasureFrom:   cfg.Measurement.MeasureFrom,
	}
}

func newPerturber(cfg *config.Config, c *cluster.Clients, log *slog.Logger) cluster.Perturber {
	if cfg.Mode == config.ModeNeuropil {
		np := cfg.Neuropil
		return cluster.NewDeploymentScaler(c, cfg.Namespace, np.Deployment, np.PodSelector, np.Replicas, np.PodWaitTimeout, log)
	}
	nm := cfg.Netman
	return cluster.NewDaemonSetToggle(c, cfg.Namespace, nm.DaemonSet, nm.EnabledSelector, nm.DisabledSelector, log)
}

func runExperiment(cfg *config.Config, verbose, useTUI bool) error {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if useTUI && !interactive {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal, falling back to console output")
		useTUI = false
	}

	logOut := os.Stderr
	if useTUI {
		f, err := os.OpenFile(cfg.Output.Path+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log := logging.New(logOut, verbose)

	clients, err := cluster.Connect(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		if errors.Is(err, cluster.ErrNoContext) {
			return fmt.Errorf("no usable kube context: %w", err)
		}
		return err
	}
	gvr := cluster.RecordResource(cfg.Discovery.Group, cfg.Discovery.Version, cfg.Discovery.Resource)

	opts := benchOptions(cfg, uuid.NewString())
	reg := prometheus.NewRegistry()
	out, err := newWriters(cfg, opts, writerSettings{tui: useTUI, colorize: interactive, registry: reg})
	if err != nil {
		return err
	}
	defer out.Close()
	out.SetLogger(log)

	orch := bench.NewOrchestrator(opts,
		cluster.NewResetter(clients, cfg.Namespace, gvr, log),
		newPerturber(cfg, clients, log),
		bench.ObserverWatcher(cluster.NewObserver(clients, cfg.Namespace, gvr)),
		out)
	log.Info("experiment starting", "run_id", opts.RunID, "mode", cfg.Mode, "kind", opts.Kind,
		"runs", opts.Runs, "params", opts.Params, "output", cfg.Output.Path)

	var g run.Group
	{
		ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), log))
		g.Add(func() error {
			report, err := orch.Run(ctx)
			for _, p := range report.Params {
				log.Info("param finished", "param", p.Param, "trials", p.Trials, "samples", p.Samples,
					"timeouts", p.Timeouts, "errors", p.Errors, "mean_seconds", p.Mean)
			}
			return err
		}, func(error) {
			cancel()
		})
	}
	if cfg.Admin.Addr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		srv := admin.NewServer(orch.Progress(), reg)
		g.Add(func() error {
			log.Info("admin server listening", "addr", cfg.Admin.Addr)
			out.SetAdminStatus(true)
			defer out.SetAdminStatus(false)
			return srv.Start(ctx, cfg.Admin.Addr)
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		execute, interrupt := run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM)
		g.Add(execute, func(err error) {
			interrupt(err)
			cancel()
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info("experiment interrupted", "signal", sig.Signal.String())
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("experiment finished", "output", cfg.Output.Path, "mirror_failures", out.MirrorFailures())
	return nil
}
