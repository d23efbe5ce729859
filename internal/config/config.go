// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"discobench/internal/measure"
)

// Systems under test.
const (
	ModeNetman   = "netman"
	ModeNeuropil = "neuropil"
)

// DefaultField is the header written at the top of every sample file.
const DefaultField = "multicast_benchmark_time_samples"

// NetmanConfig describes the multicast network manager DaemonSet.
type NetmanConfig struct {
	DaemonSet        string            `yaml:"daemonset"`
	EnabledSelector  map[string]string `yaml:"enabled_selector"`
	DisabledSelector map[string]string `yaml:"disabled_selector"`
	EventPrefix      string            `yaml:"event_prefix"`
}

// NeuropilConfig describes the DHT discovery Deployment.
type NeuropilConfig struct {
	Deployment     string        `yaml:"deployment"`
	PodSelector    string        `yaml:"pod_selector"`
	Replicas       int32         `yaml:"replicas"`
	EventPrefix    string        `yaml:"event_prefix"`
	PodWaitTimeout time.Duration `yaml:"pod_wait_timeout"`
}

// DiscoveryConfig identifies the discovery record custom resource.
type DiscoveryConfig struct {
	Group    string `yaml:"group"`
	Version  string `yaml:"version"`
	Resource string `yaml:"resource"`
	// Address restricts matches to one peer when several testbeds share a network.
	Address string `yaml:"address"`
}

// Sweep is a half-open range of settle times in seconds.
type Sweep struct {
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`
	Step float64 `yaml:"step"`
}

// MeasurementConfig selects what a trial measures and how often.
type MeasurementConfig struct {
	Kind           measure.Kind   `yaml:"kind"`
	Runs           int            `yaml:"runs"`
	Settle         float64        `yaml:"settle"`
	Sweep          *Sweep         `yaml:"sweep"`
	Target         int            `yaml:"target"`
	ObserveTimeout time.Duration  `yaml:"observe_timeout"`
	MeasureFrom    measure.Origin `yaml:"measure_from"`
	StartedReason  string         `yaml:"started_reason"`
}

// OutputConfig locates the sample file.
type OutputConfig struct {
	Path  string `yaml:"path"`
	Field string `yaml:"field"`
}

// GreptimeConfig enables the optional GreptimeDB sample sink.
type GreptimeConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// PostgresConfig enables the optional PostgreSQL sample sink.
type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// AdminConfig enables the status and metrics HTTP server.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root experiment configuration.
type Config struct {
	Kubeconfig  string            `yaml:"kubeconfig"`
	Context     string            `yaml:"context"`
	Namespace   string            `yaml:"namespace"`
	Mode        string            `yaml:"mode"`
	Netman      NetmanConfig      `yaml:"netman"`
	Neuropil    NeuropilConfig    `yaml:"neuropil"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Output      OutputConfig      `yaml:"output"`
	Greptime    GreptimeConfig    `yaml:"greptime"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Admin       AdminConfig       `yaml:"admin"`

	// outputDerived marks Output.Path as filled from the kind, so it follows
	// later kind changes.
	outputDerived bool
}

// Default returns a configuration matching the reference testbed.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load loads YAML config and validates it against a CUE schema.
// An empty schemaPath selects the embedded schema.
func Load(configPath, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var schema []byte
	if schemaPath != "" {
		if schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("cannot read CUE schema: %w", err)
		}
	}
	if err := ValidateWithCue(configPath, data, schema); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "fluidos"
	}
	if c.Mode == "" {
		c.Mode = ModeNetman
	}
	if c.Netman.DaemonSet == "" {
		c.Netman.DaemonSet = "node-network-manager"
	}
	if len(c.Netman.EnabledSelector) == 0 {
		c.Netman.EnabledSelector = map[string]string{"node-role.fluidos.eu/worker": "true"}
	}
	if len(c.Netman.DisabledSelector) == 0 {
		c.Netman.DisabledSelector = map[string]string{"non-existent-label": "true"}
	}
	if c.Netman.EventPrefix == "" {
		c.Netman.EventPrefix = c.Netman.DaemonSet
	}
	if c.Neuropil.Deployment == "" {
		c.Neuropil.Deployment = "np-fluidos-discovery"
	}
	if c.Neuropil.PodSelector == "" {
		c.Neuropil.PodSelector = "app.kubernetes.io/name=np-discovery"
	}
	if c.Neuropil.Replicas == 0 {
		c.Neuropil.Replicas = 1
	}
	if c.Neuropil.EventPrefix == "" {
		c.Neuropil.EventPrefix = c.Neuropil.Deployment
	}
	if c.Neuropil.PodWaitTimeout == 0 {
		c.Neuropil.PodWaitTimeout = 2 * time.Minute
	}
	if c.Discovery.Group == "" {
		c.Discovery.Group = "network.fluidos.eu"
	}
	if c.Discovery.Version == "" {
		c.Discovery.Version = "v1alpha1"
	}
	if c.Discovery.Resource == "" {
		c.Discovery.Resource = "knownclusters"
	}
	if c.Measurement.Kind == "" {
		c.Measurement.Kind = measure.KindLatency
	}
	if c.Measurement.Runs == 0 {
		c.Measurement.Runs = 10
	}
	if c.Measurement.Target == 0 {
		c.Measurement.Target = 7
	}
	if c.Measurement.ObserveTimeout == 0 {
		c.Measurement.ObserveTimeout = 5 * time.Minute
	}
	if c.Measurement.MeasureFrom == "" {
		c.Measurement.MeasureFrom = measure.OriginDisable
	}
	if c.Measurement.StartedReason == "" {
		c.Measurement.StartedReason = "Started"
	}
	if c.Output.Path == "" || c.outputDerived {
		c.Output.Path = "results/" + string(c.Measurement.Kind) + "-benchmark.txt"
		c.outputDerived = true
	}
	if c.Output.Field == "" {
		c.Output.Field = DefaultField
	}
	if c.Greptime.Port == 0 {
		c.Greptime.Port = 4001
	}
	if c.Greptime.Database == "" {
		c.Greptime.Database = "public"
	}
	if c.Greptime.Table == "" {
		c.Greptime.Table = "discovery_samples"
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = "discovery_samples"
	}
}

// SetOutputPath sets an explicit sample file path.
func (c *Config) SetOutputPath(path string) {
	c.Output.Path = path
	c.outputDerived = false
}

// Validate rejects configurations the harness cannot run.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeNetman, ModeNeuropil:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeNetman, ModeNeuropil, c.Mode)
	}
	if _, err := measure.ParseKind(string(c.Measurement.Kind)); err != nil {
		return err
	}
	if c.Measurement.Runs < 1 {
		return fmt.Errorf("measurement.runs must be positive")
	}
	if c.Measurement.Settle < 0 {
		return fmt.Errorf("measurement.settle must not be negative")
	}
	if c.Measurement.ObserveTimeout <= 0 {
		return fmt.Errorf("measurement.observe_timeout must be positive")
	}
	if c.Measurement.Target < 1 {
		return fmt.Errorf("measurement.target must be positive")
	}
	switch c.Measurement.MeasureFrom {
	case measure.OriginDisable, measure.OriginEnable:
	default:
		return fmt.Errorf("measurement.measure_from must be %q or %q", measure.OriginDisable, measure.OriginEnable)
	}
	if s := c.Measurement.Sweep; s != nil {
		if s.Step <= 0 {
			return fmt.Errorf("measurement.sweep.step must be positive")
		}
		if s.From < 0 || s.To <= s.From {
			return fmt.Errorf("measurement.sweep range [%g, %g) is empty", s.From, s.To)
		}
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	return nil
}

// Params returns the settle times, in seconds, trials are run for.
func (c *Config) Params() []float64 {
	s := c.Measurement.Sweep
	if s == nil {
		return []float64{c.Measurement.Settle}
	}
	var out []float64
	for i := 0; ; i++ {
		v := round(s.From + float64(i)*s.Step)
		if v >= s.To {
			break
		}
		out = append(out, v)
	}
	return out
}

// Swept reports whether trials are grouped by settle value.
func (c *Config) Swept() bool { return c.Measurement.Sweep != nil }

// EventPrefix returns the lifecycle event name prefix of the selected workload.
func (c *Config) EventPrefix() string {
	if c.Mode == ModeNeuropil {
		return c.Neuropil.EventPrefix
	}
	return c.Netman.EventPrefix
}

// round trims accumulated float error so sweep values print cleanly.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
