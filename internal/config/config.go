// Package config loads server settings from an optional astrogator.{yaml,
// toml,json} file, ASTROGATOR_* environment variables and command-line
// overrides, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/astrogator/core"
	"github.com/signalsfoundry/astrogator/timectrl"
)

// EnvPrefix prefixes every environment variable, e.g. ASTROGATOR_KERNEL_DIR
// or ASTROGATOR_FLEET_SCALE.
const EnvPrefix = "ASTROGATOR"

// Config is the resolved server configuration.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	KernelDir  string
	DataDir    string
	BodiesFile string

	Fleet FleetConfig
	Clock ClockConfig

	PathPoints int
}

// FleetConfig controls initial fleet placement and propagation.
type FleetConfig struct {
	StartUTC      string
	ReferenceBody string
	Scale         float64
	Policy        core.PropagationPolicy
}

// ClockConfig controls the simulation clock.
type ClockConfig struct {
	// Start is the simulation time at process start; zero follows the wall
	// clock.
	Start time.Time
	Rate  float64
	// PropagateInterval is how often the whole fleet is moved to the clock's
	// now. Zero disables the background sweep.
	PropagateInterval time.Duration
}

var defaults = map[string]any{
	"grpc_addr":                ":50051",
	"metrics_addr":             ":9090",
	"kernel_dir":               "kernels",
	"data_dir":                 "data",
	"bodies_file":              "",
	"fleet.start_utc":          "2026-02-02T12:00:00",
	"fleet.reference_body":     "EARTH",
	"fleet.scale":              0.99,
	"fleet.policy":             string(core.DefaultPolicy),
	"clock.start":              "",
	"clock.rate":               1.0,
	"clock.propagate_interval": "0s",
	"orbit.path_points":        120,
}

// Load resolves the configuration. An empty file searches for astrogator.*
// in the working directory and /etc/astrogator and tolerates its absence; a
// named file must exist. overrides take precedence over everything else and
// use the dotted key names (e.g. "fleet.policy").
func Load(file string, overrides map[string]any) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("astrogator")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/astrogator")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	cfg := Config{
		GRPCAddr:    v.GetString("grpc_addr"),
		MetricsAddr: v.GetString("metrics_addr"),
		KernelDir:   v.GetString("kernel_dir"),
		DataDir:     v.GetString("data_dir"),
		BodiesFile:  v.GetString("bodies_file"),
		Fleet: FleetConfig{
			StartUTC:      v.GetString("fleet.start_utc"),
			ReferenceBody: strings.ToUpper(strings.TrimSpace(v.GetString("fleet.reference_body"))),
			Scale:         v.GetFloat64("fleet.scale"),
		},
		Clock: ClockConfig{
			Rate:              v.GetFloat64("clock.rate"),
			PropagateInterval: v.GetDuration("clock.propagate_interval"),
		},
		PathPoints: v.GetInt("orbit.path_points"),
	}

	policy, err := core.ParsePropagationPolicy(v.GetString("fleet.policy"))
	if err != nil {
		return Config{}, fmt.Errorf("fleet.policy: %w", err)
	}
	cfg.Fleet.Policy = policy

	if raw := strings.TrimSpace(v.GetString("clock.start")); raw != "" {
		start, err := timectrl.ParseTime(raw)
		if err != nil {
			return Config{}, fmt.Errorf("clock.start: %w", err)
		}
		cfg.Clock.Start = start
	}

	switch {
	case cfg.Fleet.Scale <= 0:
		return Config{}, fmt.Errorf("fleet.scale must be positive, got %v", cfg.Fleet.Scale)
	case cfg.Clock.Rate < 0:
		return Config{}, fmt.Errorf("clock.rate must not be negative, got %v", cfg.Clock.Rate)
	case cfg.Clock.PropagateInterval < 0:
		return Config{}, fmt.Errorf("clock.propagate_interval must not be negative, got %v", cfg.Clock.PropagateInterval)
	case cfg.PathPoints <= 0:
		return Config{}, fmt.Errorf("orbit.path_points must be positive, got %d", cfg.PathPoints)
	case cfg.Fleet.ReferenceBody == "":
		return Config{}, errors.New("fleet.reference_body is required")
	}
	return cfg, nil
}
