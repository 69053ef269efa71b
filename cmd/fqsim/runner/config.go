/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runner

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/electrikyouthh/fqcodel/internal/sim"
	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
)

// envPrefix is the prefix of environment overrides, e.g. FQSIM_SIMULATION_DURATION=30s.
const envPrefix = "FQSIM"

// Config is the root configuration of the simulator binary.
type Config struct {
	Log        logutil.Options `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Simulation sim.Config      `mapstructure:"simulation" yaml:"simulation"`
	// Report is where the run report is written as YAML. "-" means stdout, empty disables the report.
	Report string `mapstructure:"report" yaml:"report"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// BindAddress is the listen address of the metrics server. Empty disables the server.
	BindAddress string `mapstructure:"bindAddress" yaml:"bindAddress"`
	// EnablePprof serves the runtime profiles under /debug/pprof/ next to the metrics.
	EnablePprof bool `mapstructure:"enablePprof" yaml:"enablePprof"`
}

// DefaultConfig returns the configuration used when no file or flag overrides a setting.
func DefaultConfig() *Config {
	return &Config{
		Log: logutil.Options{
			Verbosity: logutil.DEFAULT,
			Outputs:   []string{"stderr"},
			Rotation:  logutil.RotationOptions{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28},
		},
		Metrics:    MetricsConfig{BindAddress: ":9090", EnablePprof: true},
		Simulation: *sim.Default(),
		Report:     "-",
	}
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"v":              "log.verbosity",
	"log-output":     "log.outputs",
	"metrics-addr":   "metrics.bindAddress",
	"enable-pprof":   "metrics.enablePprof",
	"report":         "report",
	"duration":       "simulation.duration",
	"tick":           "simulation.tick",
	"realtime":       "simulation.realtime",
	"link-rate-mbps": "simulation.linkRateMbps",
	"seed":           "simulation.seed",
}

// bindFlags registers the configuration flags on fs.
func bindFlags(fs *pflag.FlagSet) {
	def := DefaultConfig()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	fs.Int("v", def.Log.Verbosity, "Number for the log level verbosity")
	fs.StringSlice("log-output", def.Log.Outputs, "Log outputs: stdout, stderr or file paths (rotated)")
	fs.String("metrics-addr", def.Metrics.BindAddress, "Prometheus metrics listen address; empty disables it")
	fs.Bool("enable-pprof", def.Metrics.EnablePprof, "Enables pprof handlers on the metrics server")
	fs.String("report", def.Report, `Path the YAML run report is written to; "-" for stdout`)
	fs.Duration("duration", def.Simulation.Duration, "Simulated time to run for")
	fs.Duration("tick", def.Simulation.Tick, "Simulation time step")
	fs.Bool("realtime", def.Simulation.Realtime, "Pace the simulation against the wall clock")
	fs.Float64("link-rate-mbps", def.Simulation.LinkRateMbps, "Link drain rate in Mbit/s")
	fs.Uint64("seed", def.Simulation.Seed, "Seed for arrival jitter")
}

// LoadConfig layers, from lowest to highest precedence: defaults, the YAML file at path (if any), FQSIM_*
// environment variables and flags explicitly set on fs.
func LoadConfig(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %q: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("invalid log.verbosity: %d", c.Log.Verbosity)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("invalid simulation: %w", err)
	}
	return nil
}
