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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/electrikyouthh/fqcodel/internal/runnable"
	"github.com/electrikyouthh/fqcodel/internal/sim"
	logutil "github.com/electrikyouthh/fqcodel/pkg/common/observability/logging"
	"github.com/electrikyouthh/fqcodel/pkg/common/observability/profiling"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/metrics"
	"github.com/electrikyouthh/fqcodel/pkg/fqcodel/metrics/collectors"
	"github.com/electrikyouthh/fqcodel/version"
)

// setupLog is replaced with a named child of the configured logger once logging is initialized.
var setupLog = logr.Discard()

// Runner wires configuration, logging, metrics and the simulation together.
type Runner struct {
	executableName string
	stdout         io.Writer
}

// NewRunner returns a Runner writing reports and printed configuration to stdout.
func NewRunner() *Runner {
	return &Runner{
		executableName: "fqsim",
		stdout:         os.Stdout,
	}
}

// WithExecutableName sets the name of the executable containing the runner.
// The name is used in the startup log and flag usage and is otherwise opaque.
func (r *Runner) WithExecutableName(exeName string) *Runner {
	r.executableName = exeName
	return r
}

// WithOutput redirects the report and printed configuration.
func (r *Runner) WithOutput(w io.Writer) *Runner {
	r.stdout = w
	return r
}

// Run parses args, runs the configured simulation and blocks until it completes or ctx is done.
func (r *Runner) Run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet(r.executableName, pflag.ContinueOnError)
	bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, _ := fs.GetString("config")
	printConfig, _ := fs.GetBool("print-config")

	cfg, err := LoadConfig(path, fs)
	if err != nil {
		return err
	}
	if printConfig {
		return r.encode(cfg)
	}

	logger, closer, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closer.Close()
	setupLog = logger.WithName("setup")
	setupLog.Info(r.executableName+" build", "commit-sha", version.CommitSHA, "build-ref", version.BuildRef)
	setupLog.Info(r.executableName+" starting", "config", path, "realtime", cfg.Simulation.Realtime)

	simulator, err := sim.New(&cfg.Simulation, logger, sim.WithEventSink(metrics.Sink{}))
	if err != nil {
		setupLog.Error(err, "Failed to create simulator")
		return err
	}
	metrics.Register(collectors.NewSchedulerCollector(simulator.Scheduler()))

	g, gctx := errgroup.WithContext(ctx)
	// done is canceled once the simulation ends so the auxiliary goroutines stop with it.
	done, finish := context.WithCancel(gctx)
	defer finish()

	if cfg.Metrics.BindAddress != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.BindAddress,
			Handler:           metricsHandler(cfg.Metrics.EnablePprof),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			return runnable.HTTPServer("metrics", srv).Start(done)
		})
	}

	if simulator.Realtime() {
		g.Go(func() error {
			simulator.Scheduler().Run(done)
			return nil
		})
	}

	g.Go(func() error {
		defer finish()
		report, err := simulator.Run(gctx)
		if err != nil {
			setupLog.Error(err, "Simulation interrupted")
		}
		if report != nil {
			if werr := r.writeReport(cfg.Report, report); werr != nil {
				return werr
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	setupLog.Info(r.executableName + " terminated")
	return err
}

func metricsHandler(enablePprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	if enablePprof {
		setupLog.Info("Setting pprof handlers")
		profiling.RegisterPprofHandlers(mux)
	}
	return mux
}

func (r *Runner) writeReport(dest string, report *sim.Report) error {
	switch dest {
	case "":
		return nil
	case "-":
		return r.encode(report)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(report); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

func (r *Runner) encode(v any) error {
	enc := yaml.NewEncoder(r.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
