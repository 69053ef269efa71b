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

// Package logging builds the logr loggers used across the module on top of controller-runtime's zap integration.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// atomicLevel is shared by every logger built by this package so verbosity can be changed after construction.
var atomicLevel = uberzap.NewAtomicLevelAt(zapcore.InfoLevel)

// RotationOptions configures size-based rotation of file outputs.
type RotationOptions struct {
	MaxSizeMB  int  `mapstructure:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int  `mapstructure:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int  `mapstructure:"maxAgeDays" yaml:"maxAgeDays"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// Options configures `NewLogger`.
type Options struct {
	// Verbosity is the logr V-level enabled, e.g. `DEBUG`. Zero logs Info and Error only.
	Verbosity int `mapstructure:"verbosity" yaml:"verbosity"`
	// Development switches to a human-readable console encoder.
	Development bool `mapstructure:"development" yaml:"development"`
	// Outputs lists "stdout", "stderr" or file paths. Defaults to stderr.
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`
	// Rotation applies to every file output.
	Rotation RotationOptions `mapstructure:"rotation" yaml:"rotation"`
}

// NewLogger builds a logr.Logger writing to the configured outputs and installs it as the controller-runtime logger.
// The returned closer flushes and closes file outputs.
func NewLogger(opts Options) (logr.Logger, io.Closer, error) {
	atomicLevel.SetLevel(zapcore.Level(-1 * opts.Verbosity))

	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	var (
		writers []io.Writer
		closers multiCloser
	)
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return logr.Discard(), nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
				}
			}
			lj := &lumberjack.Logger{
				Filename:   out,
				MaxSize:    max(opts.Rotation.MaxSizeMB, 10),
				MaxBackups: max(opts.Rotation.MaxBackups, 1),
				MaxAge:     max(opts.Rotation.MaxAgeDays, 7),
				Compress:   opts.Rotation.Compress,
			}
			writers = append(writers, lj)
			closers = append(closers, lj)
		}
	}

	logger := zap.New(
		zap.UseDevMode(opts.Development),
		zap.Level(atomicLevel),
		zap.WriteTo(io.MultiWriter(writers...)),
		zap.RawZapOpts(uberzap.AddCaller()),
	)
	ctrl.SetLogger(logger)
	return logger, closers, nil
}

// SetVerbosity changes the enabled V-level of every logger built by `NewLogger`.
func SetVerbosity(v int) {
	atomicLevel.SetLevel(zapcore.Level(-1 * v))
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewTestLogger creates a new Zap logger using the dev mode.
func NewTestLogger() logr.Logger {
	return zap.New(
		zap.UseDevMode(true),
		zap.Level(uberzap.NewAtomicLevelAt(zapcore.Level(-1*TRACE))),
		zap.RawZapOpts(uberzap.AddCaller()),
	)
}

// NewTestLoggerIntoContext creates a new Zap logger using the dev mode and inserts it into the given context.
func NewTestLoggerIntoContext(ctx context.Context) context.Context {
	return log.IntoContext(ctx, NewTestLogger())
}
