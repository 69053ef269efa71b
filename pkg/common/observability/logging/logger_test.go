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

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "fqsim.log")
	logger, closer, err := NewLogger(Options{Verbosity: DEBUG, Outputs: []string{path}})
	require.NoError(t, err, "NewLogger should not fail for a writable file output")

	logger.V(DEBUG).Info("debug line", "flow", "0/0x00000001/BE")
	logger.V(TRACE).Info("trace line")
	require.NoError(t, closer.Close(), "closing the file outputs should not fail")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line", "an enabled level should be written to the file")
	assert.NotContains(t, string(data), "trace line", "a level above the verbosity should be suppressed")
}

func TestNewTestLogger(t *testing.T) {
	t.Parallel()

	logger := NewTestLogger()
	assert.True(t, logger.V(TRACE).Enabled(), "the test logger should enable every level")
}
