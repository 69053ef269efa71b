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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocol_ReactsToAdvisory(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		proto    Protocol
		wantName string
		want     bool
	}{
		{proto: ProtocolTCP, wantName: "TCP", want: true},
		{proto: ProtocolQUIC, wantName: "QUIC", want: true},
		{proto: ProtocolUDP, wantName: "UDP", want: false},
		{proto: Protocol(1), wantName: "1", want: false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.wantName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.wantName, tc.proto.String())
			assert.Equal(t, tc.want, tc.proto.ReactsToAdvisory())
		})
	}
}

func TestPacketFlags_Has(t *testing.T) {
	t.Parallel()
	f := FlagFlowAdvisory
	assert.True(t, f.Has(FlagFlowAdvisory))
	assert.False(t, f.Has(FlagGuarded))
	assert.False(t, f.Has(FlagFlowAdvisory|FlagGuarded), "Has should require every bit")
	assert.True(t, f.Has(0))
}

func TestBatch_Empty(t *testing.T) {
	t.Parallel()
	b := NewBatch()
	assert.Nil(t, b.Head())
	assert.Zero(t, b.Count())
	assert.Zero(t, b.Bytes())
}

func TestResult(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		result             Result
		wantName           string
		wantDropped        bool
		wantFlowControlled bool
	}{
		{result: ResultSuccess, wantName: "Success"},
		{result: ResultSuccessWithFlowControl, wantName: "SuccessWithFlowControl", wantFlowControlled: true},
		{result: ResultDrop, wantName: "Drop", wantDropped: true},
		{result: ResultDropWithFlowControl, wantName: "DropWithFlowControl", wantDropped: true,
			wantFlowControlled: true},
		{result: ResultCompressed, wantName: "Compressed"},
		{result: Result(42), wantName: "UnknownResult(42)"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.wantName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.wantName, tc.result.String())
			assert.Equal(t, tc.wantDropped, tc.result.Dropped())
			assert.Equal(t, tc.wantFlowControlled, tc.result.FlowControlled())
		})
	}
}
