// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metricsink

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcap/flowcap/exporter"
	"github.com/flowcap/flowcap/flow"
)

func TestExportFlowIncrementsByExtensionKind(t *testing.T) {
	s, err := New(exporter.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Init(nil, 0, -1))

	before := testutil.ToFloat64(exportedFlows.WithLabelValues("http_request"))

	record := &flow.FlowRecord{OctetTotalLength: 128}
	require.NoError(t, record.AddExtension(flow.ExtHTTPRequest, "dummy"))
	require.NoError(t, s.ExportFlow(record))

	assert.Equal(t, before+1, testutil.ToFloat64(exportedFlows.WithLabelValues("http_request")))
}

func TestExportFlowWithNoExtensionCountsAsNone(t *testing.T) {
	s, err := New(exporter.Config{})
	require.NoError(t, err)

	before := testutil.ToFloat64(exportedFlows.WithLabelValues("none"))
	require.NoError(t, s.ExportFlow(&flow.FlowRecord{}))
	assert.Equal(t, before+1, testutil.ToFloat64(exportedFlows.WithLabelValues("none")))
}

func TestExportPacketIncrementsCounter(t *testing.T) {
	s, err := New(exporter.Config{})
	require.NoError(t, err)

	before := testutil.ToFloat64(exportedPackets)
	require.NoError(t, s.ExportPacket(&flow.Packet{}))
	assert.Equal(t, before+1, testutil.ToFloat64(exportedPackets))
}

func TestCloseIsNoOp(t *testing.T) {
	s, err := New(exporter.Config{})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
