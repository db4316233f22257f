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

package linesink

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcap/flowcap/flow"
	fcjson "github.com/flowcap/flowcap/internal/json"
)

type syncBuffer struct {
	mut sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error { return nil }

func (b *syncBuffer) Lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mut.Lock()
	defer b.mut.Unlock()
	var lines []map[string]any
	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			break
		}
		lines = append(lines, m)
	}
	return lines
}

type fakeDissector struct {
	kinds      []flow.ExtKind
	schemaName string
}

func (d *fakeDissector) PostCreate(*flow.FlowRecord, *flow.Packet) flow.Status { return flow.StatusOK }
func (d *fakeDissector) PreUpdate(*flow.FlowRecord, *flow.Packet) flow.Status  { return flow.StatusOK }
func (d *fakeDissector) PostUpdate(*flow.FlowRecord, *flow.Packet) flow.Status { return flow.StatusOK }
func (d *fakeDissector) PreExport(*flow.FlowRecord)                           {}
func (d *fakeDissector) Finish()                                              {}
func (d *fakeDissector) AdvertisedExtensionKinds() []flow.ExtKind             { return d.kinds }
func (d *fakeDissector) AdvertisedOutputSchema() (string, int)                { return d.schemaName, 1 }
func (d *fakeDissector) IncludesBasicFlow() bool                              { return true }

func newTestRecord(srcByte byte) *flow.FlowRecord {
	now := time.Unix(0, 0)
	return &flow.FlowRecord{
		IPVersion:      flow.IPv4,
		SrcIP:          flow.IP{srcByte},
		DstIP:          flow.IP{10},
		SrcPort:        1000,
		DstPort:        80,
		IPProto:        flow.ProtoTCP,
		StartTimestamp: now,
		EndTimestamp:   now,
		PktTotalCount:  1,
	}
}

func TestExportFlowRoutesByExtensionAndFlushesOnClose(t *testing.T) {
	buf := &syncBuffer{}
	sink := &Sink{wr: buf, encoder: fcjson.NewEncoder(buf)}

	httpDissector := &fakeDissector{kinds: []flow.ExtKind{flow.ExtHTTPRequest}, schemaName: "http"}
	require.NoError(t, sink.Init([]flow.Dissector{httpDissector}, 2, 1))

	withExt := newTestRecord(1)
	require.NoError(t, withExt.AddExtension(flow.ExtHTTPRequest, "dummy"))
	require.NoError(t, sink.ExportFlow(withExt))

	bare := newTestRecord(2)
	require.NoError(t, sink.ExportFlow(bare))

	require.NoError(t, sink.Close())

	lines := buf.Lines(t)
	require.Len(t, lines, 2)

	var channels []string
	for _, l := range lines {
		channels = append(channels, l["channel"].(string))
	}
	assert.Contains(t, channels, "http")
	assert.Contains(t, channels, "basic_flow")
}
