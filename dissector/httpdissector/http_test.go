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

package httpdissector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcap/flowcap/flow"
)

type fakeSink struct {
	flows []*flow.FlowRecord
}

// ExportFlow keeps a copy of record: the cache reuses a flushed record for
// the next flow once ExportFlow returns.
func (s *fakeSink) ExportFlow(record *flow.FlowRecord) error {
	cp := &flow.FlowRecord{
		IPVersion:        record.IPVersion,
		SrcIP:            record.SrcIP,
		DstIP:            record.DstIP,
		SrcPort:          record.SrcPort,
		DstPort:          record.DstPort,
		IPProto:          record.IPProto,
		Reversed:         record.Reversed,
		StartTimestamp:   record.StartTimestamp,
		EndTimestamp:     record.EndTimestamp,
		PktTotalCount:    record.PktTotalCount,
		OctetTotalLength: record.OctetTotalLength,
		TCPControlBits:   record.TCPControlBits,
		IPTOS:            record.IPTOS,
		IPTTL:            record.IPTTL,
	}
	for _, ext := range record.Extensions() {
		if err := cp.AddExtension(ext.Kind, ext.Data); err != nil {
			return err
		}
	}
	s.flows = append(s.flows, cp)
	return nil
}

func httpPacket(t time.Time, srcIP, dstIP byte, srcPort, dstPort uint16, payload string) *flow.Packet {
	var src, dst flow.IP
	src[0], dst[0] = srcIP, dstIP
	return &flow.Packet{
		Timestamp: t,
		IPVersion: flow.IPv4,
		SrcIP:     src,
		DstIP:     dst,
		IPProto:   flow.ProtoTCP,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		Payload:   []byte(payload),
		L3Bytes:   []byte(payload),
	}
}

// S1 — HTTP request then response on the same flow.
func TestHTTPRequestThenResponseSameFlow(t *testing.T) {
	sink := &fakeSink{}
	d := New()
	c, err := flow.NewCache(flow.Config{
		CacheSize: 32, LineSize: 32,
		ActiveTimeout: time.Hour, InactiveTimeout: time.Hour,
	}, sink, []flow.Dissector{d})
	require.NoError(t, err)

	base := time.Unix(0, 0)
	c.Put(httpPacket(base, 1, 2, 40000, 80, "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"))
	c.Put(httpPacket(base.Add(time.Millisecond), 2, 1, 80, 40000, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n"))
	c.Close()

	require.Len(t, sink.flows, 1)
	rec := sink.flows[0]
	assert.EqualValues(t, 2, rec.PktTotalCount)

	reqAny, ok := rec.GetExtension(flow.ExtHTTPRequest)
	require.True(t, ok)
	req := reqAny.(Request)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "x", req.Host)
	assert.Equal(t, "/a", req.URL)

	respAny, ok := rec.GetExtension(flow.ExtHTTPResponse)
	require.True(t, ok)
	resp := respAny.(Response)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html", resp.ContentType)
}

// S2 — a second request on the same flow flushes the first transaction.
func TestHTTPSecondRequestFlushes(t *testing.T) {
	sink := &fakeSink{}
	d := New()
	c, err := flow.NewCache(flow.Config{
		CacheSize: 32, LineSize: 32,
		ActiveTimeout: time.Hour, InactiveTimeout: time.Hour,
	}, sink, []flow.Dissector{d})
	require.NoError(t, err)

	base := time.Unix(0, 0)
	c.Put(httpPacket(base, 1, 2, 40000, 80, "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"))
	c.Put(httpPacket(base.Add(time.Millisecond), 1, 2, 40000, 80, "GET /b HTTP/1.1\r\nHost: y\r\n\r\n"))
	c.Close()

	require.Len(t, sink.flows, 2)

	first := sink.flows[0]
	assert.EqualValues(t, 1, first.PktTotalCount)
	req1, _ := first.GetExtension(flow.ExtHTTPRequest)
	assert.Equal(t, "x", req1.(Request).Host)
	assert.Equal(t, "/a", req1.(Request).URL)

	second := sink.flows[1]
	assert.EqualValues(t, 1, second.PktTotalCount)
	req2, _ := second.GetExtension(flow.ExtHTTPRequest)
	assert.Equal(t, "y", req2.(Request).Host)
	assert.Equal(t, "/b", req2.(Request).URL)
}

func TestParseRequestRejectsUnknownMethod(t *testing.T) {
	_, ok := parseRequest([]byte("FOO /a HTTP/1.1\r\nHost: x\r\n\r\n"))
	assert.False(t, ok)
}

func TestParseRequestRejectsMissingSecondSpace(t *testing.T) {
	_, ok := parseRequest([]byte("GET /aHTTP/1.1\r\nHost: x\r\n\r\n"))
	assert.False(t, ok)
}

func TestParseRequestEmptyPayload(t *testing.T) {
	_, ok := parseRequest(nil)
	assert.False(t, ok)
}

func TestParseRequestLFOnlyTermination(t *testing.T) {
	req, ok := parseRequest([]byte("GET /a HTTP/1.1\nHost: x\n\n"))
	require.True(t, ok)
	assert.Equal(t, "x", req.Host)
	assert.Equal(t, "/a", req.URL)
}

// Header matching is case-sensitive, preserved for bit-compatibility
// (§9 Open Question): a lowercase "host" header is not recognised.
func TestParseRequestHeaderMatchIsCaseSensitive(t *testing.T) {
	req, ok := parseRequest([]byte("GET /a HTTP/1.1\r\nhost: x\r\n\r\n"))
	require.True(t, ok)
	assert.Empty(t, req.Host)
}

func TestParseRequestFieldsTruncateToCapacity(t *testing.T) {
	long := make([]byte, fieldCapacity+50)
	for i := range long {
		long[i] = 'a'
	}
	payload := "GET /a HTTP/1.1\r\nHost: " + string(long) + "\r\n\r\n"
	req, ok := parseRequest([]byte(payload))
	require.True(t, ok)
	assert.Len(t, req.Host, fieldCapacity)
}

// §9 Open Question resolved permissively: any positive integer is a valid
// status code, including non-three-digit values.
func TestParseResponseAcceptsNonThreeDigitStatusCode(t *testing.T) {
	resp, ok := parseResponse([]byte("HTTP/1.1 99 WEIRD\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, 99, resp.StatusCode)
}

func TestParseResponseRejectsNonPositiveStatusCode(t *testing.T) {
	_, ok := parseResponse([]byte("HTTP/1.1 0 OK\r\n\r\n"))
	assert.False(t, ok)
}

func TestParseResponseRejectsBadPrefix(t *testing.T) {
	_, ok := parseResponse([]byte("NOTHTTP 200 OK\r\n\r\n"))
	assert.False(t, ok)
}

func TestClassifyIgnoresNonHTTPPorts(t *testing.T) {
	_, ok := classify(&flow.Packet{SrcPort: 1234, DstPort: 5678})
	assert.False(t, ok)
}
