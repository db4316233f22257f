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

// Package httpdissector implements the reference Dissector: a
// single-payload, single-header HTTP/1.x parser that classifies a packet
// as a request or response by well-known port 80 and attaches a bounded
// extension to the flow record.
package httpdissector

import (
	"bytes"
	"sync/atomic"

	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/internal/bufbytes"
	"github.com/flowcap/flowcap/internal/splitio"
	"github.com/flowcap/flowcap/logger"
)

const httpPort = 80

// fieldCapacity bounds every captured ASCII field, per §4.2's "bounded
// ASCII string" requirement.
const fieldCapacity = 256

var methods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "HEAD": {}, "DELETE": {},
	"TRACE": {}, "OPTIONS": {}, "CONNECT": {}, "PATCH": {},
}

// Request is the extension attached to flows carrying an HTTP request.
type Request struct {
	Method    string
	Host      string
	URL       string
	UserAgent string
	Referer   string
}

// Response is the extension attached to flows carrying an HTTP response.
type Response struct {
	StatusCode  int
	ContentType string
}

// Dissector implements flow.Dissector for HTTP/1.x request/response pairs.
// It keeps no per-flow state of its own: everything it needs is read from
// or written to the FlowRecord's extensions.
type Dissector struct {
	parsedRequests  atomic.Uint64
	parsedResponses atomic.Uint64
	totalAttempts   atomic.Uint64
}

// New constructs an HTTP dissector ready to register with a flow.Cache.
func New() *Dissector {
	return &Dissector{}
}

// PostCreate attempts to parse pkt's payload as an HTTP request or
// response, the same way PreUpdate does for an established flow's first
// packet of a given direction.
func (d *Dissector) PostCreate(record *flow.FlowRecord, pkt *flow.Packet) flow.Status {
	d.tryAttach(record, pkt)
	return flow.StatusOK
}

// PreUpdate parses pkt against the flow's existing extensions. If a valid
// request/response first line arrives on a flow that already carries an
// extension for that direction, the transaction is atomic per record: the
// dissector asks the cache to flush the current record and replay pkt
// against the fresh one (§4.2's flush semantics).
func (d *Dissector) PreUpdate(record *flow.FlowRecord, pkt *flow.Packet) flow.Status {
	kind, ok := classify(pkt)
	if !ok {
		return flow.StatusOK
	}
	if _, exists := record.GetExtension(kind); exists {
		if looksLikeHeader(pkt.Payload, kind) {
			return flow.StatusFlushWithReinsert
		}
		return flow.StatusOK
	}
	d.tryAttach(record, pkt)
	return flow.StatusOK
}

// PostUpdate is a no-op: parsing happens in PreUpdate/PostCreate, before
// the cache folds the packet's aggregate fields in.
func (d *Dissector) PostUpdate(*flow.FlowRecord, *flow.Packet) flow.Status {
	return flow.StatusOK
}

// PreExport does nothing: the extension, once attached, needs no
// finalization before export.
func (d *Dissector) PreExport(*flow.FlowRecord) {}

// Finish logs the dissector's lifetime counters.
func (d *Dissector) Finish() {
	logger.Infof("httpdissector: attempts=%d parsed_requests=%d parsed_responses=%d",
		d.totalAttempts.Load(), d.parsedRequests.Load(), d.parsedResponses.Load())
}

func (d *Dissector) AdvertisedExtensionKinds() []flow.ExtKind {
	return []flow.ExtKind{flow.ExtHTTPRequest, flow.ExtHTTPResponse}
}

func (d *Dissector) AdvertisedOutputSchema() (string, int) {
	return "http", 1
}

func (d *Dissector) IncludesBasicFlow() bool {
	return true
}

// classify determines request vs response by destination/source port 80,
// per §4.2. Neither port being 80 means this packet is not HTTP traffic.
func classify(pkt *flow.Packet) (flow.ExtKind, bool) {
	switch {
	case pkt.DstPort == httpPort:
		return flow.ExtHTTPRequest, true
	case pkt.SrcPort == httpPort:
		return flow.ExtHTTPResponse, true
	default:
		return 0, false
	}
}

// looksLikeHeader reports whether payload begins with a syntactically
// plausible request/response first line for kind, without fully parsing
// it — just enough to decide whether a second transaction has begun.
func looksLikeHeader(payload []byte, kind flow.ExtKind) bool {
	if len(payload) == 0 {
		return false
	}
	line, _ := firstLine(payload)
	if kind == flow.ExtHTTPRequest {
		method, _, ok := splitRequestLine(line)
		if !ok {
			return false
		}
		_, known := methods[method]
		return known
	}
	return bytes.HasPrefix(line, []byte("HTTP/"))
}

func firstLine(payload []byte) (line []byte, rest []byte) {
	scan := splitio.NewScanner(payload)
	if !scan.Scan() {
		return nil, nil
	}
	line = scan.Bytes()
	return line, payload[len(line):]
}

// tryAttach runs the full parse algorithm of §4.2 and attaches the
// resulting extension on success. Parse failure is not an error: the
// dissector simply leaves the record alone (§7).
func (d *Dissector) tryAttach(record *flow.FlowRecord, pkt *flow.Packet) {
	kind, ok := classify(pkt)
	if !ok {
		return
	}
	d.totalAttempts.Add(1)

	if len(pkt.Payload) == 0 {
		return
	}

	if kind == flow.ExtHTTPRequest {
		req, ok := parseRequest(pkt.Payload)
		if !ok {
			return
		}
		if err := record.AddExtension(flow.ExtHTTPRequest, req); err == nil {
			d.parsedRequests.Add(1)
		}
		return
	}

	resp, ok := parseResponse(pkt.Payload)
	if !ok {
		return
	}
	if err := record.AddExtension(flow.ExtHTTPResponse, resp); err == nil {
		d.parsedResponses.Add(1)
	}
}

// splitRequestLine splits a request line of the form "METHOD SP URI SP
// VERSION" into method and URI. At least two spaces must be present on the
// trimmed line, per §4.2 step 3; anything after the second space is ignored.
func splitRequestLine(line []byte) (method, uri string, ok bool) {
	line = trimCRLF(line)
	first := bytes.IndexByte(line, ' ')
	if first < 0 {
		return "", "", false
	}
	rest := line[first+1:]
	second := bytes.IndexByte(rest, ' ')
	if second < 0 {
		return "", "", false
	}
	return string(line[:first]), string(rest[:second]), true
}

func trimCRLF(line []byte) []byte {
	line = bytes.TrimSuffix(line, splitio.CharLF)
	line = bytes.TrimSuffix(line, splitio.CharCR)
	return line
}

// parseRequest implements §4.2's request algorithm.
func parseRequest(payload []byte) (Request, bool) {
	scan := splitio.NewScanner(payload)
	if !scan.Scan() {
		return Request{}, false
	}

	method, uri, ok := splitRequestLine(scan.Bytes())
	if !ok {
		return Request{}, false
	}
	if _, known := methods[method]; !known {
		return Request{}, false
	}

	url := bufbytes.New(fieldCapacity)
	url.Write([]byte(uri))
	req := Request{Method: method, URL: url.Text()}
	host := bufbytes.New(fieldCapacity)
	userAgent := bufbytes.New(fieldCapacity)
	referer := bufbytes.New(fieldCapacity)

	for scan.Scan() {
		line := scan.Bytes()
		if isBlankLine(line) {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		switch name {
		case "Host":
			host.Write([]byte(value))
		case "User-Agent":
			userAgent.Write([]byte(value))
		case "Referer":
			referer.Write([]byte(value))
		}
	}

	req.Host = host.Text()
	req.UserAgent = userAgent.Text()
	req.Referer = referer.Text()
	return req, true
}

// parseResponse implements §4.2's response algorithm (the analogous case
// the spec defers to the request description for).
func parseResponse(payload []byte) (Response, bool) {
	scan := splitio.NewScanner(payload)
	if !scan.Scan() {
		return Response{}, false
	}

	line := trimCRLF(scan.Bytes())
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		return Response{}, false
	}
	first := bytes.IndexByte(line, ' ')
	if first < 0 {
		return Response{}, false
	}
	rest := line[first+1:]
	second := bytes.IndexByte(rest, ' ')
	codeField := rest
	if second >= 0 {
		codeField = rest[:second]
	}
	code, ok := parseStatusCode(codeField)
	if !ok {
		return Response{}, false
	}

	resp := Response{StatusCode: code}
	contentType := bufbytes.New(fieldCapacity)

	for scan.Scan() {
		l := scan.Bytes()
		if isBlankLine(l) {
			break
		}
		name, value, ok := splitHeaderLine(l)
		if !ok {
			continue
		}
		if name == "Content-Type" {
			contentType.Write([]byte(value))
		}
	}

	resp.ContentType = contentType.Text()
	return resp, true
}

// parseStatusCode accepts any positive integer, including non-three-digit
// values such as "99" (an explicit Open Question in §9, resolved toward
// permissiveness: the source only rejects non-positive parses).
func parseStatusCode(field []byte) (int, bool) {
	if len(field) == 0 {
		return 0, false
	}
	n := 0
	for _, b := range field {
		if b < '0' || b > '9' {
			return 0, false
		}
		n = n*10 + int(b-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// splitHeaderLine splits a header line at the first ':', skipping the
// single leading space and trailing CR from the value (§4.2 step 5).
// Header name matching is case-sensitive, preserved for bit-compatibility
// with the source (§9's second Open Question).
func splitHeaderLine(line []byte) (name, value string, ok bool) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	n := line[:idx]
	v := line[idx+1:]
	v = bytes.TrimPrefix(v, []byte(" "))
	v = bytes.TrimSuffix(v, splitio.CharLF)
	v = bytes.TrimSuffix(v, splitio.CharCR)
	return string(n), string(v), true
}

func isBlankLine(line []byte) bool {
	return bytes.Equal(line, splitio.CharCRLF) || bytes.Equal(line, splitio.CharLF)
}
