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

// flowmerge is the secondary record-merging utility referenced by the
// agent's spec as an external collaborator (§1): it re-aggregates
// JSON-lines flow records emitted by exporter/linesink across one or more
// files, grouping by canonical flow key, without depending on the flow
// package itself — it works purely off the sink's wire format.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowcap/flowcap/internal/json"
)

// record mirrors linesink's flowEnvelope wire shape. flowmerge only reads
// the fields it needs to merge and re-emit; the extensions object is kept
// as a generic map, and any other unknown top-level field is dropped.
type record struct {
	Channel          string         `json:"channel,omitempty"`
	SrcIP            string         `json:"src_ip"`
	DstIP            string         `json:"dst_ip"`
	SrcPort          uint16         `json:"src_port"`
	DstPort          uint16         `json:"dst_port"`
	Proto            uint8          `json:"proto"`
	PktTotalCount    uint64         `json:"pkt_total_count"`
	OctetTotalLength uint64         `json:"octet_total_length"`
	TCPControlBits   uint8          `json:"tcp_control_bits"`
	IPTOS            uint8          `json:"ip_tos"`
	IPTTL            uint8          `json:"ip_ttl"`
	StartTimestamp   time.Time      `json:"start_timestamp"`
	EndTimestamp     time.Time      `json:"end_timestamp"`
	Extensions       map[string]any `json:"extensions,omitempty"`
}

// canonicalKey reproduces flow.FlowKey's direction-independent fingerprint
// from a record's already-resolved (non-bag) endpoint fields, so two
// records describing opposite directions of the same flow still merge.
type canonicalKey struct {
	proto      uint8
	ipA, ipB   string
	portA      uint16
	portB      uint16
}

func keyOf(r record) canonicalKey {
	if r.SrcIP < r.DstIP || (r.SrcIP == r.DstIP && r.SrcPort < r.DstPort) {
		return canonicalKey{proto: r.Proto, ipA: r.SrcIP, portA: r.SrcPort, ipB: r.DstIP, portB: r.DstPort}
	}
	return canonicalKey{proto: r.Proto, ipA: r.DstIP, portA: r.DstPort, ipB: r.SrcIP, portB: r.SrcPort}
}

// merge folds b into a: sum counters, min/max timestamps, OR tcp flags,
// and prefer whichever side carries the richer extension set.
func merge(a, b record) record {
	a.PktTotalCount += b.PktTotalCount
	a.OctetTotalLength += b.OctetTotalLength
	a.TCPControlBits |= b.TCPControlBits
	a.IPTOS |= b.IPTOS
	a.IPTTL = maxByte(a.IPTTL, b.IPTTL)

	if b.StartTimestamp.Before(a.StartTimestamp) {
		a.StartTimestamp = b.StartTimestamp
	}
	if b.EndTimestamp.After(a.EndTimestamp) {
		a.EndTimestamp = b.EndTimestamp
	}

	if len(b.Extensions) > len(a.Extensions) {
		a.Extensions = b.Extensions
	}
	return a
}

func maxByte(x, y uint8) uint8 {
	if y > x {
		return y
	}
	return x
}

func readRecords(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

var rootCmd = &cobra.Command{
	Use:   "flowmerge <file> [file...]",
	Short: "Merge JSON-lines flow records emitted by flowcap by canonical flow key",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merged := make(map[canonicalKey]record)
		var order []canonicalKey

		for _, path := range args {
			records, err := readRecords(path)
			if err != nil {
				return err
			}
			for _, r := range records {
				k := keyOf(r)
				if existing, ok := merged[k]; ok {
					merged[k] = merge(existing, r)
				} else {
					merged[k] = r
					order = append(order, k)
				}
			}
		}

		enc := json.NewEncoder(os.Stdout)
		for _, k := range order {
			if err := enc.Encode(merged[k]); err != nil {
				return err
			}
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
