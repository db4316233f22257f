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

// Package json re-exports goccy/go-json's encoder under the stdlib-shaped
// surface the rest of the tree uses, so call sites never import
// encoding/json or goccy/go-json directly.
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

type (
	RawMessage = gojson.RawMessage
)

// Encoder writes one JSON value per Encode call, newline-delimited.
type Encoder interface {
	Encode(v any) error
}

// NewEncoder returns an Encoder writing newline-delimited JSON to w.
func NewEncoder(w io.Writer) Encoder {
	return gojson.NewEncoder(w)
}

// Marshal, Unmarshal and Valid are exposed for call sites that need
// one-shot encoding/decoding or payload validation without a stream.
func Marshal(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

func Unmarshal(b []byte, v any) error {
	return gojson.Unmarshal(b, v)
}

func Valid(b []byte) bool {
	return gojson.Valid(b)
}
