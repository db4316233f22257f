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

package statsdissector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowcap/flowcap/flow"
)

type fakeStatsSource struct {
	stats flow.Stats
}

func (f *fakeStatsSource) Stats() flow.Stats { return f.stats }

func TestFinishStopsGoroutineAndReturns(t *testing.T) {
	src := &fakeStatsSource{stats: flow.Stats{PacketsIngested: 42}}
	d := New(time.Hour)
	d.Start(src)

	done := make(chan struct{})
	go func() {
		d.Finish()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Finish did not return")
	}
}

func TestStatsDissectorHooksAreNoOps(t *testing.T) {
	d := New(time.Hour)
	assert.Equal(t, flow.StatusOK, d.PostCreate(nil, nil))
	assert.Equal(t, flow.StatusOK, d.PreUpdate(nil, nil))
	assert.Equal(t, flow.StatusOK, d.PostUpdate(nil, nil))
	d.PreExport(nil)
	assert.False(t, d.IncludesBasicFlow())
	assert.Nil(t, d.AdvertisedExtensionKinds())
}
