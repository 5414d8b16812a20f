// Copyright (c) 2021 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package httpapi

import (
	"sort"
	"sync"

	"github.com/cmars/pmux/internal/muxer"
)

// StatusEntry is one live child as reported by GET /v1/status.
type StatusEntry struct {
	Pid      muxer.Pid `json:"pid"`
	ProgPath string    `json:"prog_path"`
}

// Registry is the bridge between the Muxer's single-goroutine pump
// loop and the HTTP API's handler goroutines. The Muxer itself isn't
// safe for concurrent use, so nothing here ever calls back into it;
// instead, whatever goroutine runs Pump calls Spawned and Record as it
// observes spawns and events, and Registry makes a consistent,
// lock-protected view of that available to HTTP handlers.
type Registry struct {
	mu          sync.Mutex
	pids        map[muxer.Pid]string
	subscribers map[int]chan muxer.Event
	nextSub     int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pids:        make(map[muxer.Pid]string),
		subscribers: make(map[int]chan muxer.Event),
	}
}

// Spawned records a newly spawned child. Call it right after a
// successful Muxer.Spawn.
func (r *Registry) Spawned(pid muxer.Pid, progPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids[pid] = progPath
}

// Record feeds one event from the pump loop into the registry: it
// retires terminated children from the status view and fans the event
// out to every active /v1/events subscriber. A subscriber whose buffer
// is full misses the event rather than blocking the pump; it stays
// subscribed.
func (r *Registry) Record(ev muxer.Event) {
	r.mu.Lock()
	if term, ok := ev.(muxer.ChildTerminated); ok {
		delete(r.pids, term.Pid)
	}
	subs := make([]chan muxer.Event, 0, len(r.subscribers))
	for _, ch := range r.subscribers {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Status returns a snapshot of currently live children, ordered by
// pid for a stable response body.
func (r *Registry) Status() []StatusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]StatusEntry, 0, len(r.pids))
	for pid, progPath := range r.pids {
		entries = append(entries, StatusEntry{Pid: pid, ProgPath: progPath})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Pid < entries[j].Pid })
	return entries
}

// Subscribe registers a new listener for every event Record observes
// from here on. The caller must invoke the returned cancel func
// exactly once, typically when its websocket connection closes.
func (r *Registry) Subscribe() (<-chan muxer.Event, func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan muxer.Event, 32)
	r.subscribers[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
	return ch, cancel
}
