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

package muxer

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// signalOrder is the fixed delivery order applied when more than one
// signal is pending at drain time, oldest-conceptual-priority first.
// It only matters when multiple distinct signals coalesce between two
// polls; repeats of the same signal are deduplicated into one event.
var signalOrder = [...]Signal{Hangup, Interrupt, Terminate}

// signalSource surfaces SIGHUP, SIGINT and SIGTERM as Signal events.
// SIGTERM maps to Terminate, not Interrupt.
type signalSource struct {
	pipe *selfPipe

	mu      sync.Mutex
	pending map[Signal]bool
}

func newSignalSource() (*signalSource, error) {
	ss := &signalSource{pending: make(map[Signal]bool, len(signalOrder))}
	pipe, err := newSelfPipe(ss.record, unix.SIGHUP, unix.SIGINT, unix.SIGTERM)
	if err != nil {
		return nil, fmt.Errorf("cannot install signal source: %w", err)
	}
	ss.pipe = pipe
	return ss, nil
}

func (ss *signalSource) record(sig os.Signal) {
	s, ok := mapOSSignal(sig)
	if !ok {
		return
	}
	ss.mu.Lock()
	ss.pending[s] = true
	ss.mu.Unlock()
}

func mapOSSignal(sig os.Signal) (Signal, bool) {
	switch sig {
	case unix.SIGHUP:
		return Hangup, true
	case unix.SIGINT:
		return Interrupt, true
	case unix.SIGTERM:
		return Terminate, true
	default:
		return 0, false
	}
}

func (ss *signalSource) source() int { return ss.pipe.source() }

func (ss *signalSource) close() error { return ss.pipe.close() }

// drain empties the wake pipe and returns every distinct signal
// received since the last drain, clearing the pending set.
func (ss *signalSource) drain() []Signal {
	ss.pipe.drain()

	ss.mu.Lock()
	defer ss.mu.Unlock()
	var out []Signal
	for _, s := range signalOrder {
		if ss.pending[s] {
			out = append(out, s)
			delete(ss.pending, s)
		}
	}
	return out
}
