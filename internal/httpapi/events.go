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
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cmars/pmux/internal/logger"
	"github.com/cmars/pmux/internal/muxer"
)

var upgrader = websocket.Upgrader{
	// This is a local operator tool, not a browser-facing service, so
	// there's no cross-site origin to defend against here.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// eventEnvelope is the wire shape of a muxer.Event: a flat JSON object
// tagged by Type, with the fields that don't apply to that type left
// zero/omitted.
type eventEnvelope struct {
	Type     string    `json:"type"`
	Pid      muxer.Pid `json:"pid"`
	ProgPath string    `json:"prog_path"`
	Tag      string    `json:"tag,omitempty"`
	Line     string    `json:"line,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
	Signaled bool      `json:"signaled,omitempty"`
	Signal   string    `json:"signal,omitempty"`
}

func encodeEvent(ev muxer.Event) eventEnvelope {
	switch e := ev.(type) {
	case muxer.ChildTerminated:
		return eventEnvelope{
			Type:     "child_terminated",
			Pid:      e.Pid,
			ProgPath: e.ProgPath,
			ExitCode: e.ExitStatus.ExitCode,
			Signaled: e.ExitStatus.Signaled,
		}
	case muxer.ChildWrote:
		return eventEnvelope{
			Type:     "child_wrote",
			Pid:      e.Pid,
			ProgPath: e.ProgPath,
			Tag:      e.Tag.String(),
			Line:     e.Line,
		}
	case muxer.FdClosed:
		return eventEnvelope{
			Type:     "fd_closed",
			Pid:      e.Pid,
			ProgPath: e.ProgPath,
			Tag:      e.Tag.String(),
		}
	case muxer.SignalReceived:
		return eventEnvelope{
			Type:   "signal_received",
			Signal: e.Signal.String(),
		}
	default:
		return eventEnvelope{Type: "unknown"}
	}
}

// getEvents upgrades the connection to a websocket and streams every
// subsequently observed event as a JSON text frame, until the client
// disconnects.
func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Noticef("Cannot upgrade to websocket: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := a.registry.Subscribe()
	defer cancel()

	// Detect the client going away by discarding whatever it sends us;
	// gorilla/websocket requires reads to keep control frames (pings,
	// close) flowing even on a write-only stream.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(encodeEvent(ev)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
