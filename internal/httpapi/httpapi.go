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

// Package httpapi exposes a running Muxer's state over HTTP: a status
// snapshot, a websocket event stream, and Prometheus metrics. It never
// calls back into the Muxer directly — the Muxer isn't safe for
// concurrent use — and instead reads a Registry that the caller's
// pump loop keeps up to date via Spawned and Record.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmars/pmux/internal/logger"
	"github.com/cmars/pmux/internal/muxer"
)

// API is the pmux HTTP surface.
type API struct {
	registry *Registry
	metrics  *metrics
	router   *mux.Router
}

// NewAPI builds the API and the Registry backing it. The Registry
// must be driven from the same goroutine that calls muxer.Pump.
func NewAPI() (*API, *Registry) {
	a := &API{
		registry: NewRegistry(),
		metrics:  newMetrics(),
		router:   mux.NewRouter(),
	}

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	a.router.HandleFunc("/v1/status", a.getStatus).Methods("GET")
	a.router.HandleFunc("/v1/events", a.getEvents).Methods("GET")
	a.router.Handle("/metrics", promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")

	return a, a.registry
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// HandleEvent feeds one pump event into the API: the Registry's pid
// bookkeeping and subscriber fan-out, and the Prometheus collectors.
// Call it for every event the pump loop observes.
func (a *API) HandleEvent(ev muxer.Event) {
	a.registry.Record(ev)
	a.metrics.observe(ev, len(a.registry.Status()))
}

func writeResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		logger.Noticef("Cannot marshal JSON: %v", err)
		http.Error(w, `{"error":"cannot marshal JSON"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, err = w.Write(b)
	if err != nil {
		// Very unlikely to happen, but log any error (not much more we can do)
		logger.Noticef("Cannot write JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, error string) {
	writeResponse(w, status, errorResponse{Error: error})
}

type errorResponse struct {
	Error string `json:"error"`
}
