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

package main

import (
	"bytes"
	"testing"

	"github.com/cmars/pmux/internal/muxer"
)

func TestPrintEventFormatsEachKind(t *testing.T) {
	tests := []struct {
		name string
		ev   muxer.Event
		want string
	}{
		{
			name: "child wrote",
			ev:   muxer.ChildWrote{Pid: 42, ProgPath: "/bin/echo", Tag: muxer.Stdout, Line: "hi\n"},
			want: "42 /bin/echo[stdout]: hi\n",
		},
		{
			name: "fd closed",
			ev:   muxer.FdClosed{Pid: 42, ProgPath: "/bin/echo", Tag: muxer.Stderr},
			want: "42 /bin/echo[stderr]: (closed)\n",
		},
		{
			name: "terminated normally",
			ev:   muxer.ChildTerminated{Pid: 42, ProgPath: "/bin/echo", ExitStatus: muxer.ExitStatus{ExitCode: 0}},
			want: "42 /bin/echo: terminated, exit code 0\n",
		},
		{
			name: "terminated by signal",
			ev:   muxer.ChildTerminated{Pid: 42, ProgPath: "/bin/echo", ExitStatus: muxer.ExitStatus{Signaled: true, Signal: 9, ExitCode: 137}},
			want: "42 /bin/echo: terminated, killed by signal 9\n",
		},
		{
			name: "signal received",
			ev:   muxer.SignalReceived{Signal: muxer.Terminate},
			want: "received terminate\n",
		},
	}

	for _, test := range tests {
		var buf bytes.Buffer
		printEvent(&buf, test.ev)
		if buf.String() != test.want {
			t.Errorf("%s: printEvent = %q, want %q", test.name, buf.String(), test.want)
		}
	}
}
