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

	"golang.org/x/sys/unix"
)

// reapedChild is one child's termination, discovered by a single
// childReaper.reap call.
type reapedChild struct {
	pid        Pid
	progPath   string
	exitStatus ExitStatus
}

// childReaper turns SIGCHLD readiness into a batch of terminated
// children. SIGCHLD coalesces: one delivery can mean several children
// exited, so every readiness notification triggers a sweep over every
// live child, each waited on individually rather than with a wildcard
// wait. A wildcard `Wait4(-1, ...)` would reap whatever child of this
// process happens to be waitable first, including one spawned and
// awaited by unrelated code sharing the process — stealing its exit
// status out from under it.
type childReaper struct {
	pipe *selfPipe
}

func newChildReaper() (*childReaper, error) {
	pipe, err := newSelfPipe(nil, unix.SIGCHLD)
	if err != nil {
		return nil, fmt.Errorf("cannot install child reaper: %w", err)
	}
	return &childReaper{pipe: pipe}, nil
}

func (r *childReaper) source() int { return r.pipe.source() }

func (r *childReaper) close() error { return r.pipe.close() }

// reap drains the self-pipe, then attempts a non-blocking, per-pid
// wait for every live child, removing reaped entries from children and
// recording each exit status exactly once in its shared cell before
// returning the batch.
func (r *childReaper) reap(children map[Pid]*childRecord) []reapedChild {
	r.pipe.drain()

	var reaped []reapedChild
	for pid, rec := range children {
		ws, terminated, err := waitPid(pid)
		if err != nil {
			panic(fmt.Sprintf("muxer: unexpected error reaping pid %v: %v", pid, err))
		}
		if !terminated {
			continue
		}
		status := waitStatusToExitStatus(ws)
		rec.exitStatus.set(status)
		reaped = append(reaped, reapedChild{pid: pid, progPath: rec.progPath, exitStatus: status})
		delete(children, pid)
	}
	return reaped
}

// waitPid issues a single targeted, non-blocking wait for pid, retrying
// transparently on EINTR. ECHILD (no such child, e.g. already reaped)
// is reported as simply not-yet-terminated rather than an error.
func waitPid(pid Pid) (ws unix.WaitStatus, terminated bool, err error) {
	for {
		got, werr := unix.Wait4(int(pid), &ws, unix.WNOHANG, nil)
		switch {
		case werr == unix.EINTR:
			continue
		case werr == unix.ECHILD:
			return ws, false, nil
		case werr != nil:
			return ws, false, werr
		case got == 0:
			return ws, false, nil
		default:
			return ws, true, nil
		}
	}
}

func waitStatusToExitStatus(ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		sig := int(ws.Signal())
		return ExitStatus{ExitCode: 128 + sig, Signaled: true, Signal: sig}
	}
	return ExitStatus{ExitCode: ws.ExitStatus()}
}
