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

// Package muxer implements a single-threaded, event-driven supervisor
// for a set of child processes: it spawns them, captures their stdout
// and stderr as line-oriented streams, reaps their termination, and
// optionally surfaces a handful of process signals — all delivered
// through one resumable Pump loop instead of one goroutine per
// concern.
package muxer

import (
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
)

// exitCell is a single-write cell for a child's exit status, shared
// between the childReaper (writer, on the Muxer's own goroutine) and
// the ChildHandle the caller holds (reader). Nothing here needs a
// mutex: both sides run on the same goroutine, since a caller only
// ever reads ExitStatus after observing the corresponding
// ChildTerminated event out of Pump.
type exitCell struct {
	status ExitStatus
	done   bool
}

func (c *exitCell) set(s ExitStatus) {
	if c.done {
		panic("muxer: exit status written twice")
	}
	c.status = s
	c.done = true
}

// Get returns the child's exit status and whether it has terminated
// yet.
func (c *exitCell) Get() (ExitStatus, bool) {
	return c.status, c.done
}

// childRecord is the Muxer's bookkeeping for one live child.
type childRecord struct {
	progPath   string
	exitStatus *exitCell
}

// ChildHandle is returned by Spawn. Stdin is nil unless requested.
type ChildHandle struct {
	Pid      Pid
	ProgPath string
	Stdin    io.WriteCloser

	exitStatus *exitCell
}

// ExitStatus reports the child's exit status, if it has terminated.
// The ok result is false until a ChildTerminated event for this pid
// has come out of Pump.
func (h *ChildHandle) ExitStatus() (status ExitStatus, ok bool) {
	return h.exitStatus.Get()
}

// Muxer owns a readiness poller, a reaper, an optional signal source,
// and the bookkeeping for every child it has spawned. It is not safe
// for concurrent use: every method, and the Pump loop, must run on a
// single goroutine.
type Muxer struct {
	poller *readinessPoller
	fds    slab

	reaper    *childReaper
	reaperTok token

	signals   *signalSource
	signalTok token

	children map[Pid]*childRecord

	pending  []Event
	readyBuf []readiness
}

// Option configures a Muxer at construction time.
type Option func(*muxerConfig)

type muxerConfig struct {
	signals bool
}

// WithSignals enables SIGHUP/SIGINT/SIGTERM as SignalReceived events.
// Without it, the Muxer never installs signal handling and those
// signals fall through to the process's default disposition.
func WithSignals() Option {
	return func(c *muxerConfig) { c.signals = true }
}

// New constructs a Muxer with no children yet spawned.
func New(opts ...Option) (*Muxer, error) {
	var cfg muxerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	poller, err := newReadinessPoller()
	if err != nil {
		return nil, err
	}
	m := &Muxer{
		poller:   poller,
		children: make(map[Pid]*childRecord),
	}

	reaper, err := newChildReaper()
	if err != nil {
		poller.close()
		return nil, err
	}
	m.reaper = reaper
	m.reaperTok = m.fds.insert(reaper)
	if err := poller.register(reaper.source(), m.reaperTok); err != nil {
		reaper.close()
		poller.close()
		return nil, fmt.Errorf("cannot register child reaper: %w", err)
	}

	if cfg.signals {
		signals, err := newSignalSource()
		if err != nil {
			m.Close()
			return nil, err
		}
		m.signals = signals
		m.signalTok = m.fds.insert(signals)
		if err := poller.register(signals.source(), m.signalTok); err != nil {
			m.Close()
			return nil, fmt.Errorf("cannot register signal source: %w", err)
		}
	}

	return m, nil
}

// Close tears down every remaining source. It does not wait for or
// kill any still-running children; callers that want a clean shutdown
// should drain ChildTerminated for every live pid first.
func (m *Muxer) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for tok, v := range m.fds.entries {
		switch src := v.(type) {
		case *childOutStream:
			record(m.poller.deregister(src.fd))
			record(src.close())
		case *childReaper:
			record(m.poller.deregister(src.source()))
			record(src.close())
		case *signalSource:
			record(m.poller.deregister(src.source()))
			record(src.close())
		case nil:
			_ = tok
		}
	}
	record(m.poller.close())
	return firstErr
}

// Pids is a lazy sequence over every currently-live child pid.
func (m *Muxer) Pids() iter.Seq[Pid] {
	return func(yield func(Pid) bool) {
		for pid := range m.children {
			if !yield(pid) {
				return
			}
		}
	}
}

// Spawn starts cmd, capturing its stdout and stderr as line-oriented
// event streams. cmd.Stdout, cmd.Stderr and (if wantStdin) cmd.Stdin
// are overwritten; the caller configures everything else (Path, Args,
// Env, Dir, ...) beforehand.
func (m *Muxer) Spawn(cmd *exec.Cmd, wantStdin bool) (*ChildHandle, error) {
	stdoutR, stdoutW, err := newCapturePipe()
	if err != nil {
		return nil, fmt.Errorf("cannot create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := newCapturePipe()
	if err != nil {
		closeFd(stdoutR)
		closeFd(stdoutW)
		return nil, fmt.Errorf("cannot create stderr pipe: %w", err)
	}

	var stdinR, stdinW int = -1, -1
	if wantStdin {
		stdinR, stdinW, err = newCapturePipe()
		if err != nil {
			closeFd(stdoutR)
			closeFd(stdoutW)
			closeFd(stderrR)
			closeFd(stderrW)
			return nil, fmt.Errorf("cannot create stdin pipe: %w", err)
		}
	}

	cmd.Stdout = os.NewFile(uintptr(stdoutW), "")
	cmd.Stderr = os.NewFile(uintptr(stderrW), "")
	if wantStdin {
		cmd.Stdin = os.NewFile(uintptr(stdinR), "")
	}

	if err := cmd.Start(); err != nil {
		closeFd(stdoutR)
		closeFd(stdoutW)
		closeFd(stderrR)
		closeFd(stderrW)
		if wantStdin {
			closeFd(stdinR)
			closeFd(stdinW)
		}
		return nil, fmt.Errorf("cannot start %s: %w", cmd.Path, err)
	}

	// The parent's copies of the child's ends must close now: an open
	// write-end here would stop the read end from ever seeing EOF.
	closeFd(stdoutW)
	closeFd(stderrW)
	if wantStdin {
		closeFd(stdinR)
	}

	pid := Pid(cmd.Process.Pid)
	progPath := cmd.Path

	// A failure from here on is a Spawn failure per the error taxonomy:
	// any partially created resources (pipes, slab entries, poller
	// registrations) are released and the error is returned rather than
	// panicking. The child itself, already started, is not killed here:
	// it's simply left untracked, same as the design this is ported
	// from, which propagates registration errors from spawn unchanged.
	closeStdin := func() {
		if wantStdin {
			closeFd(stdinW)
		}
	}

	stdoutStream, err := newChildOutStream(stdoutR, pid, progPath, Stdout)
	if err != nil {
		closeFd(stdoutR)
		closeFd(stderrR)
		closeStdin()
		return nil, fmt.Errorf("cannot set stdout non-blocking for %s: %w", progPath, err)
	}
	stderrStream, err := newChildOutStream(stderrR, pid, progPath, Stderr)
	if err != nil {
		_ = stdoutStream.close()
		closeFd(stderrR)
		closeStdin()
		return nil, fmt.Errorf("cannot set stderr non-blocking for %s: %w", progPath, err)
	}

	stdoutTok := m.fds.insert(stdoutStream)
	if err := m.poller.register(stdoutStream.source(), stdoutTok); err != nil {
		m.fds.remove(stdoutTok)
		_ = stdoutStream.close()
		_ = stderrStream.close()
		closeStdin()
		return nil, fmt.Errorf("cannot register stdout for %s: %w", progPath, err)
	}
	stderrTok := m.fds.insert(stderrStream)
	if err := m.poller.register(stderrStream.source(), stderrTok); err != nil {
		_ = m.poller.deregister(stdoutStream.source())
		m.fds.remove(stdoutTok)
		_ = stdoutStream.close()
		m.fds.remove(stderrTok)
		_ = stderrStream.close()
		closeStdin()
		return nil, fmt.Errorf("cannot register stderr for %s: %w", progPath, err)
	}

	cell := &exitCell{}
	m.children[pid] = &childRecord{progPath: progPath, exitStatus: cell}

	handle := &ChildHandle{Pid: pid, ProgPath: progPath, exitStatus: cell}
	if wantStdin {
		handle.Stdin = os.NewFile(uintptr(stdinW), "")
	}
	return handle, nil
}

// nextEvent returns the next event, polling for more readiness as
// needed. It never returns without a value: the poller blocks until
// at least one source is ready.
func (m *Muxer) nextEvent() Event {
	for len(m.pending) == 0 {
		m.readyBuf = m.poller.poll(m.readyBuf[:0])
		for _, r := range m.readyBuf {
			m.drainReadySource(r.tok)
		}
	}
	ev := m.pending[0]
	m.pending = m.pending[1:]
	return ev
}

func (m *Muxer) drainReadySource(tok token) {
	switch src := m.fds.get(tok).(type) {
	case *childReaper:
		for _, rc := range src.reap(m.children) {
			m.pending = append(m.pending, ChildTerminated{
				Pid:        rc.pid,
				ProgPath:   rc.progPath,
				ExitStatus: rc.exitStatus,
			})
		}
		m.rearm(src.source(), tok)
	case *signalSource:
		for _, s := range src.drain() {
			m.pending = append(m.pending, SignalReceived{Signal: s})
		}
		m.rearm(src.source(), tok)
	case *childOutStream:
		m.drainChildOutStream(tok, src)
	default:
		panic("muxer: readiness for an unregistered source")
	}
}

func (m *Muxer) drainChildOutStream(tok token, s *childOutStream) {
	for {
		result, line := s.readLine()
		switch result {
		case resultLine:
			m.pending = append(m.pending, ChildWrote{
				Pid:      s.pid,
				ProgPath: s.progPath,
				Tag:      s.tag,
				Line:     line,
			})
		case resultWouldBlock:
			m.rearm(s.fd, tok)
			return
		case resultInterrupted:
			continue
		case resultEndOfStream:
			m.pending = append(m.pending, FdClosed{
				Pid:      s.pid,
				ProgPath: s.progPath,
				Tag:      s.tag,
			})
			if err := m.poller.deregister(s.fd); err != nil {
				panic(fmt.Sprintf("muxer: cannot deregister closed stream: %v", err))
			}
			m.fds.remove(tok)
			_ = s.close()
			return
		}
	}
}

func (m *Muxer) rearm(fd int, tok token) {
	if err := m.poller.reregister(fd, tok); err != nil {
		panic(fmt.Sprintf("muxer: cannot rearm source: %v", err))
	}
}

// Pump drives the Muxer's event loop, delivering each Event to f until
// f reports it has what it needs. It is a free function rather than a
// method because Go methods can't carry their own type parameters.
func Pump[R any](m *Muxer, f func(Event) (R, bool)) R {
	for {
		ev := m.nextEvent()
		if v, done := f(ev); done {
			return v
		}
	}
}
