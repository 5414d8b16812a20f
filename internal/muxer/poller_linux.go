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

//go:build linux

package muxer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// readiness is a single ready token copied out of a poll() batch.
type readiness struct {
	tok token
}

// readinessPoller is a thin adapter over epoll. It has no notion of the
// domain's sources; it only routes readiness to tokens.
type readinessPoller struct {
	epfd int
	buf  []unix.EpollEvent
}

func newReadinessPoller() (*readinessPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("cannot create epoll instance: %w", err)
	}
	return &readinessPoller{
		epfd: epfd,
		buf:  make([]unix.EpollEvent, 1024),
	}, nil
}

// Sources are registered edge-triggered: a source is reported ready
// when new data arrives, not for as long as data stays buffered, so
// each reported source must be drained to EAGAIN. The pump then
// reregisters it (EPOLL_CTL_MOD), which reports it again at once if
// data is still pending. This matches the
// read-until-WouldBlock-then-rearm contract the rest of the package is
// built around.
const readyEvents = unix.EPOLLIN | unix.EPOLLET

// epoll_ctl's event.Fd is opaque user data echoed back by epoll_wait; we
// use it to carry the slab token rather than the fd, since every source
// already knows its own fd and the token is what routes readiness back
// to a slab entry.
func (p *readinessPoller) register(fd int, tok token) error {
	ev := unix.EpollEvent{Events: readyEvents, Fd: int32(tok)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("cannot register fd %d: %w", fd, err)
	}
	return nil
}

func (p *readinessPoller) reregister(fd int, tok token) error {
	ev := unix.EpollEvent{Events: readyEvents, Fd: int32(tok)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("cannot reregister fd %d: %w", fd, err)
	}
	return nil
}

func (p *readinessPoller) deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("cannot deregister fd %d: %w", fd, err)
	}
	return nil
}

// poll blocks indefinitely until at least one registered descriptor is
// ready, retrying on EINTR (never surfaced to the caller), and appends
// the batch's tokens to out.
func (p *readinessPoller) poll(out []readiness) []readiness {
	for {
		n, err := unix.EpollWait(p.epfd, p.buf, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			panic(fmt.Sprintf("muxer: unexpected error during poll: %v", err))
		}
		for i := 0; i < n; i++ {
			out = append(out, readiness{tok: eventToken(&p.buf[i])})
		}
		return out
	}
}

func (p *readinessPoller) close() error {
	return unix.Close(p.epfd)
}

func eventToken(ev *unix.EpollEvent) token {
	return token(ev.Fd)
}
