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
	"os/signal"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"
)

// selfPipe bridges os/signal's channel-based delivery into a
// descriptor that a readinessPoller can register. Go's signal handling
// runs on its own internal machinery and never exposes a raw
// signalfd-equivalent to user code, so the standard trick applies: a
// supervised goroutine receives from a safely-delivered signal.Notify
// channel and writes one wake byte per signal into a non-blocking
// pipe. The read end is what actually sits in the poller; the pump
// never touches os/signal directly.
type selfPipe struct {
	t       tomb.Tomb
	readFd  int
	writeFd int
	sigChan chan os.Signal

	// onSignal, if set, runs on every delivered signal before the wake
	// byte is written. SignalSource uses it to record which signal
	// arrived; ChildReaper leaves it nil since it only cares that
	// SIGCHLD arrived at all — however many wake bytes pile up between
	// polls, one drain empties them all and one reap sweep follows.
	onSignal func(os.Signal)
}

func newSelfPipe(onSignal func(os.Signal), sigs ...os.Signal) (*selfPipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("cannot create self-pipe: %w", err)
	}
	sp := &selfPipe{
		readFd:   fds[0],
		writeFd:  fds[1],
		sigChan:  make(chan os.Signal, 16),
		onSignal: onSignal,
	}
	signal.Notify(sp.sigChan, sigs...)
	sp.t.Go(sp.relay)
	return sp, nil
}

// relay runs in its own goroutine for the lifetime of the selfPipe,
// forwarding each delivered signal as a single wake byte.
func (sp *selfPipe) relay() error {
	for {
		select {
		case <-sp.t.Dying():
			return tomb.ErrDying
		case sig := <-sp.sigChan:
			if sp.onSignal != nil {
				sp.onSignal(sig)
			}
			sp.wake()
		}
	}
}

func (sp *selfPipe) wake() {
	for {
		_, err := unix.Write(sp.writeFd, []byte{0})
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the pipe is already full of unread wake bytes,
		// which is fine: the reader only needs to know "at least one
		// event is pending," not how many bytes were written.
		return
	}
}

// drain empties the read end after a readiness notification. It must
// be called before the poller is asked to wait again, or the rearm that
// follows every drain will report the fd ready again straight away.
func (sp *selfPipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(sp.readFd, buf[:])
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("muxer: unexpected error draining self-pipe: %v", err))
		}
		if n == 0 {
			return
		}
	}
}

func (sp *selfPipe) source() int { return sp.readFd }

func (sp *selfPipe) close() error {
	signal.Stop(sp.sigChan)
	sp.t.Kill(nil)
	_ = sp.t.Wait()
	werr := unix.Close(sp.writeFd)
	rerr := unix.Close(sp.readFd)
	if werr != nil {
		return werr
	}
	return rerr
}
