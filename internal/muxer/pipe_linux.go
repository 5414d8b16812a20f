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

// newCapturePipe creates a plain, blocking, close-on-exec pipe. We
// deliberately avoid os.Pipe here: it registers its descriptors with
// Go's runtime netpoller, which would silently block goroutines on
// read/write instead of surfacing EAGAIN the way this package's
// hand-rolled non-blocking readers require. Whichever end the Muxer
// itself reads from is switched to non-blocking separately; the end
// handed to the child process stays ordinary and blocking.
func newCapturePipe() (r, w int, err error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("cannot create pipe: %w", err)
	}
	return fds[0], fds[1], nil
}

// closeFd closes a raw descriptor, ignoring the error. It's used for
// cleanup paths where a prior step has already failed and the
// descriptor's fate no longer matters.
func closeFd(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}
