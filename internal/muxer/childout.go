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
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// readResult is the outcome of one childOutStream.readLine call.
type readResult int

const (
	resultLine readResult = iota
	resultEndOfStream
	resultWouldBlock
	resultInterrupted
)

// childOutStream is a per-pipe line reader over a non-blocking
// descriptor. It deliberately doesn't use bufio.Reader:
// bufio caches the first error a Read returns and replays it on every
// later call, which is exactly wrong for a reader whose errors
// (EAGAIN, EINTR) are supposed to be transient and retried by the
// caller across pump invocations.
type childOutStream struct {
	pid      Pid
	progPath string
	tag      FdTag
	fd       int

	scratch [8192]byte // one read syscall's worth of scratch space
	acc     bytes.Buffer
	eof     bool // true once the fd has reported a zero-byte read
}

func newChildOutStream(fd int, pid Pid, progPath string, tag FdTag) (*childOutStream, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("cannot set pipe non-blocking: %w", err)
	}
	return &childOutStream{pid: pid, progPath: progPath, tag: tag, fd: fd}, nil
}

func (c *childOutStream) source() int { return c.fd }

func (c *childOutStream) close() error {
	return unix.Close(c.fd)
}

// readLine reads up to and including the next newline, or flushes any
// residual bytes as a final line once the pipe closes without one. It
// never blocks and never loses, duplicates or reorders data: on
// WouldBlock/Interrupted, any bytes read so far remain buffered in acc
// for the next call.
func (c *childOutStream) readLine() (readResult, string) {
	if c.eof && c.acc.Len() == 0 {
		return resultEndOfStream, ""
	}
	for {
		if i := bytes.IndexByte(c.acc.Bytes(), '\n'); i >= 0 {
			line := c.acc.Next(i + 1)
			return resultLine, mustText(line)
		}
		if c.eof {
			if c.acc.Len() > 0 {
				line := mustText(c.acc.Bytes())
				c.acc.Reset()
				return resultLine, line
			}
			return resultEndOfStream, ""
		}

		n, err := unix.Read(c.fd, c.scratch[:])
		switch {
		case err == unix.EAGAIN:
			return resultWouldBlock, ""
		case err == unix.EINTR:
			return resultInterrupted, ""
		case err != nil:
			panic(fmt.Sprintf("muxer: unexpected error reading child output: %v", err))
		case n == 0:
			c.eof = true
		default:
			c.acc.Write(c.scratch[:n])
		}
	}
}

// mustText treats child output as text: invalid UTF-8 is a fatal
// stream error, since the core emits string-shaped events.
func mustText(b []byte) string {
	if !utf8.Valid(b) {
		panic("muxer: child wrote invalid UTF-8 to a captured stream")
	}
	return string(b)
}
