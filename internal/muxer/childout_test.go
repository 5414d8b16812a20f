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
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func newTestPipe(t *testing.T) (r, w int) {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
	})
	return fds[0], fds[1]
}

func TestChildOutStreamWouldBlockBeforeData(t *testing.T) {
	r, w := newTestPipe(t)
	defer unix.Close(w)

	s, err := newChildOutStream(r, 1, "/bin/test", Stdout)
	if err != nil {
		t.Fatalf("newChildOutStream: %v", err)
	}

	result, _ := s.readLine()
	if result != resultWouldBlock {
		t.Fatalf("readLine on empty pipe = %v, want resultWouldBlock", result)
	}
}

func TestChildOutStreamSingleLine(t *testing.T) {
	r, w := newTestPipe(t)
	defer unix.Close(w)

	s, err := newChildOutStream(r, 1, "/bin/test", Stdout)
	if err != nil {
		t.Fatalf("newChildOutStream: %v", err)
	}

	if _, err := unix.Write(w, []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, line := s.readLine()
	if result != resultLine || line != "hello\n" {
		t.Fatalf("readLine = (%v, %q), want (resultLine, \"hello\\n\")", result, line)
	}

	result, _ = s.readLine()
	if result != resultWouldBlock {
		t.Fatalf("readLine after draining = %v, want resultWouldBlock", result)
	}
}

func TestChildOutStreamMultipleLinesInOneWrite(t *testing.T) {
	r, w := newTestPipe(t)
	defer unix.Close(w)

	s, err := newChildOutStream(r, 1, "/bin/test", Stdout)
	if err != nil {
		t.Fatalf("newChildOutStream: %v", err)
	}
	if _, err := unix.Write(w, []byte("one\ntwo\nthr")); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, line := s.readLine()
	if result != resultLine || line != "one\n" {
		t.Fatalf("first readLine = (%v, %q)", result, line)
	}
	result, line = s.readLine()
	if result != resultLine || line != "two\n" {
		t.Fatalf("second readLine = (%v, %q)", result, line)
	}
	result, _ = s.readLine()
	if result != resultWouldBlock {
		t.Fatalf("third readLine = %v, want resultWouldBlock (partial \"thr\" buffered)", result)
	}

	if _, err := unix.Write(w, []byte("ee\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, line = s.readLine()
	if result != resultLine || line != "three\n" {
		t.Fatalf("readLine after completing partial line = (%v, %q), want (resultLine, \"three\\n\")", result, line)
	}
}

func TestChildOutStreamEOFWithoutTrailingNewline(t *testing.T) {
	r, w := newTestPipe(t)

	s, err := newChildOutStream(r, 1, "/bin/test", Stdout)
	if err != nil {
		t.Fatalf("newChildOutStream: %v", err)
	}
	if _, err := unix.Write(w, []byte("no newline here")); err != nil {
		t.Fatalf("write: %v", err)
	}
	unix.Close(w)

	result, line := s.readLine()
	if result != resultLine || line != "no newline here" {
		t.Fatalf("readLine = (%v, %q), want final partial line", result, line)
	}
	result, _ = s.readLine()
	if result != resultEndOfStream {
		t.Fatalf("readLine after final partial line = %v, want resultEndOfStream", result)
	}
}

func TestChildOutStreamLongLineSpansMultipleReads(t *testing.T) {
	r, w := newTestPipe(t)
	defer unix.Close(w)

	s, err := newChildOutStream(r, 1, "/bin/test", Stdout)
	if err != nil {
		t.Fatalf("newChildOutStream: %v", err)
	}

	want := strings.Repeat("a", 20000) + "\n"
	go func() {
		_, _ = unix.Write(w, []byte(want))
	}()

	var got string
	for {
		result, line := s.readLine()
		switch result {
		case resultLine:
			got = line
		case resultWouldBlock:
			continue
		default:
			t.Fatalf("unexpected result %v before line completed", result)
		}
		if got != "" {
			break
		}
	}
	if got != want {
		t.Fatalf("long line corrupted: got %d bytes, want %d", len(got), len(want))
	}
}
