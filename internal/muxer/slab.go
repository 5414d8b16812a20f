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

// token is the small non-negative integer a readinessPoller registration
// is keyed by.
type token int

// slab is a dense token -> source map with token reuse, mirroring the
// Rust implementation's use of the `slab` crate: every registered
// source lives at a small integer index, and deregistering one makes
// that index available to the next register call.
type slab struct {
	entries []any
	free    []token
}

// get returns the value at t without freeing the token. The caller is
// responsible for knowing t is currently occupied.
func (s *slab) get(t token) any {
	return s.entries[t]
}

func (s *slab) insert(v any) token {
	if n := len(s.free); n > 0 {
		t := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[t] = v
		return t
	}
	t := token(len(s.entries))
	s.entries = append(s.entries, v)
	return t
}

// remove takes the value at t out of the slab, freeing the token for
// reuse, and returns it. It panics if t was never inserted or was
// already removed — the Muxer never calls remove on a token it didn't
// get from the poller.
func (s *slab) remove(t token) any {
	v := s.entries[t]
	if v == nil {
		panic("muxer: token not present in slab")
	}
	s.entries[t] = nil
	s.free = append(s.free, t)
	return v
}
