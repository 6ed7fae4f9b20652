// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linkedhash

// IterMode selects the operation performed by Table.Iter.
type IterMode uint8

const (
	// IterRestart positions the shared cursor at the oldest entry.
	IterRestart IterMode = iota
	// IterContinue advances the shared cursor in the direction of the last
	// restart.
	IterContinue
	// IterRestartReverse positions the shared cursor at the newest entry.
	// Subsequent IterContinue calls walk towards older entries.
	IterRestartReverse
)

func (m IterMode) String() string {
	switch m {
	case IterRestart:
		return "restart"
	case IterContinue:
		return "continue"
	case IterRestartReverse:
		return "restart-reverse"
	default:
		return "unknown"
	}
}

type sharedIterState uint8

const (
	// iterIdle means no traversal is in progress or the last one was
	// exhausted.
	iterIdle sharedIterState = iota
	// iterAtStart means the entry under the cursor was removed and had no
	// predecessor in the direction of travel, so the next continue returns
	// the first entry.
	iterAtStart
	// iterAt means the cursor is on entry cur.
	iterAt
)

// sharedIter is the cursor behind Table.Iter, and the position of each All
// or Backward traversal.
type sharedIter struct {
	cur     handle
	state   sharedIterState
	reverse bool
}

// removing is called before entry h, linked between prev and next, is
// unlinked. If the cursor is on h it steps back so that the next continue
// yields h's successor in the direction of travel.
func (it *sharedIter) removing(h, prev, next handle) {
	if it.state != iterAt || it.cur != h {
		return
	}
	back := prev
	if it.reverse {
		back = next
	}
	if back == 0 {
		it.cur = 0
		it.state = iterAtStart
		return
	}
	it.cur = back
}

// Iter drives the single cursor that the table shares between all of its
// callers. IterRestart (or IterRestartReverse) moves the cursor to the first
// entry and returns its value; IterContinue moves to the following entry.
// ok=false is returned when the table is empty, when the traversal is
// exhausted, and for IterContinue without a preceding restart.
//
// Because the cursor is shared, starting a second traversal abandons the
// first. Use Cursor for independent or nested traversals. Entries may be
// removed during a traversal: removing the entry under the cursor makes the
// next IterContinue return the entry that followed it.
func (t *Table[V]) Iter(mode IterMode) (value V, ok bool) {
	var h handle
	switch mode {
	case IterRestart:
		t.iter.reverse = false
		h = t.head
	case IterRestartReverse:
		t.iter.reverse = true
		h = t.tail
	case IterContinue:
		switch t.iter.state {
		case iterIdle:
			return value, false
		case iterAtStart:
			h = t.head
			if t.iter.reverse {
				h = t.tail
			}
		case iterAt:
			e := t.entry(t.iter.cur)
			h = e.next
			if t.iter.reverse {
				h = e.prev
			}
		}
	default:
		return value, false
	}

	if h == 0 {
		t.iter = sharedIter{}
		return value, false
	}
	t.iter.cur = h
	t.iter.state = iterAt
	return t.entry(h).value, true
}

// Cursor is a position in the insertion order of a Table. Unlike Iter, each
// Cursor carries its own position, so any number of cursors may traverse a
// table at once. The zero Cursor is invalid and cannot be positioned; obtain
// one from Table.Cursor.
//
// A cursor becomes invalid when it moves past either end of the table or
// when the entry it is positioned on is removed. Entries appended while a
// cursor is positioned on the tail are reachable with Next.
type Cursor[V any] struct {
	t   *Table[V]
	h   handle
	gen uint32
}

// Cursor returns an unpositioned cursor over t. Call First or Last to
// position it.
func (t *Table[V]) Cursor() Cursor[V] {
	return Cursor[V]{t: t}
}

// First moves the cursor to the oldest entry, returning false if the table
// is empty or the cursor was not obtained from a table.
func (c *Cursor[V]) First() bool {
	if c.t == nil {
		return false
	}
	return c.set(c.t.head)
}

// Last moves the cursor to the newest entry, returning false if the table is
// empty or the cursor was not obtained from a table.
func (c *Cursor[V]) Last() bool {
	if c.t == nil {
		return false
	}
	return c.set(c.t.tail)
}

// Next moves the cursor to the following entry in insertion order. It
// returns false, leaving the cursor invalid, if there is no such entry or the
// cursor was not valid.
func (c *Cursor[V]) Next() bool {
	if !c.Valid() {
		return c.set(0)
	}
	return c.set(c.t.entry(c.h).next)
}

// Prev moves the cursor to the preceding entry in insertion order. It
// returns false, leaving the cursor invalid, if there is no such entry or the
// cursor was not valid.
func (c *Cursor[V]) Prev() bool {
	if !c.Valid() {
		return c.set(0)
	}
	return c.set(c.t.entry(c.h).prev)
}

// Valid returns true if the cursor is positioned on a live entry.
func (c *Cursor[V]) Valid() bool {
	if c.h == 0 || int(c.h) > len(c.t.entries) {
		return false
	}
	return c.t.entry(c.h).gen == c.gen
}

// Key returns the key of the entry under the cursor, or "" if the cursor is
// not valid.
func (c *Cursor[V]) Key() string {
	if !c.Valid() {
		return ""
	}
	return c.t.entry(c.h).key
}

// Value returns the value of the entry under the cursor, or the zero value
// if the cursor is not valid.
func (c *Cursor[V]) Value() (value V) {
	if !c.Valid() {
		return value
	}
	return c.t.entry(c.h).value
}

func (c *Cursor[V]) set(h handle) bool {
	c.h = h
	if h == 0 {
		c.gen = 0
		return false
	}
	c.gen = c.t.entry(h).gen
	return true
}
