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

// Package linkedhash is a fixed-capacity, insertion-ordered hash table keyed
// by strings.
//
// # Layout
//
// A Table has three parts:
//
//   - A slot array of M uint32 values where M is the capacity fixed at
//     construction. A slot is empty (0), deleted (a tombstone) or holds the
//     handle of an entry.
//   - An entry arena. Entries are stored densely in a slice and are named by
//     a handle, which is the 1-based index of the entry in the arena. The
//     zero handle is nil. Freed entries are kept on a free list threaded
//     through their next field and are reused before the arena grows.
//   - A doubly-linked list of entries in insertion order. The prev and next
//     links are handles stored inside each entry, and the table keeps the
//     head and tail handles.
//
// Every entry records the slot it occupies so that removing an entry found
// by walking the list (PopTail, PopHead) does not have to re-probe.
//
// # Probing
//
// Collisions are resolved with double hashing. The primary hash of a key
// selects the initial slot and an independent step hash selects the stride:
//
//	probe(key, i) = (h1(key) + i*h2(key)) mod M
//
// The stride lies in [1, M) so that when M is prime every probe sequence
// visits every slot exactly once in M steps. Unlike linear probing this
// avoids secondary clustering: two keys that collide on h1 diverge on the
// next probe unless their h2 also collides. Probing is bounded by M steps,
// so lookups on a table with no empty slots terminate and insertion into a
// full table fails with ErrTableFull.
//
// The default primary hash is djb2 and the default step hash is a seeded
// hash/maphash. M should be prime; DefaultCapacity is 65537.
//
// # Deletion
//
// Removing an entry leaves a tombstone in its slot. A probe sequence that
// reaches a tombstone continues past it, so keys that were placed further
// along the same sequence remain reachable. Insertion reuses the first empty
// or deleted slot on the key's sequence. The table never resizes, and
// tombstones are only dropped by Clear.
//
// # Iteration
//
// Cursor returns an independent cursor positioned by First or Last and moved
// by Next and Prev. A cursor whose entry has been removed becomes invalid.
// All and Backward walk the table in insertion and reverse insertion order.
// Iter provides a single cursor shared by all callers of the table, in the
// form of restart/continue calls.
package linkedhash

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	debug = false

	// DefaultCapacity is a prime capacity suitable for tables holding up to
	// tens of thousands of keys.
	DefaultCapacity = 65537
	// MaxCapacity is the largest capacity accepted by New.
	MaxCapacity = 1<<31 - 1

	slotEmpty   uint32 = 0
	slotDeleted uint32 = 1<<32 - 1
	// noSlot is never a valid slot index since capacity <= MaxCapacity.
	noSlot uint32 = 1<<32 - 1

	// minEntries is the initial size of the entry arena.
	minEntries = 8
)

var (
	// ErrOutOfMemory is returned when the allocator cannot provide the
	// slots or entries a Table needs.
	ErrOutOfMemory = errors.New("linkedhash: out of memory")
	// ErrTableFull is returned by Put when the key's probe sequence has no
	// empty or deleted slot.
	ErrTableFull = errors.New("linkedhash: table full")
	// ErrInvalidCapacity is returned by New for a capacity outside of
	// [1, MaxCapacity].
	ErrInvalidCapacity = errors.New("linkedhash: invalid capacity")
	// ErrDuplicateKey is returned by Put under DuplicateReject when the key
	// is already present.
	ErrDuplicateKey = errors.New("linkedhash: duplicate key")
)

// handle is the 1-based index of an entry in the arena. The zero handle is
// nil.
type handle uint32

// Entry holds a key, a value and the bookkeeping that links the entry into
// the slot array and the insertion order.
type Entry[V any] struct {
	key   string
	value V
	// slot is the index of the slot holding this entry.
	slot uint32
	prev handle
	next handle
	// gen is incremented each time the entry is freed. Cursors compare it to
	// detect that the entry they point at has been removed.
	gen uint32
}

// Table is an insertion-ordered map from string keys to values with Put,
// Get, Delete, PopTail and ordered iteration. The number of slots is fixed
// when the Table is created.
//
// A Table is NOT goroutine-safe.
type Table[V any] struct {
	hash1 HashFunc
	hash2 HashFunc
	seed  uint64
	// The allocator to use for the slots and entries slices.
	allocator  Allocator[V]
	duplicates DuplicatePolicy

	// slots is capacity in length. Each value is slotEmpty, slotDeleted or
	// the handle of the entry occupying the slot.
	slots []uint32
	// entries is the arena. Only the first arenaUsed entries have ever been
	// handed out.
	entries   []Entry[V]
	arenaUsed uint32
	// free is the head of the free list of released entries.
	free handle

	// head and tail are the oldest and newest live entries, or nil if the
	// table is empty.
	head handle
	tail handle

	// The number of slots (M).
	capacity uint32
	// The number of live entries.
	count int
	// The number of tombstones.
	deleted int

	iter sharedIter
	// walks holds the positions of the All and Backward traversals in
	// progress, innermost last.
	walks []sharedIter
}

// New constructs a new Table with the specified number of slots. The
// capacity should be prime and cannot be changed afterwards. A Table can
// hold at most capacity entries.
func New[V any](capacity int, options ...option[V]) (*Table[V], error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	t := &Table[V]{
		hash1:     djb2,
		hash2:     stepHash,
		seed:      rand.Uint64(),
		allocator: defaultAllocator[V]{},
		capacity:  uint32(capacity),
	}

	for _, op := range options {
		op.apply(t)
	}

	slots := t.allocator.AllocSlots(capacity)
	if len(slots) < capacity {
		return nil, ErrOutOfMemory
	}
	t.slots = slots[:capacity]
	for i := range t.slots {
		t.slots[i] = slotEmpty
	}

	t.checkInvariants()
	return t, nil
}

// Close closes the table, releasing the slots and entries back to its
// configured allocator. Values still held by the table are not inspected;
// callers that own resources referenced by values should drain the table
// first, for example with PopTail. It is unnecessary to close a table using
// the default allocator. It is invalid to use a Table after it has been
// closed, though Close itself is idempotent.
func (t *Table[V]) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
		t.slots = nil
	}
	if t.entries != nil {
		t.allocator.FreeEntries(t.entries)
		t.entries = nil
	}
	t.arenaUsed = 0
	t.free = 0
	t.head, t.tail = 0, 0
	t.count = 0
	t.deleted = 0
	t.iter = sharedIter{}
	t.resetWalks()
}

// Put inserts an entry into the table and appends it to the insertion order.
// What happens when the key is already present depends on the table's
// DuplicatePolicy. Put returns ErrTableFull if the key's probe sequence has
// no free slot and ErrOutOfMemory if a new entry cannot be allocated. In
// both cases the table is left unchanged.
func (t *Table[V]) Put(key string, value V) error {
	seq := t.probeSeq(key)
	if debug {
		fmt.Printf("put(%q): %s\n", key, seq)
	}

	target := noSlot
	shadow := t.duplicates == DuplicateShadow

probe:
	for n := uint32(0); n < t.capacity; n, seq = n+1, seq.next() {
		switch s := t.slots[seq.offset]; s {
		case slotEmpty:
			if target == noSlot {
				target = seq.offset
			}
			break probe

		case slotDeleted:
			if target == noSlot {
				target = seq.offset
			}
			// Without a duplicate check the first free slot is the answer.
			// Otherwise the key may still be further along the sequence.
			if shadow {
				break probe
			}

		default:
			if shadow {
				continue
			}
			e := t.entry(handle(s))
			if e.key != key {
				continue
			}
			if t.duplicates == DuplicateReject {
				return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
			}
			if debug {
				fmt.Printf("put(updating): index=%d key=%q\n", seq.offset, key)
			}
			e.value = value
			t.checkInvariants()
			return nil
		}
	}

	if target == noSlot {
		if debug {
			fmt.Printf("put(full): key=%q used=%d deleted=%d\n", key, t.count, t.deleted)
		}
		return fmt.Errorf("%w: no free slot for %q after %d probes", ErrTableFull, key, t.capacity)
	}

	h, err := t.allocEntry()
	if err != nil {
		return err
	}

	if t.slots[target] == slotDeleted {
		t.deleted--
	}
	t.slots[target] = uint32(h)

	e := t.entry(h)
	e.key = key
	e.value = value
	e.slot = target
	e.next = 0
	e.prev = t.tail
	if t.tail == 0 {
		t.head = h
	} else {
		t.entry(t.tail).next = h
	}
	t.tail = h
	t.count++

	if debug {
		fmt.Printf("put(inserting): index=%d handle=%d used=%d\n", target, h, t.count)
	}
	t.checkInvariants()
	return nil
}

// Get retrieves the value from the table for the specified key, return
// ok=false if the key is not present.
func (t *Table[V]) Get(key string) (value V, ok bool) {
	h, _ := t.find(key)
	if h == 0 {
		return value, false
	}
	return t.entry(h).value, true
}

// Has returns true if the key is present.
func (t *Table[V]) Has(key string) bool {
	h, _ := t.find(key)
	return h != 0
}

// Delete removes the entry for the specified key and returns its value,
// return ok=false if the key is not present. The neighbors of the entry in
// the insertion order are linked to each other.
func (t *Table[V]) Delete(key string) (value V, ok bool) {
	h, _ := t.find(key)
	if h == 0 {
		if debug {
			fmt.Printf("delete(%q): not found\n", key)
		}
		return value, false
	}
	return t.remove(h), true
}

// PopTail removes the most recently inserted entry and returns its value,
// return ok=false if the table is empty. Popping until empty visits every
// entry in reverse insertion order.
func (t *Table[V]) PopTail() (value V, ok bool) {
	if t.tail == 0 {
		return value, false
	}
	return t.remove(t.tail), true
}

// PopHead removes the oldest entry and returns its value, return ok=false if
// the table is empty.
func (t *Table[V]) PopHead() (value V, ok bool) {
	if t.head == 0 {
		return value, false
	}
	return t.remove(t.head), true
}

// Len returns the number of entries in the table.
func (t *Table[V]) Len() int {
	return t.count
}

// Cap returns the number of slots in the table.
func (t *Table[V]) Cap() int {
	return int(t.capacity)
}

// Clear removes all entries and tombstones. The capacity and the allocated
// arena are retained, and cursors into the table become invalid.
func (t *Table[V]) Clear() {
	for h := t.head; h != 0; {
		e := t.entry(h)
		next := e.next
		t.releaseEntry(h)
		h = next
	}
	for i := range t.slots {
		t.slots[i] = slotEmpty
	}
	t.head, t.tail = 0, 0
	t.count = 0
	t.deleted = 0
	t.iter = sharedIter{}
	t.resetWalks()
	t.checkInvariants()
}

// ProbeLength returns the number of slots examined to find key, return
// ok=false if the key is not present. A key found at its primary slot has a
// probe length of 1.
func (t *Table[V]) ProbeLength(key string) (n int, ok bool) {
	h, probes := t.find(key)
	return probes, h != 0
}

// All calls yield sequentially for each key and value present in the table
// in insertion order. If yield returns false, iteration stops. Entries may be
// deleted from within yield, including the entry being visited and the ones
// after it, and entries appended during iteration are visited. Clearing the
// table from within yield ends the iteration.
func (t *Table[V]) All(yield func(key string, value V) bool) {
	t.walk(t.head, false, yield)
}

// Backward is like All but visits entries in reverse insertion order.
func (t *Table[V]) Backward(yield func(key string, value V) bool) {
	t.walk(t.tail, true, yield)
}

func (t *Table[V]) walk(h handle, reverse bool, yield func(key string, value V) bool) {
	if h == 0 {
		return
	}
	// The position lives on the table so that remove can step it back when
	// the visited entry is deleted. Walks nest, so it is indexed rather than
	// referenced: a nested walk may reallocate t.walks.
	i := len(t.walks)
	t.walks = append(t.walks, sharedIter{reverse: reverse})
	defer func() {
		t.walks = t.walks[:i]
	}()

	for h != 0 {
		t.walks[i].cur = h
		t.walks[i].state = iterAt
		e := t.entry(h)
		if !yield(e.key, e.value) {
			return
		}

		w := t.walks[i]
		switch w.state {
		case iterIdle:
			return
		case iterAtStart:
			h = t.head
			if reverse {
				h = t.tail
			}
		case iterAt:
			e = t.entry(w.cur)
			h = e.next
			if reverse {
				h = e.prev
			}
		}
	}
}

// resetWalks ends every traversal in progress.
func (t *Table[V]) resetWalks() {
	for i := range t.walks {
		t.walks[i] = sharedIter{}
	}
}

// find returns the handle of the entry for key, or nil if the key is not
// present, along with the number of slots probed.
func (t *Table[V]) find(key string) (handle, int) {
	seq := t.probeSeq(key)
	if debug {
		fmt.Printf("find(%q): %s\n", key, seq)
	}

	for n := uint32(0); n < t.capacity; n, seq = n+1, seq.next() {
		switch s := t.slots[seq.offset]; s {
		case slotEmpty:
			if debug {
				fmt.Printf("find(not-found): offset=%d probes=%d\n", seq.offset, n+1)
			}
			return 0, int(n + 1)
		case slotDeleted:
		default:
			if t.entry(handle(s)).key == key {
				return handle(s), int(n + 1)
			}
		}
	}
	return 0, int(t.capacity)
}

// remove unlinks the live entry h, leaves a tombstone in its slot and
// releases the entry, returning its value.
func (t *Table[V]) remove(h handle) V {
	e := t.entry(h)
	value := e.value
	t.iter.removing(h, e.prev, e.next)
	for i := range t.walks {
		t.walks[i].removing(h, e.prev, e.next)
	}

	if e.prev != 0 {
		t.entry(e.prev).next = e.next
	} else {
		t.head = e.next
	}
	if e.next != 0 {
		t.entry(e.next).prev = e.prev
	} else {
		t.tail = e.prev
	}

	t.slots[e.slot] = slotDeleted
	t.deleted++
	if debug {
		fmt.Printf("remove(%q): index=%d handle=%d used=%d\n", e.key, e.slot, h, t.count-1)
	}
	t.releaseEntry(h)
	t.count--
	if t.count == 0 {
		t.head, t.tail = 0, 0
	}

	t.checkInvariants()
	return value
}

func (t *Table[V]) entry(h handle) *Entry[V] {
	return &t.entries[h-1]
}

// allocEntry returns an unused entry, taking it from the free list if
// possible and otherwise growing the arena.
func (t *Table[V]) allocEntry() (handle, error) {
	if t.free != 0 {
		h := t.free
		t.free = t.entry(h).next
		return h, nil
	}
	if int(t.arenaUsed) == len(t.entries) {
		if err := t.growEntries(); err != nil {
			return 0, err
		}
	}
	t.arenaUsed++
	return handle(t.arenaUsed), nil
}

// growEntries doubles the entry arena, up to the capacity of the table.
func (t *Table[V]) growEntries() error {
	n := 2 * len(t.entries)
	if n < minEntries {
		n = minEntries
	}
	if n > int(t.capacity) {
		n = int(t.capacity)
	}
	if n <= len(t.entries) {
		return ErrTableFull
	}

	entries := t.allocator.AllocEntries(n)
	if len(entries) < n {
		if debug {
			fmt.Printf("grow(failed): %d -> %d\n", len(t.entries), n)
		}
		return ErrOutOfMemory
	}
	entries = entries[:n]
	copy(entries, t.entries)
	if t.entries != nil {
		t.allocator.FreeEntries(t.entries)
	}
	if debug {
		fmt.Printf("grow: %d -> %d\n", len(t.entries), n)
	}
	t.entries = entries
	return nil
}

// releaseEntry clears the entry h and pushes it onto the free list.
func (t *Table[V]) releaseEntry(h handle) {
	e := t.entry(h)
	*e = Entry[V]{gen: e.gen + 1, next: t.free}
	t.free = h
}

func (t *Table[V]) probeSeq(key string) probeSeq {
	return makeProbeSeq(t.hash1(key, t.seed), t.hash2(key, t.seed), t.capacity)
}

func (t *Table[V]) checkInvariants() {
	if invariants {
		// Walk the insertion order forward, verifying the back links and that
		// every entry is reachable from the slot it claims.
		var forward int
		var prev handle
		for h := t.head; h != 0; h = t.entry(h).next {
			e := t.entry(h)
			if e.prev != prev {
				panic(fmt.Sprintf("invariant failed: entry(%d): prev=%d, expected %d\n%s",
					h, e.prev, prev, t.debugString()))
			}
			if t.slots[e.slot] != uint32(h) {
				panic(fmt.Sprintf("invariant failed: entry(%d): slot(%d)=%d\n%s",
					h, e.slot, t.slots[e.slot], t.debugString()))
			}
			forward++
			if forward > t.count {
				panic(fmt.Sprintf("invariant failed: list longer than count %d\n%s",
					t.count, t.debugString()))
			}
			prev = h
		}
		if prev != t.tail {
			panic(fmt.Sprintf("invariant failed: tail=%d, but list ends at %d\n%s",
				t.tail, prev, t.debugString()))
		}

		var backward int
		for h := t.tail; h != 0; h = t.entry(h).prev {
			backward++
			if backward > t.count {
				panic(fmt.Sprintf("invariant failed: reverse list longer than count %d\n%s",
					t.count, t.debugString()))
			}
		}

		// Count the slot states. Every full slot must point at an entry that
		// points back at it.
		var used, deleted int
		for i, s := range t.slots {
			switch s {
			case slotEmpty:
			case slotDeleted:
				deleted++
			default:
				if int(s) > int(t.arenaUsed) {
					panic(fmt.Sprintf("invariant failed: slot(%d): handle %d beyond arena %d\n%s",
						i, s, t.arenaUsed, t.debugString()))
				}
				if e := t.entry(handle(s)); e.slot != uint32(i) {
					panic(fmt.Sprintf("invariant failed: slot(%d): entry %q claims slot %d\n%s",
						i, e.key, e.slot, t.debugString()))
				}
				used++
			}
		}

		if used != t.count || forward != t.count || backward != t.count {
			panic(fmt.Sprintf("invariant failed: count=%d, but found %d slots, %d forward, %d backward\n%s",
				t.count, used, forward, backward, t.debugString()))
		}
		if deleted != t.deleted {
			panic(fmt.Sprintf("invariant failed: found %d tombstones, but deleted count is %d\n%s",
				deleted, t.deleted, t.debugString()))
		}
		if (t.head == 0) != (t.count == 0) || (t.tail == 0) != (t.count == 0) {
			panic(fmt.Sprintf("invariant failed: head=%d tail=%d count=%d\n%s",
				t.head, t.tail, t.count, t.debugString()))
		}
	}
}

func (t *Table[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  deleted=%d  head=%d  tail=%d\n",
		t.capacity, t.count, t.deleted, t.head, t.tail)
	for i, s := range t.slots {
		switch s {
		case slotEmpty:
		case slotDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		default:
			e := t.entry(handle(s))
			fmt.Fprintf(&buf, "  %4d: %q [handle=%d prev=%d next=%d]\n", i, e.key, s, e.prev, e.next)
		}
	}
	return buf.String()
}

// probeSeq maintains the state for a double hashing probe sequence:
//
//	p(i) := (h1 + i*step) mod capacity
//
// The step is in [1, capacity), so if the capacity is prime the sequence
// visits every slot exactly once in its first capacity elements.
type probeSeq struct {
	capacity uint32
	offset   uint32
	step     uint32
	index    uint32
}

func makeProbeSeq(h1, h2 uint64, capacity uint32) probeSeq {
	step := uint32(1)
	if capacity > 1 {
		step = 1 + uint32(h2%uint64(capacity-1))
	}
	return probeSeq{
		capacity: capacity,
		offset:   uint32(h1 % uint64(capacity)),
		step:     step,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = uint32((uint64(s.offset) + uint64(s.step)) % uint64(s.capacity))
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("capacity=%d offset=%d step=%d index=%d", s.capacity, s.offset, s.step, s.index)
}
