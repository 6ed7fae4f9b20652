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

// option provide an interface to do work on Table while it is being created.
type option[V any] interface {
	apply(t *Table[V])
}

// HashFunc hashes a key. The seed is chosen randomly per Table and may be
// ignored.
type HashFunc func(key string, seed uint64) uint64

type hashOption[V any] struct {
	primary HashFunc
	step    HashFunc
}

func (op hashOption[V]) apply(t *Table[V]) {
	if op.primary != nil {
		t.hash1 = op.primary
	}
	if op.step != nil {
		t.hash2 = op.step
	}
}

// WithHash is an option to specify the hash functions used by a Table[V].
// The primary hash selects the initial slot and the step hash selects the
// stride between successive probes. Either may be nil to keep the default.
func WithHash[V any](primary, step HashFunc) option[V] {
	return hashOption[V]{primary: primary, step: step}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// An allocator that cannot satisfy a request returns a slice shorter than
// requested (typically nil). The Table reports this as ErrOutOfMemory and
// leaves its state unchanged.
//
// If the allocator is manually managing memory and requires that slots and
// entries be freed then Table.Close must be called in order to ensure
// FreeSlots and FreeEntries are called.
type Allocator[V any] interface {
	// AllocSlots should return a slice equivalent to make([]uint32, n).
	AllocSlots(n int) []uint32

	// AllocEntries should return a slice equivalent to make([]Entry[V], n).
	AllocEntries(n int) []Entry[V]

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []uint32)

	// FreeEntries can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocEntries.
	FreeEntries(v []Entry[V])
}

type defaultAllocator[V any] struct{}

func (defaultAllocator[V]) AllocSlots(n int) []uint32 {
	return make([]uint32, n)
}

func (defaultAllocator[V]) AllocEntries(n int) []Entry[V] {
	return make([]Entry[V], n)
}

func (defaultAllocator[V]) FreeSlots(v []uint32) {
}

func (defaultAllocator[V]) FreeEntries(v []Entry[V]) {
}

type allocatorOption[V any] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(t *Table[V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Table[V].
func WithAllocator[V any](allocator Allocator[V]) option[V] {
	return allocatorOption[V]{allocator}
}

// DuplicatePolicy controls what Put does when the key is already present.
type DuplicatePolicy uint8

const (
	// DuplicateShadow performs no duplicate check. The new entry occupies
	// another slot in the key's probe sequence and is appended to the
	// insertion order. Get returns whichever entry the probe sequence
	// reaches first, which is the older entry unless a tombstone ahead of
	// it was reused.
	DuplicateShadow DuplicatePolicy = iota
	// DuplicateReject fails Put with ErrDuplicateKey.
	DuplicateReject
	// DuplicateReplace overwrites the value of the existing entry. Its
	// position in the insertion order is unchanged.
	DuplicateReplace
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateShadow:
		return "shadow"
	case DuplicateReject:
		return "reject"
	case DuplicateReplace:
		return "replace"
	default:
		return "unknown"
	}
}

type duplicateOption[V any] struct {
	policy DuplicatePolicy
}

func (op duplicateOption[V]) apply(t *Table[V]) {
	t.duplicates = op.policy
}

// WithDuplicatePolicy is an option to specify how Put treats a key that is
// already present. The default is DuplicateShadow.
func WithDuplicatePolicy[V any](policy DuplicatePolicy) option[V] {
	return duplicateOption[V]{policy}
}
