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

// Package addrtable is a hash table that maps keys to values using open
// addressing over a single slot array. See
// https://en.wikipedia.org/wiki/Open_addressing and
// https://en.wikipedia.org/wiki/Linear_probing.
//
// # Layout
//
// A Table is a slice of 2^N slots. Each slot is in one of three states:
// empty, tombstone or occupied. Only occupied slots carry a key and value.
// Unlike a swiss table there is no separate metadata array; the state lives
// next to the key in the slot itself.
//
// # Probing
//
// A key's probe sequence starts at hash(key)&(capacity-1) and visits
// consecutive slots, wrapping at the end of the array. Lookups (Get and
// Delete) walk the sequence until they find an occupied slot holding the key
// or an empty slot, in which case the key is absent. Tombstones and slots
// occupied by other keys are skipped. Set walks the same sequence; if the key
// is found its value is overwritten, otherwise the entry is written into the
// first tombstone passed on the way or the empty slot which ended the walk.
//
// A walk never visits more than capacity slots. Set always finds room
// because growth keeps at least 30% of the slots unoccupied.
//
// # Deletion
//
// Delete replaces the slot with a tombstone rather than marking it empty.
// Marking it empty would cut the probe sequence of any key that collided
// with the deleted key and was placed beyond it:
//
//	slot:  0        1        2
//	      [k=8]    [k=16]   [k=24]     hash(8)=hash(16)=hash(24)=0
//
//	Delete(16):
//	      [k=8]    [tomb]   [k=24]     Get(24) skips the tombstone
//
// Tombstones are reused by later insertions and discarded on growth.
//
// # Growth
//
// Every successful Set increments the table's count and every successful
// Delete decrements it. When count/capacity exceeds 0.7 the table doubles:
// a fresh slot array is allocated, every occupied slot is reinserted along
// its new probe sequence and the old array is released. By default updates
// of an existing key count as well, which makes a table that is mostly
// overwritten grow sooner than its number of entries requires. Use
// WithExactCount to count only new keys.
//
// # Keys
//
// Any comparable type may be used as a key. Integer keys hash to
// themselves, strings use xxh3, floats and other types use xxhash. Key types
// may supply their own hash by implementing Hasher, and WithHash overrides
// the hash function entirely. For key types that have a nil value, nil is
// reserved as the absent key and cannot be stored. WithAbsentKey reserves a
// different value.
package addrtable

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	debug = false

	defaultCapacity = 8
	// maxLoadFactor is the count/capacity ratio above which Set grows the
	// table.
	maxLoadFactor = 0.7
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotOccupied
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotTombstone:
		return "tombstone"
	case slotOccupied:
		return "occupied"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Slot holds a key and value. The zero Slot is empty.
type Slot[K comparable, V any] struct {
	key   K
	value V
	state slotState
}

// Table is an unordered map from keys to values with Set, Get, Delete, and
// All operations. The zero value for a Table is not usable; use New.
//
// A Table is NOT goroutine-safe.
type Table[K comparable, V any] struct {
	// The hash function for keys of type K.
	hash hashFn[K]
	// isAbsent reports whether a key is the reserved absent key. It is nil
	// if no key is reserved.
	isAbsent func(key K) bool
	// The allocator to use for the slots slice.
	allocator Allocator[K, V]
	// slots is capacity in length.
	slots []Slot[K, V]
	// The total number of slots (always 2^N). capacity-1 is used as a mask
	// to compute i%capacity.
	capacity int
	// count drives growth. See exactCount.
	count int
	// The number of occupied slots (i.e. the number of elements in the
	// table).
	used int
	// exactCount is false if every successful Set increments count, and
	// true if only insertions of new keys do. Either way count >= used.
	exactCount bool
}

// New constructs a new Table. Without options the table starts with 8 slots,
// uses the default hash for K and reserves nil as the absent key if K has a
// nil value.
func New[K comparable, V any](options ...option[K, V]) *Table[K, V] {
	t := &Table[K, V]{
		hash:      defaultHasher[K](),
		isAbsent:  nilChecker[K](),
		allocator: defaultAllocator[K, V]{},
		capacity:  defaultCapacity,
	}

	for _, op := range options {
		op.apply(t)
	}

	t.slots = t.allocator.AllocSlots(t.capacity)
	clear(t.slots)
	t.checkInvariants()
	return t
}

// Close releases the slots back to the configured allocator. It is
// unnecessary to close a table using the default allocator. It is invalid to
// use a Table after it has been closed, though Close itself is idempotent.
func (t *Table[K, V]) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
		t.slots = nil
		t.count = 0
		t.used = 0
	}
}

// Set inserts an entry into the table, overwriting the existing value if an
// entry with the same key already exists. Set returns an error matching
// ErrInvalidArgument, and leaves the table untouched, if key is the absent
// key.
func (t *Table[K, V]) Set(key K, value V) error {
	if t.absent(key) {
		return errors.WithMessagef(ErrInvalidArgument, "set(%v)", key)
	}

	i, found := t.seek(key)
	s := &t.slots[i]
	if debug {
		fmt.Printf("set(%v): index=%d %s found=%t\n", key, i, s.state, found)
	}
	s.key = key
	s.value = value
	s.state = slotOccupied

	if !found {
		t.used++
	}
	if !found || !t.exactCount {
		t.count++
	}
	if t.overloaded() {
		t.resize(2 * t.capacity)
	}
	t.checkInvariants()
	return nil
}

// Get retrieves the value from the table for the specified key. Get returns
// an error matching ErrNotFound if the key is not present.
func (t *Table[K, V]) Get(key K) (V, error) {
	if !t.absent(key) {
		if i, ok := t.find(key); ok {
			return t.slots[i].value, nil
		}
	}
	var value V
	return value, errors.WithMessagef(ErrNotFound, "get(%v)", key)
}

// Delete deletes the entry corresponding to the specified key from the
// table. Delete returns an error matching ErrNotFound if the key is not
// present.
func (t *Table[K, V]) Delete(key K) error {
	if t.absent(key) {
		return errors.WithMessagef(ErrNotFound, "delete(%v)", key)
	}
	i, ok := t.find(key)
	if !ok {
		return errors.WithMessagef(ErrNotFound, "delete(%v)", key)
	}

	// Drop the key and value so they can be collected, but leave a tombstone
	// so that probe sequences passing through i continue past it.
	t.slots[i] = Slot[K, V]{state: slotTombstone}
	t.used--
	t.count--

	if debug {
		fmt.Printf("delete(%v): index=%d used=%d count=%d\n", key, i, t.used, t.count)
	}
	t.checkInvariants()
	return nil
}

// All calls yield sequentially for each key and value present in the table,
// in slot order. If yield returns false, All stops the iteration. The table
// can be mutated during iteration, though there is no guarantee that the
// mutations will be visible to the iteration.
func (t *Table[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the slots so that iteration remains valid if the table is
	// resized during iteration.
	slots := t.slots
	for i := range slots {
		if s := &slots[i]; s.state == slotOccupied {
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// Clear deletes all entries from the table. The capacity is retained.
func (t *Table[K, V]) Clear() {
	clear(t.slots)
	t.count = 0
	t.used = 0
	t.checkInvariants()
}

// Len returns the number of entries in the table.
func (t *Table[K, V]) Len() int {
	return t.used
}

// Capacity returns the number of slots in the table.
func (t *Table[K, V]) Capacity() int {
	return t.capacity
}

// String renders the entries of the table in slot order as
// "key": value pairs separated by commas.
func (t *Table[K, V]) String() string {
	var buf strings.Builder
	t.All(func(k K, v V) bool {
		if buf.Len() > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "\"%v\": %v", k, v)
		return true
	})
	return buf.String()
}

// GoString returns a dump of every slot, including empty slots and
// tombstones.
func (t *Table[K, V]) GoString() string {
	return t.debugString()
}

func (t *Table[K, V]) absent(key K) bool {
	return t.isAbsent != nil && t.isAbsent(key)
}

func (t *Table[K, V]) overloaded() bool {
	return float64(t.count)/float64(t.capacity) > maxLoadFactor
}

// start returns the first index of key's probe sequence.
func (t *Table[K, V]) start(key K) int {
	return int(t.hash(key) & uint64(t.capacity-1))
}

// find returns the index of the occupied slot holding key. Tombstones and
// slots holding other keys are skipped; an empty slot ends the search.
func (t *Table[K, V]) find(key K) (int, bool) {
	mask := t.capacity - 1
	i := t.start(key)
	if debug {
		fmt.Printf("find(%v): start=%d capacity=%d\n", key, i, t.capacity)
	}

	for n := 0; n < t.capacity; n++ {
		s := &t.slots[i]
		switch s.state {
		case slotEmpty:
			if debug {
				fmt.Printf("find(not-found): index=%d\n", i)
			}
			return i, false
		case slotOccupied:
			if s.key == key {
				return i, true
			}
		}
		if debug {
			fmt.Printf("find(skipping): index=%d %s\n", i, s.state)
		}
		i = (i + 1) & mask
	}

	// Every slot is a tombstone or holds another key.
	return -1, false
}

// seek returns the index at which key should be stored, and whether that
// slot already holds key. When key is absent the index is that of the first
// tombstone along key's probe sequence, or the empty slot that ended it.
func (t *Table[K, V]) seek(key K) (int, bool) {
	mask := t.capacity - 1
	i := t.start(key)
	tombstone := -1

	for n := 0; n < t.capacity; n++ {
		s := &t.slots[i]
		switch s.state {
		case slotEmpty:
			if tombstone >= 0 {
				return tombstone, false
			}
			return i, false
		case slotTombstone:
			if tombstone < 0 {
				tombstone = i
			}
		case slotOccupied:
			if s.key == key {
				return i, true
			}
		}
		if debug {
			fmt.Printf("seek(skipping): index=%d %s\n", i, s.state)
		}
		i = (i + 1) & mask
	}

	if tombstone < 0 {
		panic(fmt.Sprintf("addrtable: no free slot for %v\n%s", key, t.debugString()))
	}
	return tombstone, false
}

// resize allocates a slot array of newCapacity, reinserts each occupied slot
// along its probe sequence in the new array and discards the old array.
// Tombstones are not carried over. The count is unchanged.
func (t *Table[K, V]) resize(newCapacity int) {
	oldSlots, oldCapacity := t.slots, t.capacity
	t.slots = t.allocator.AllocSlots(newCapacity)
	clear(t.slots)
	t.capacity = newCapacity

	if debug {
		fmt.Printf("resize: capacity=%d->%d  used=%d count=%d\n",
			oldCapacity, newCapacity, t.used, t.count)
	}

	for i := range oldSlots {
		s := &oldSlots[i]
		if s.state != slotOccupied {
			continue
		}
		j, _ := t.seek(s.key)
		t.slots[j] = *s
	}

	t.allocator.FreeSlots(oldSlots)
}

func (t *Table[K, V]) checkInvariants() {
	if invariants {
		if t.capacity <= 0 || t.capacity&(t.capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of 2", t.capacity))
		}
		if len(t.slots) != t.capacity {
			panic(fmt.Sprintf("invariant failed: %d slots, but capacity is %d", len(t.slots), t.capacity))
		}

		// For every occupied slot, verify that find stops at that slot. This
		// also verifies that no key is stored twice as find would stop at the
		// first copy.
		var used int
		for i := range t.slots {
			s := &t.slots[i]
			switch s.state {
			case slotEmpty, slotTombstone:
			case slotOccupied:
				if t.absent(s.key) {
					panic(fmt.Sprintf("invariant failed: slot(%d): absent key stored\n%s", i, t.debugString()))
				}
				if j, ok := t.find(s.key); !ok || j != i {
					panic(fmt.Sprintf("invariant failed: slot(%d): %v found at %d (ok=%t) [start=%d]\n%s",
						i, s.key, j, ok, t.start(s.key), t.debugString()))
				}
				used++
			default:
				panic(fmt.Sprintf("invariant failed: slot(%d): unexpected %s", i, s.state))
			}
		}

		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
		if t.count < t.used || (t.exactCount && t.count != t.used) {
			panic(fmt.Sprintf("invariant failed: count is %d, but used count is %d\n%s",
				t.count, t.used, t.debugString()))
		}
		if t.overloaded() {
			panic(fmt.Sprintf("invariant failed: count %d exceeds load factor for capacity %d\n%s",
				t.count, t.capacity, t.debugString()))
		}
	}
}

func (t *Table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  count=%d\n", t.capacity, t.used, t.count)
	for i := range t.slots {
		switch s := &t.slots[i]; s.state {
		case slotOccupied:
			fmt.Fprintf(&buf, "  %4d: %v=%v [start=%d]\n", i, s.key, s.value, t.start(s.key))
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, s.state)
		}
	}
	return buf.String()
}
