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

package addrtable

import "math/bits"

// option provide an interface to do work on Table while it is being created.
type option[K comparable, V any] interface {
	apply(t *Table[K, V])
}

type initialCapacityOption[K comparable, V any] struct {
	capacity int
}

func (op initialCapacityOption[K, V]) apply(t *Table[K, V]) {
	t.capacity = roundUpPow2(op.capacity)
}

// WithInitialCapacity is an option to specify the number of slots a Table
// starts with. The value is rounded up to the next power of 2. Values <= 0
// leave the default capacity of 8 in place.
func WithInitialCapacity[K comparable, V any](capacity int) option[K, V] {
	return initialCapacityOption[K, V]{capacity}
}

type hashOption[K comparable, V any] struct {
	hash func(key K) uint64
}

func (op hashOption[K, V]) apply(t *Table[K, V]) {
	t.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a
// Table[K,V]. The function must be deterministic and must return equal
// hashes for keys that compare equal.
func WithHash[K comparable, V any](hash func(key K) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

type absentKeyOption[K comparable, V any] struct {
	key K
}

func (op absentKeyOption[K, V]) apply(t *Table[K, V]) {
	key := op.key
	t.isAbsent = func(k K) bool {
		return k == key
	}
}

// WithAbsentKey is an option to reserve key as the absent sentinel. Set
// rejects the sentinel with ErrInvalidArgument. Key types with a nil value
// (interfaces, pointers, channels) reserve nil unless this option is given.
func WithAbsentKey[K comparable, V any](key K) option[K, V] {
	return absentKeyOption[K, V]{key}
}

type exactCountOption[K comparable, V any] struct{}

func (exactCountOption[K, V]) apply(t *Table[K, V]) {
	t.exactCount = true
}

// WithExactCount is an option to count only insertions of new keys towards
// the load factor. By default every successful Set counts, including
// overwrites of an existing key, which makes a Table that sees many updates
// grow earlier than its number of entries requires.
func WithExactCount[K comparable, V any]() option[K, V] {
	return exactCountOption[K, V]{}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Table.Close must be called in order to ensure FreeSlots is
// called for the final slot array.
type Allocator[K comparable, V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n).
	AllocSlots(n int) []Slot[K, V]

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(t *Table[K, V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Table[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

// roundUpPow2 returns the smallest power of 2 that is >= n, or
// defaultCapacity if n <= 0.
func roundUpPow2(n int) int {
	if n <= 0 {
		return defaultCapacity
	}
	return 1 << bits.Len(uint(n-1))
}
