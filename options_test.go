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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialCapacity(t *testing.T) {
	testCases := []struct {
		initialCapacity  int
		expectedCapacity int
	}{
		{-1, 8},
		{0, 8},
		{1, 1},
		{3, 4},
		{8, 8},
		{9, 16},
		{1000, 1024},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			m := New[int, int](WithInitialCapacity[int, int](c.initialCapacity))
			require.EqualValues(t, c.expectedCapacity, m.Capacity())
			require.EqualValues(t, c.expectedCapacity, len(m.slots))
		})
	}
}

func TestSingleSlot(t *testing.T) {
	m := New[int, int](WithInitialCapacity[int, int](1))
	require.NoError(t, m.Set(5, 5))
	require.EqualValues(t, 2, m.Capacity())
	require.NoError(t, m.Set(6, 6))
	require.EqualValues(t, 4, m.Capacity())
	require.Equal(t, map[int]int{5: 5, 6: 6}, m.toBuiltinMap())
}

func TestWithHash(t *testing.T) {
	var calls int
	m := New[string, int](WithHash[string, int](func(key string) uint64 {
		calls++
		return uint64(len(key))
	}))
	require.NoError(t, m.Set("ab", 1))
	require.NoError(t, m.Set("cd", 2))
	require.Equal(t, "ab", m.slots[2].key)
	require.Equal(t, "cd", m.slots[3].key)
	if !invariants {
		require.EqualValues(t, 2, calls)
	}
}

type countingAllocator[K comparable, V any] struct {
	alloc int
	free  int
}

func (a *countingAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	a.alloc++
	return make([]Slot[K, V], n)
}

func (a *countingAllocator[K, V]) FreeSlots(_ []Slot[K, V]) {
	a.free++
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator[int, int]{}
	m := New[int, int](WithAllocator[int, int](a))

	for i := 0; i < 100; i++ {
		require.NoError(t, m.Set(i, i))
	}

	// 8 -> 16 -> 32 -> 64 -> 128 -> 256
	const expected = 6
	require.EqualValues(t, expected, a.alloc)
	require.EqualValues(t, expected-1, a.free)
	require.EqualValues(t, 256, m.Capacity())

	m.Close()
	require.EqualValues(t, expected, a.free)

	m.Close()
	require.EqualValues(t, expected, a.free)
}

// reusingAllocator hands back previously freed arrays without zeroing them.
type reusingAllocator[K comparable, V any] struct {
	free [][]Slot[K, V]
}

func (a *reusingAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	for i, s := range a.free {
		if len(s) == n {
			a.free = append(a.free[:i], a.free[i+1:]...)
			return s
		}
	}
	return make([]Slot[K, V], n)
}

func (a *reusingAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
	a.free = append(a.free, v)
}

func TestAllocatorReuse(t *testing.T) {
	a := &reusingAllocator[int, int]{}
	m := New[int, int](WithAllocator[int, int](a))
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Set(i, i))
	}
	m.Close()

	m = New[int, int](WithAllocator[int, int](a), WithInitialCapacity[int, int](16))
	require.EqualValues(t, 0, m.Len())
	m.All(func(k, v int) bool {
		require.Fail(t, "should not iterate")
		return true
	})
	_, err := m.Get(3)
	require.ErrorIs(t, err, ErrNotFound)
}
