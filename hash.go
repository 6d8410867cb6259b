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
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/constraints"
)

// Hasher may be implemented by key types that want to supply their own hash.
// Keys that compare equal must return equal hashes.
type Hasher interface {
	Hash() uint64
}

type hashFn[K comparable] func(key K) uint64

// defaultHasher returns the hash function used for keys of type K when no
// WithHash option is given. The function is selected once from the kind of K
// so that the per-call cost is a direct load rather than a reflect call.
//
// Integer keys hash to themselves. This mirrors the classic behavior where
// hash(n) == n, which makes collisions easy to construct: 8, 16 and 24 all
// start probing at slot 0 of an 8 slot table.
func defaultHasher[K comparable]() hashFn[K] {
	var zero K
	if _, ok := any(zero).(Hasher); ok {
		return func(key K) uint64 {
			return any(key).(Hasher).Hash()
		}
	}

	switch reflect.TypeOf((*K)(nil)).Elem().Kind() {
	case reflect.Int:
		return integerHasher[K, int]()
	case reflect.Int8:
		return integerHasher[K, int8]()
	case reflect.Int16:
		return integerHasher[K, int16]()
	case reflect.Int32:
		return integerHasher[K, int32]()
	case reflect.Int64:
		return integerHasher[K, int64]()
	case reflect.Uint:
		return integerHasher[K, uint]()
	case reflect.Uint8:
		return integerHasher[K, uint8]()
	case reflect.Uint16:
		return integerHasher[K, uint16]()
	case reflect.Uint32:
		return integerHasher[K, uint32]()
	case reflect.Uint64:
		return integerHasher[K, uint64]()
	case reflect.Uintptr, reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		return integerHasher[K, uintptr]()
	case reflect.Bool:
		return func(key K) uint64 {
			if *(*bool)(unsafe.Pointer(&key)) {
				return 1
			}
			return 0
		}
	case reflect.String:
		return func(key K) uint64 {
			return xxh3.HashString(*(*string)(unsafe.Pointer(&key)))
		}
	case reflect.Float32:
		return floatHasher[K, float32]()
	case reflect.Float64:
		return floatHasher[K, float64]()
	case reflect.Complex64:
		return func(key K) uint64 {
			c := *(*complex64)(unsafe.Pointer(&key))
			return hashComplex(float64(real(c)), float64(imag(c)))
		}
	case reflect.Complex128:
		return func(key K) uint64 {
			c := *(*complex128)(unsafe.Pointer(&key))
			return hashComplex(real(c), imag(c))
		}
	default:
		// Interfaces, structs and arrays.
		return func(key K) uint64 {
			return hashAny(any(key))
		}
	}
}

// integerHasher reinterprets the key as T, an integer type with the same
// size and layout as K.
func integerHasher[K comparable, T constraints.Integer]() hashFn[K] {
	return func(key K) uint64 {
		return uint64(*(*T)(unsafe.Pointer(&key)))
	}
}

func floatHasher[K comparable, T constraints.Float]() hashFn[K] {
	return func(key K) uint64 {
		return hashFloat(float64(*(*T)(unsafe.Pointer(&key))))
	}
}

func hashFloat(f float64) uint64 {
	// +0 and -0 compare equal and must hash equally.
	if f == 0 {
		f = 0
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	return xxhash.Sum64(buf[:])
}

func hashComplex(re, im float64) uint64 {
	if re == 0 {
		re = 0
	}
	if im == 0 {
		im = 0
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(re))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(im))
	return xxhash.Sum64(buf[:])
}

// hashAny hashes the dynamic value of v. The common builtin types hash the
// same way they do when used directly as a key type. Anything else is walked
// with reflect by hashValue.
func hashAny(v any) uint64 {
	switch k := v.(type) {
	case nil:
		return 0
	case Hasher:
		return k.Hash()
	case int:
		return uint64(k)
	case int8:
		return uint64(k)
	case int16:
		return uint64(k)
	case int32:
		return uint64(k)
	case int64:
		return uint64(k)
	case uint:
		return uint64(k)
	case uint8:
		return uint64(k)
	case uint16:
		return uint64(k)
	case uint32:
		return uint64(k)
	case uint64:
		return k
	case uintptr:
		return uint64(k)
	case bool:
		if k {
			return 1
		}
		return 0
	case string:
		return xxh3.HashString(k)
	case float32:
		return hashFloat(float64(k))
	case float64:
		return hashFloat(k)
	case complex64:
		return hashComplex(float64(real(k)), float64(imag(k)))
	case complex128:
		return hashComplex(real(k), imag(k))
	default:
		return hashValue(reflect.ValueOf(v))
	}
}

// hashValue hashes v the way == compares it: pointers by address, structs
// field by field and arrays element by element. Blank struct fields do not
// take part in ==, so they are skipped.
func hashValue(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return hashFloat(v.Float())
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		return hashComplex(real(c), imag(c))
	case reflect.String:
		return xxh3.HashString(v.String())
	case reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		return uint64(v.Pointer())
	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return hashValue(v.Elem())
	case reflect.Struct:
		d := xxhash.New()
		typ := v.Type()
		for i, n := 0, v.NumField(); i < n; i++ {
			if typ.Field(i).Name == "_" {
				continue
			}
			writeHash(d, hashValue(v.Field(i)))
		}
		return d.Sum64()
	case reflect.Array:
		d := xxhash.New()
		for i, n := 0, v.Len(); i < n; i++ {
			writeHash(d, hashValue(v.Index(i)))
		}
		return d.Sum64()
	default:
		panic(fmt.Sprintf("addrtable: hash of unhashable type %s", v.Type()))
	}
}

func writeHash(d *xxhash.Digest, h uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h)
	_, _ = d.Write(buf[:])
}

// nilChecker returns a function reporting whether a key is nil, or nil if
// keys of type K have no nil value.
func nilChecker[K comparable]() func(key K) bool {
	switch reflect.TypeOf((*K)(nil)).Elem().Kind() {
	case reflect.Interface:
		return func(key K) bool {
			return any(key) == nil
		}
	case reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		return func(key K) bool {
			return *(*unsafe.Pointer)(unsafe.Pointer(&key)) == nil
		}
	default:
		return nil
	}
}
