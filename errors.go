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

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned by Set when the key is the table's
	// reserved absent sentinel.
	ErrInvalidArgument = errors.New("addrtable: invalid key")

	// ErrNotFound is returned by Get and Delete when the key is not present.
	ErrNotFound = errors.New("addrtable: key not found")
)
