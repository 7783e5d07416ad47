// Copyright 2024-2025 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

const (
	// fixed capacity of one record buffer segment. record sizes are
	// bounded by the schema's maximum row width, which must fit in one
	// segment.
	BUFFER_SEGMENT_SIZE uint32 = 1 << 12
)

type OidType uint64

// TupleSlot is the logical location of one row version in a DataTable.
type TupleSlot uint64
