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

import "math"

// TxnType is a 64-bit totally ordered timestamp. One counter space holds
// two namespaces: values below TxnIdStart are start/commit timestamps,
// values at or above it are ids of active, uncommitted transactions.
type TxnType uint64

const (
	TxnIdStart TxnType = 1 << 62
	MaxTxnId   TxnType = math.MaxUint64
	NoneTxn    TxnType = 0
)

// Uncommitted reports whether ts carries the uncommitted-transaction tag.
func (ts TxnType) Uncommitted() bool {
	return ts >= TxnIdStart
}

// VersionVisible is the snapshot predicate: a change stamped id is visible
// to a reader with the given start time and transaction id when it either
// committed before the reader started or is the reader's own change.
func VersionVisible(startTime, txnId, id TxnType) bool {
	return id < startTime || id == txnId
}
