package storage

import (
	"sync/atomic"
	"unsafe"

	"github.com/daviszhen/mvcc/pkg/util"
)

type UndoRecordType uint32

const (
	UNDO_INVALID UndoRecordType = 0
	UNDO_UPDATE  UndoRecordType = 1
	UNDO_INSERT  UndoRecordType = 2
	UNDO_DELETE  UndoRecordType = 3
)

// UndoRecord is the before-image of one tuple change, carved in place
// out of an UndoBuffer reservation. The timestamp starts as the writing
// transaction's id and is restamped with the commit timestamp at commit;
// version chain walkers read it without locking, so it is atomic. An
// update record is followed inline by the overwritten column values.
type UndoRecord struct {
	_type      UndoRecordType
	_size      uint32
	_timestamp atomic.Uint64
	_table     *DataTable
	_slot      TupleSlot
	_next      atomic.Pointer[UndoRecord]
}

var undoRecordHeaderSize = uint32(unsafe.Sizeof(UndoRecord{}))

// UndoRecordSizeForUpdate computes the byte footprint of an update undo
// record carrying the given projection shape.
func UndoRecordSizeForUpdate(init *ProjectedRowInitializer) uint32 {
	return undoRecordHeaderSize + init.Size()
}

// UndoRecordSize is the fixed footprint of insert and delete undo
// records, which identify the slot but carry no payload.
func UndoRecordSize() uint32 {
	return undoRecordHeaderSize
}

func undoRecordFromPointer(ptr unsafe.Pointer) *UndoRecord {
	return (*UndoRecord)(ptr)
}

func initializeUndoRecord(
	mem unsafe.Pointer,
	typ UndoRecordType,
	size uint32,
	id TxnType,
	slot TupleSlot,
	table *DataTable,
) *UndoRecord {
	util.AssertFunc(table != nil)
	rec := undoRecordFromPointer(mem)
	rec._type = typ
	rec._size = size
	rec._timestamp.Store(uint64(id))
	rec._table = table
	rec._slot = slot
	rec._next.Store(nil)
	return rec
}

// initializeUndoUpdate lays out header plus row shape. The overwritten
// values are not captured here: the caller copies the table's current
// image into Row() under whatever protection it already holds.
func initializeUndoUpdate(
	mem unsafe.Pointer,
	id TxnType,
	slot TupleSlot,
	table *DataTable,
	init *ProjectedRowInitializer,
) *UndoRecord {
	rec := initializeUndoRecord(
		mem, UNDO_UPDATE, UndoRecordSizeForUpdate(init), id, slot, table)
	init.InitializeRow(util.PointerAdd(mem, int(undoRecordHeaderSize)))
	return rec
}

func initializeUndoInsert(
	mem unsafe.Pointer,
	id TxnType,
	slot TupleSlot,
	table *DataTable,
) *UndoRecord {
	return initializeUndoRecord(
		mem, UNDO_INSERT, UndoRecordSize(), id, slot, table)
}

func initializeUndoDelete(
	mem unsafe.Pointer,
	id TxnType,
	slot TupleSlot,
	table *DataTable,
) *UndoRecord {
	return initializeUndoRecord(
		mem, UNDO_DELETE, UndoRecordSize(), id, slot, table)
}

func (rec *UndoRecord) Type() UndoRecordType {
	return rec._type
}

func (rec *UndoRecord) Size() uint32 {
	return rec._size
}

func (rec *UndoRecord) Table() *DataTable {
	return rec._table
}

func (rec *UndoRecord) Slot() TupleSlot {
	return rec._slot
}

// Timestamp is the identity stamped on this change. Uncommitted-tagged
// values mean the writing transaction is still active.
func (rec *UndoRecord) Timestamp() TxnType {
	return TxnType(rec._timestamp.Load())
}

func (rec *UndoRecord) setTimestamp(ts TxnType) {
	rec._timestamp.Store(uint64(ts))
}

func (rec *UndoRecord) Next() *UndoRecord {
	return rec._next.Load()
}

func (rec *UndoRecord) SetNext(next *UndoRecord) {
	rec._next.Store(next)
}

// Row is the before-image payload view of an update record.
func (rec *UndoRecord) Row() ProjectedRow {
	util.AssertFunc(rec._type == UNDO_UPDATE)
	return ProjectedRow{
		_ptr: util.PointerAdd(unsafe.Pointer(rec), int(undoRecordHeaderSize)),
	}
}
