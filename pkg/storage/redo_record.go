package storage

import (
	"unsafe"

	"github.com/daviszhen/mvcc/pkg/util"
)

// RedoRecord is the after-image of one pending tuple change. It is
// stamped with the transaction's immutable start time, not its identity:
// once handed to the log the stamp must stay meaningful after the
// identity later flips to a commit timestamp. The new column values
// follow inline and are written through Row() with no intermediate copy.
type RedoRecord struct {
	_size      uint32
	_startTime TxnType
	_table     *DataTable
	_slot      TupleSlot
}

var redoRecordHeaderSize = uint32(unsafe.Sizeof(RedoRecord{}))

// RedoRecordSize computes the byte footprint of a redo record carrying
// the given projection shape.
func RedoRecordSize(init *ProjectedRowInitializer) uint32 {
	return redoRecordHeaderSize + init.Size()
}

func redoRecordFromPointer(ptr unsafe.Pointer) *RedoRecord {
	return (*RedoRecord)(ptr)
}

func initializeRedoRecord(
	mem unsafe.Pointer,
	startTime TxnType,
	table *DataTable,
	slot TupleSlot,
	init *ProjectedRowInitializer,
) *RedoRecord {
	util.AssertFunc(table != nil)
	rec := redoRecordFromPointer(mem)
	rec._size = RedoRecordSize(init)
	rec._startTime = startTime
	rec._table = table
	rec._slot = slot
	init.InitializeRow(util.PointerAdd(mem, int(redoRecordHeaderSize)))
	return rec
}

func (rec *RedoRecord) Size() uint32 {
	return rec._size
}

func (rec *RedoRecord) StartTime() TxnType {
	return rec._startTime
}

func (rec *RedoRecord) Table() *DataTable {
	return rec._table
}

func (rec *RedoRecord) Slot() TupleSlot {
	return rec._slot
}

// Row is the writable after-image payload view.
func (rec *RedoRecord) Row() ProjectedRow {
	return ProjectedRow{
		_ptr: util.PointerAdd(unsafe.Pointer(rec), int(redoRecordHeaderSize)),
	}
}
