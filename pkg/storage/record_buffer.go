package storage

import (
	"unsafe"

	"github.com/daviszhen/mvcc/pkg/util"
)

// recordBuffer is the append-only, segment-backed store shared by the
// undo and redo flavors. Entries are carved out of a private chain of
// pool segments; once NewEntry returns a pointer it never moves until
// the buffer is closed.
type recordBuffer struct {
	_pool     *RecordBufferSegmentPool
	_segments []*BufferSegment
	_entries  []unsafe.Pointer
}

// NewEntry reserves size contiguous uninitialized bytes. A size above one
// segment's capacity is a caller contract breach.
func (buf *recordBuffer) NewEntry(size uint32) unsafe.Pointer {
	util.AssertFunc(buf._pool != nil)
	util.AssertFunc(size != 0 && size <= BUFFER_SEGMENT_SIZE)
	size = util.AlignValue(size, 8)
	if util.Empty(buf._segments) ||
		!util.Back(buf._segments).HasBytesLeft(size) {
		buf._segments = append(buf._segments, buf._pool.Get())
	}
	ptr := util.Back(buf._segments).Reserve(size)
	buf._entries = append(buf._entries, ptr)
	return ptr
}

func (buf *recordBuffer) Count() int {
	return len(buf._entries)
}

func (buf *recordBuffer) Empty() bool {
	return util.Empty(buf._entries)
}

// Entry returns the idx-th reserved record in reservation order.
func (buf *recordBuffer) Entry(idx int) unsafe.Pointer {
	return buf._entries[idx]
}

func (buf *recordBuffer) SegmentCount() int {
	return len(buf._segments)
}

// close returns every owned segment to the pool. This is the only
// reclamation path; entries become invalid here and not before.
func (buf *recordBuffer) close() {
	for _, seg := range buf._segments {
		buf._pool.Put(seg)
	}
	buf._segments = nil
	buf._entries = nil
	buf._pool = nil
}

// UndoBuffer holds before-images. Rollback consumes it back to front,
// the reclaimer front to back.
type UndoBuffer struct {
	recordBuffer
}

func NewUndoBuffer(pool *RecordBufferSegmentPool) UndoBuffer {
	return UndoBuffer{recordBuffer{_pool: pool}}
}

func (undo *UndoBuffer) Record(idx int) *UndoRecord {
	return undoRecordFromPointer(undo.Entry(idx))
}

// ForwardScan visits records in reservation order.
func (undo *UndoBuffer) ForwardScan(visit func(*UndoRecord)) {
	for i := 0; i < undo.Count(); i++ {
		visit(undo.Record(i))
	}
}

// ReverseScan visits records newest first, the order rollback needs.
func (undo *UndoBuffer) ReverseScan(visit func(*UndoRecord)) {
	for i := undo.Count() - 1; i >= 0; i-- {
		visit(undo.Record(i))
	}
}

// RedoBuffer holds after-images staged for table application and,
// when a log sink is attached, for durable logging. A nil sink is a
// valid configuration: the buffer is pure in-memory staging then.
type RedoBuffer struct {
	recordBuffer
	_log *WriteAheadLog
}

func NewRedoBuffer(log *WriteAheadLog, pool *RecordBufferSegmentPool) RedoBuffer {
	return RedoBuffer{
		recordBuffer: recordBuffer{_pool: pool},
		_log:         log,
	}
}

func (redo *RedoBuffer) Record(idx int) *RedoRecord {
	return redoRecordFromPointer(redo.Entry(idx))
}

func (redo *RedoBuffer) LoggingEnabled() bool {
	return redo._log != nil
}

// FlushToLog hands every staged record to the log sink in reservation
// order. Without a sink this is a no-op.
func (redo *RedoBuffer) FlushToLog() error {
	if redo._log == nil {
		return nil
	}
	for i := 0; i < redo.Count(); i++ {
		if err := redo._log.WriteRedo(redo.Record(i)); err != nil {
			return err
		}
	}
	return nil
}
