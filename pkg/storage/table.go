package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tidwall/btree"

	"github.com/daviszhen/mvcc/pkg/util"
)

// tupleEntry is one slot of a DataTable: the current (newest, possibly
// uncommitted) image plus the head of the slot's undo chain. The latch
// covers image bytes and the deleted flag; the chain head and the
// timestamps inside the chain stay lock-free for walkers.
type tupleEntry struct {
	_slot     TupleSlot
	_latch    sync.Mutex
	_data     unsafe.Pointer
	_row      ProjectedRow
	_deleted  bool
	_undoHead atomic.Pointer[UndoRecord]
}

func newTupleEntry(slot TupleSlot, layout *ProjectedRowInitializer) *tupleEntry {
	ent := &tupleEntry{
		_slot: slot,
		_data: util.CMalloc(int(layout.Size())),
	}
	ent._row = layout.InitializeRow(ent._data)
	return ent
}

// DataTable is the tuple table collaborator of the transaction layer:
// it stores current images, installs undo chains, and applies redo and
// undo payloads onto slots.
type DataTable struct {
	_oid      OidType
	_schema   string
	_name     string
	_layout   *ProjectedRowInitializer
	_rows     *btree.BTreeG[*tupleEntry]
	_nextSlot atomic.Uint64
}

func NewDataTable(
	oid OidType,
	schema string,
	name string,
	colIds []ColIdType,
	widths []uint32,
) *DataTable {
	return &DataTable{
		_oid:    oid,
		_schema: schema,
		_name:   name,
		_layout: NewProjectedRowInitializer(colIds, widths),
		_rows: btree.NewBTreeG[*tupleEntry](func(a, b *tupleEntry) bool {
			return a._slot < b._slot
		}),
	}
}

func (table *DataTable) Oid() OidType {
	return table._oid
}

func (table *DataTable) Name() string {
	return fmt.Sprintf("%s.%s", table._schema, table._name)
}

// Layout is the full-row projection shape. It bounds the maximum record
// width any change against this table can require.
func (table *DataTable) Layout() *ProjectedRowInitializer {
	return table._layout
}

func (table *DataTable) AllocateSlot() TupleSlot {
	return TupleSlot(table._nextSlot.Add(1))
}

func (table *DataTable) getEntry(slot TupleSlot) *tupleEntry {
	ent, ok := table._rows.Get(&tupleEntry{_slot: slot})
	util.AssertFunc(ok)
	return ent
}

// checkConflict panics when the slot's newest version belongs to another
// still-uncommitted transaction. Write-write conflict policy is the
// caller's; this layer only surfaces the mechanism.
func checkConflict(txn *Txn, slot TupleSlot, head *UndoRecord) {
	if head == nil {
		return
	}
	ts := head.Timestamp()
	if ts.Uncommitted() && ts != txn.Id() {
		panic(fmt.Sprintf(
			"conflicts on txn %d write of slot %d. already written by txn %d",
			txn.Id(), slot, ts))
	}
}

// Insert publishes a new slot holding the staged after-image. The undo
// insert record makes the row invisible to other snapshots until commit.
func (table *DataTable) Insert(txn *Txn, slot TupleSlot, redo *RedoRecord) {
	util.AssertFunc(redo.Table() == table && redo.Slot() == slot)
	ent := newTupleEntry(slot, table._layout)
	undo := txn.UndoRecordForInsert(table, slot)
	ent._undoHead.Store(undo)
	ent._row.CopyFrom(redo.Row())
	table._rows.Set(ent)
}

// Update captures the slot's current image into a fresh undo record,
// links it at the chain head, and applies the staged after-image.
func (table *DataTable) Update(txn *Txn, slot TupleSlot, redo *RedoRecord) {
	util.AssertFunc(redo.Table() == table && redo.Slot() == slot)
	ent := table.getEntry(slot)
	ent._latch.Lock()
	defer ent._latch.Unlock()
	head := ent._undoHead.Load()
	checkConflict(txn, slot, head)
	undo := txn.UndoRecordForUpdate(table, slot, table._layout)
	undo.Row().CopyFrom(ent._row)
	undo.SetNext(head)
	ent._undoHead.Store(undo)
	ent._row.CopyFrom(redo.Row())
}

// Delete tombstones the slot. The undo delete record carries no payload;
// it only tells older snapshots the row is still live for them.
func (table *DataTable) Delete(txn *Txn, slot TupleSlot) {
	ent := table.getEntry(slot)
	ent._latch.Lock()
	defer ent._latch.Unlock()
	head := ent._undoHead.Load()
	checkConflict(txn, slot, head)
	undo := txn.UndoRecordForDelete(table, slot)
	undo.SetNext(head)
	ent._undoHead.Store(undo)
	ent._deleted = true
}

// Fetch copies the version of the slot visible to txn's snapshot into
// out and reports whether the row is live for that snapshot. out must be
// in this table's layout.
func (table *DataTable) Fetch(txn *Txn, slot TupleSlot, out ProjectedRow) bool {
	ent, ok := table._rows.Get(&tupleEntry{_slot: slot})
	if !ok {
		return false
	}
	return table.fetchEntry(txn, ent, out)
}

func (table *DataTable) fetchEntry(txn *Txn, ent *tupleEntry, out ProjectedRow) bool {
	ent._latch.Lock()
	defer ent._latch.Unlock()
	out.CopyFrom(ent._row)
	live := !ent._deleted
	startTime := txn.StartTime()
	id := txn.Id()
	for ver := ent._undoHead.Load(); ver != nil; ver = ver.Next() {
		if VersionVisible(startTime, id, ver.Timestamp()) {
			break
		}
		switch ver.Type() {
		case UNDO_UPDATE:
			out.CopyFrom(ver.Row())
		case UNDO_INSERT:
			// insert not visible: no version of this row exists yet
			return false
		case UNDO_DELETE:
			live = true
		default:
			panic("unexpected undo record type")
		}
	}
	return live
}

// ScanCount counts rows live under txn's snapshot. Entries are gathered
// first so no tuple latch is taken while the tree is being walked.
func (table *DataTable) ScanCount(txn *Txn) int {
	var ents []*tupleEntry
	table._rows.Scan(func(ent *tupleEntry) bool {
		ents = append(ents, ent)
		return true
	})
	scratch := util.CMalloc(int(table._layout.Size()))
	defer util.CFree(scratch)
	out := table._layout.InitializeRow(scratch)
	count := 0
	for _, ent := range ents {
		if table.fetchEntry(txn, ent, out) {
			count++
		}
	}
	return count
}

// applyUndo restores one before-image during rollback. Records arrive
// newest first, so the record being reverted is always the chain head.
func (table *DataTable) applyUndo(rec *UndoRecord) {
	ent := table.getEntry(rec.Slot())
	ent._latch.Lock()
	defer ent._latch.Unlock()
	switch rec.Type() {
	case UNDO_UPDATE:
		ent._row.CopyFrom(rec.Row())
	case UNDO_INSERT:
		ent._deleted = true
	case UNDO_DELETE:
		ent._deleted = false
	default:
		panic("unexpected undo record type")
	}
	ent._undoHead.CompareAndSwap(rec, rec.Next())
}

// unlinkVersion cuts rec out of its slot's chain once the reclaimer has
// decided every live snapshot sees past it. Everything below rec is
// older still and gets truncated with it.
func (table *DataTable) unlinkVersion(rec *UndoRecord) {
	ent, ok := table._rows.Get(&tupleEntry{_slot: rec.Slot()})
	if !ok {
		return
	}
	ent._latch.Lock()
	defer ent._latch.Unlock()
	if ent._undoHead.Load() == rec {
		ent._undoHead.Store(nil)
		return
	}
	for cur := ent._undoHead.Load(); cur != nil; cur = cur.Next() {
		if cur.Next() == rec {
			cur.SetNext(nil)
			return
		}
	}
}

// Close frees the current images. Callers make sure no transaction still
// touches the table.
func (table *DataTable) Close() {
	table._rows.Scan(func(ent *tupleEntry) bool {
		util.CFree(ent._data)
		ent._data = nil
		return true
	})
	table._rows.Clear()
}
