package storage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/mvcc/pkg/util"
)

func newTestTable() *DataTable {
	return NewDataTable(1, "test", "t1",
		[]ColIdType{0, 1, 2},
		[]uint32{8, 8, 8})
}

func putCol(row ProjectedRow, i int, v uint64) {
	binary.LittleEndian.PutUint64(row.ColumnSlice(i), v)
}

func getCol(row ProjectedRow, i int) uint64 {
	return binary.LittleEndian.Uint64(row.ColumnSlice(i))
}

// insertRow stages and applies one row whose columns are v, v+1, v+2.
func insertRow(txn *Txn, table *DataTable, v uint64) TupleSlot {
	slot := table.AllocateSlot()
	redo := txn.StageWrite(table, slot, table.Layout())
	for i := 0; i < 3; i++ {
		putCol(redo.Row(), i, v+uint64(i))
	}
	table.Insert(txn, slot, redo)
	return slot
}

func updateRow(txn *Txn, table *DataTable, slot TupleSlot, v uint64) {
	redo := txn.StageWrite(table, slot, table.Layout())
	for i := 0; i < 3; i++ {
		putCol(redo.Row(), i, v+uint64(i))
	}
	table.Update(txn, slot, redo)
}

// fetchRow reads the snapshot-visible version of slot into scratch memory
// and returns the first column, or false when the row is not live.
func fetchRow(txn *Txn, table *DataTable, slot TupleSlot) (uint64, bool) {
	scratch := util.CMalloc(int(table.Layout().Size()))
	defer util.CFree(scratch)
	out := table.Layout().InitializeRow(scratch)
	if !table.Fetch(txn, slot, out) {
		return 0, false
	}
	return getCol(out, 0), true
}

func Test_tableInsertFetch(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn, err := txnMgr.NewTxn("txn1")
	require.NoError(t, err)

	slot := insertRow(txn, table, 10)
	//own uncommitted insert is visible
	v, live := fetchRow(txn, table, slot)
	require.True(t, live)
	assert.Equal(t, uint64(10), v)
	assert.Equal(t, 1, table.ScanCount(txn))

	//missing slots are simply absent
	_, live = fetchRow(txn, table, TupleSlot(999))
	assert.False(t, live)

	err = txnMgr.Commit(txn)
	require.NoError(t, err)

	txn2, err := txnMgr.NewTxn("txn2")
	require.NoError(t, err)
	v, live = fetchRow(txn2, table, slot)
	require.True(t, live)
	assert.Equal(t, uint64(10), v)
	require.NoError(t, txnMgr.Commit(txn2))
}

func Test_tableUpdateVersions(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn0, err := txnMgr.NewTxn("txn0")
	require.NoError(t, err)
	slot := insertRow(txn0, table, 10)
	require.NoError(t, txnMgr.Commit(txn0))

	//reader opens its snapshot before the writer commits
	reader, err := txnMgr.NewTxn("reader")
	require.NoError(t, err)

	writer, err := txnMgr.NewTxn("writer")
	require.NoError(t, err)
	updateRow(writer, table, slot, 100)

	//writer sees its own update, reader still sees the old version
	v, _ := fetchRow(writer, table, slot)
	assert.Equal(t, uint64(100), v)
	v, _ = fetchRow(reader, table, slot)
	assert.Equal(t, uint64(10), v)

	require.NoError(t, txnMgr.Commit(writer))

	//commit does not move an already open snapshot
	v, _ = fetchRow(reader, table, slot)
	assert.Equal(t, uint64(10), v)
	require.NoError(t, txnMgr.Commit(reader))

	//a snapshot opened after the commit sees the new version
	after, err := txnMgr.NewTxn("after")
	require.NoError(t, err)
	v, _ = fetchRow(after, table, slot)
	assert.Equal(t, uint64(100), v)
	require.NoError(t, txnMgr.Commit(after))
}

func Test_tableDeleteVisibility(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn0, err := txnMgr.NewTxn("txn0")
	require.NoError(t, err)
	slot := insertRow(txn0, table, 10)
	require.NoError(t, txnMgr.Commit(txn0))

	reader, err := txnMgr.NewTxn("reader")
	require.NoError(t, err)
	deleter, err := txnMgr.NewTxn("deleter")
	require.NoError(t, err)

	table.Delete(deleter, slot)
	_, live := fetchRow(deleter, table, slot)
	assert.False(t, live)
	assert.Equal(t, 0, table.ScanCount(deleter))

	//older snapshot still sees the row alive
	v, live := fetchRow(reader, table, slot)
	require.True(t, live)
	assert.Equal(t, uint64(10), v)
	assert.Equal(t, 1, table.ScanCount(reader))

	require.NoError(t, txnMgr.Commit(deleter))
	require.NoError(t, txnMgr.Commit(reader))
}

func Test_tableWriteWriteConflict(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn0, err := txnMgr.NewTxn("txn0")
	require.NoError(t, err)
	slot := insertRow(txn0, table, 10)
	require.NoError(t, txnMgr.Commit(txn0))

	txn1, err := txnMgr.NewTxn("txn1")
	require.NoError(t, err)
	txn2, err := txnMgr.NewTxn("txn2")
	require.NoError(t, err)

	updateRow(txn1, table, slot, 100)
	//second writer on the same slot trips the conflict check
	require.Panics(t, func() {
		updateRow(txn2, table, slot, 200)
	})
	require.Panics(t, func() {
		table.Delete(txn2, slot)
	})

	//same writer touching its own slot again is fine
	updateRow(txn1, table, slot, 300)
	v, _ := fetchRow(txn1, table, slot)
	assert.Equal(t, uint64(300), v)

	txnMgr.Rollback(txn2)
	require.NoError(t, txnMgr.Commit(txn1))
}

func Test_tableRollbackRestores(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn0, err := txnMgr.NewTxn("txn0")
	require.NoError(t, err)
	slot := insertRow(txn0, table, 10)
	require.NoError(t, txnMgr.Commit(txn0))

	txn1, err := txnMgr.NewTxn("txn1")
	require.NoError(t, err)
	updateRow(txn1, table, slot, 100)
	updateRow(txn1, table, slot, 200)
	table.Delete(txn1, slot)
	inserted := insertRow(txn1, table, 50)

	txnMgr.Rollback(txn1)

	after, err := txnMgr.NewTxn("after")
	require.NoError(t, err)
	//original image restored, tombstone undone, insert gone
	v, live := fetchRow(after, table, slot)
	require.True(t, live)
	assert.Equal(t, uint64(10), v)
	_, live = fetchRow(after, table, inserted)
	assert.False(t, live)
	assert.Equal(t, 1, table.ScanCount(after))
	require.NoError(t, txnMgr.Commit(after))
}
