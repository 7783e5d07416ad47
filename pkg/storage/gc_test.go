package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_gcDeferredWhileSnapshotOpen(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn0, err := txnMgr.NewTxn("txn0")
	require.NoError(t, err)
	slot := insertRow(txn0, table, 10)
	require.NoError(t, txnMgr.Commit(txn0))

	//reader pins a snapshot older than the writer's commit
	reader, err := txnMgr.NewTxn("reader")
	require.NoError(t, err)
	writer, err := txnMgr.NewTxn("writer")
	require.NoError(t, err)
	updateRow(writer, table, slot, 100)
	require.NoError(t, txnMgr.Commit(writer))

	//writer's context survives: its before-image still serves the reader
	assert.Equal(t, 1, txnMgr._gc.Pending())
	v, live := fetchRow(reader, table, slot)
	require.True(t, live)
	assert.Equal(t, uint64(10), v)

	//reader finishing releases the horizon, next cycle reclaims
	require.NoError(t, txnMgr.Commit(reader))
	probe, err := txnMgr.NewTxn("probe")
	require.NoError(t, err)
	require.NoError(t, txnMgr.Commit(probe))
	assert.Equal(t, 0, txnMgr._gc.Pending())
	assert.GreaterOrEqual(t, txnMgr.CollectedCount(), uint64(2))
}

func Test_gcUnlinkTruncatesChain(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn0, err := txnMgr.NewTxn("txn0")
	require.NoError(t, err)
	slot := insertRow(txn0, table, 10)
	require.NoError(t, txnMgr.Commit(txn0))

	for i := 0; i < 5; i++ {
		txn, err := txnMgr.NewTxn("writer")
		require.NoError(t, err)
		updateRow(txn, table, slot, uint64(100*(i+1)))
		require.NoError(t, txnMgr.Commit(txn))
	}

	//no snapshot held anything back, so every chain is empty again
	ent := table.getEntry(slot)
	assert.Nil(t, ent._undoHead.Load())

	after, err := txnMgr.NewTxn("after")
	require.NoError(t, err)
	v, live := fetchRow(after, table, slot)
	require.True(t, live)
	assert.Equal(t, uint64(500), v)
	require.NoError(t, txnMgr.Commit(after))
}

func Test_gcAbortedTxnReclaimed(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	txn, err := txnMgr.NewTxn("txn1")
	require.NoError(t, err)
	insertRow(txn, table, 10)
	txnMgr.Rollback(txn)

	//rollback already unlinked; buffers free on the same cycle when
	//nothing else is active
	assert.Equal(t, 0, txnMgr._gc.Pending())
	assert.Equal(t, uint64(1), txnMgr.CollectedCount())
	assert.Equal(t, pool.FreeCount(), pool.LiveCount())
}

func Test_gcSegmentsRecycled(t *testing.T) {
	pool := NewRecordBufferSegmentPool(16)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()
	txnMgr := NewTxnMgr(pool, nil)

	for i := 0; i < 20; i++ {
		txn, err := txnMgr.NewTxn("writer")
		require.NoError(t, err)
		insertRow(txn, table, uint64(i))
		require.NoError(t, txnMgr.Commit(txn))
	}
	//all buffer memory went back through the pool
	assert.Equal(t, pool.FreeCount(), pool.LiveCount())
	assert.LessOrEqual(t, pool.LiveCount(), int64(16))
	assert.Equal(t, uint64(20), txnMgr.CollectedCount())
}
