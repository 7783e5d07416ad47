package storage

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_walCommitRoundTrip(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()

	walPath := filepath.Join(t.TempDir(), "test.wal")
	wal, err := NewWriteAheadLog(walPath)
	require.NoError(t, err)
	txnMgr := NewTxnMgr(pool, wal)

	txn, err := txnMgr.NewTxn("txn1")
	require.NoError(t, err)
	slot1 := insertRow(txn, table, 10)
	slot2 := insertRow(txn, table, 20)
	require.NoError(t, txnMgr.Commit(txn))
	commitId := txn.Id()
	require.Greater(t, wal.GetWalSize(), int64(0))
	require.NoError(t, wal.Close())

	var redos []ReplayEntry
	var commits []TxnType
	err = ReplayWal(walPath,
		func(ent ReplayEntry) error {
			redos = append(redos, ent)
			return nil
		},
		func(ts TxnType) error {
			commits = append(commits, ts)
			return nil
		})
	require.NoError(t, err)

	//records come back in reservation order, sealed by the commit marker
	require.Len(t, redos, 2)
	require.Len(t, commits, 1)
	assert.Equal(t, commitId, commits[0])
	assert.Equal(t, slot1, redos[0].Slot)
	assert.Equal(t, slot2, redos[1].Slot)
	for _, ent := range redos {
		assert.Equal(t, txn.StartTime(), ent.StartTime)
		assert.Equal(t, table.Oid(), ent.Oid)
		assert.Equal(t, []ColIdType{0, 1, 2}, ent.ColIds)
		require.Len(t, ent.Payload, 24)
	}
	assert.Equal(t, uint64(10), binary.LittleEndian.Uint64(redos[0].Payload[:8]))
	assert.Equal(t, uint64(20), binary.LittleEndian.Uint64(redos[1].Payload[:8]))
}

func Test_walRollbackWritesNothing(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()

	walPath := filepath.Join(t.TempDir(), "test.wal")
	wal, err := NewWriteAheadLog(walPath)
	require.NoError(t, err)
	txnMgr := NewTxnMgr(pool, wal)

	txn, err := txnMgr.NewTxn("txn1")
	require.NoError(t, err)
	insertRow(txn, table, 10)
	txnMgr.Rollback(txn)
	require.NoError(t, wal.Close())

	//staged records of an aborted transaction never reach the log
	err = ReplayWal(walPath,
		func(ReplayEntry) error {
			t.Fatal("unexpected redo record")
			return nil
		},
		func(TxnType) error {
			t.Fatal("unexpected commit marker")
			return nil
		})
	require.NoError(t, err)
}

func Test_walMultipleTxns(t *testing.T) {
	pool := NewRecordBufferSegmentPool(8)
	defer pool.Close()
	table := newTestTable()
	defer table.Close()

	walPath := filepath.Join(t.TempDir(), "test.wal")
	wal, err := NewWriteAheadLog(walPath)
	require.NoError(t, err)
	txnMgr := NewTxnMgr(pool, wal)

	const txnCount = 3
	var commitIds []TxnType
	for i := 0; i < txnCount; i++ {
		txn, err := txnMgr.NewTxn("writer")
		require.NoError(t, err)
		insertRow(txn, table, uint64(i))
		require.NoError(t, txnMgr.Commit(txn))
		commitIds = append(commitIds, txn.Id())
	}
	require.NoError(t, wal.Close())

	var commits []TxnType
	err = ReplayWal(walPath, nil, func(ts TxnType) error {
		commits = append(commits, ts)
		return nil
	})
	require.NoError(t, err)
	//commit markers appear in commit order
	assert.Equal(t, commitIds, commits)
}
