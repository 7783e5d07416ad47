package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/daviszhen/mvcc/pkg/util"
)

// Txn is one transaction's context: an immutable start time, an identity
// that flips from uncommitted id to commit timestamp exactly once, and
// the private undo and redo buffers every write of the transaction goes
// through. One worker owns a context; only the identity is read by
// other threads, and only through the atomic.
type Txn struct {
	_name       string
	_txnMgr     *TxnMgr
	_startTime  TxnType
	_id         atomic.Uint64
	_commitId   TxnType
	_undoBuffer UndoBuffer
	_redoBuffer RedoBuffer
	// reclamation bookkeeping, owned by the garbage collector
	_watermark TxnType
}

func newTxn(
	mgr *TxnMgr,
	name string,
	start TxnType,
	id TxnType,
	pool *RecordBufferSegmentPool,
	wal *WriteAheadLog,
) *Txn {
	util.AssertFunc(id.Uncommitted())
	txn := &Txn{
		_name:       name,
		_txnMgr:     mgr,
		_startTime:  start,
		_undoBuffer: NewUndoBuffer(pool),
		_redoBuffer: NewRedoBuffer(wal, pool),
	}
	txn._id.Store(uint64(id))
	return txn
}

func (txn *Txn) String() string {
	return fmt.Sprintf("[%s %d : %d %d]",
		txn._name, txn.Id(), txn._startTime, txn._commitId)
}

// StartTime never changes after construction.
func (txn *Txn) StartTime() TxnType {
	return txn._startTime
}

// Id is safe to call from any thread. Before commit it returns the
// uncommitted-tagged transaction id; after commit, the commit timestamp.
// A stale read only defers visibility, never corrupts it.
func (txn *Txn) Id() TxnType {
	return TxnType(txn._id.Load())
}

func (txn *Txn) Changed() bool {
	return !txn._undoBuffer.Empty() || !txn._redoBuffer.Empty()
}

// UndoRecordForUpdate reserves and initializes an update undo record
// stamped with the current identity. The caller copies the slot's
// current image into its Row before overwriting the slot.
func (txn *Txn) UndoRecordForUpdate(
	table *DataTable,
	slot TupleSlot,
	init *ProjectedRowInitializer,
) *UndoRecord {
	size := UndoRecordSizeForUpdate(init)
	return initializeUndoUpdate(
		txn._undoBuffer.NewEntry(size), txn.Id(), slot, table, init)
}

// UndoRecordForInsert reserves the fixed-footprint record that hides a
// freshly inserted slot from other snapshots until commit.
func (txn *Txn) UndoRecordForInsert(table *DataTable, slot TupleSlot) *UndoRecord {
	return initializeUndoInsert(
		txn._undoBuffer.NewEntry(UndoRecordSize()), txn.Id(), slot, table)
}

func (txn *Txn) UndoRecordForDelete(table *DataTable, slot TupleSlot) *UndoRecord {
	return initializeUndoDelete(
		txn._undoBuffer.NewEntry(UndoRecordSize()), txn.Id(), slot, table)
}

// StageWrite reserves a redo record stamped with the immutable start
// time and returns it so the caller writes the new column values
// directly into its Row. The record reaches the log sink at commit, in
// reservation order.
func (txn *Txn) StageWrite(
	table *DataTable,
	slot TupleSlot,
	init *ProjectedRowInitializer,
) *RedoRecord {
	size := RedoRecordSize(init)
	return initializeRedoRecord(
		txn._redoBuffer.NewEntry(size), txn._startTime, table, slot, init)
}

// commit hands staged redo records to the log sink, performs the one
// atomic identity exchange, and restamps the undo chain with the commit
// timestamp. Reserved to the transaction manager.
func (txn *Txn) commit(commitId TxnType) error {
	txn._commitId = commitId

	action := util.Check(util.FAULTS_SCOPE_TXN, "return_err_before_log_commit")
	if action != nil {
		if err := action.Action(action.Args); err != nil {
			return err
		}
	}

	if err := txn._redoBuffer.FlushToLog(); err != nil {
		return err
	}
	if txn._redoBuffer.LoggingEnabled() {
		if err := txn._redoBuffer._log.WriteCommit(commitId); err != nil {
			return err
		}
		if err := txn._redoBuffer._log.Flush(); err != nil {
			return err
		}
	}

	old := TxnType(txn._id.Swap(uint64(commitId)))
	util.AssertFunc(old.Uncommitted())

	txn._undoBuffer.ForwardScan(func(rec *UndoRecord) {
		rec.setTimestamp(commitId)
	})
	return nil
}

// rollback restores before-images most-recent-first. Only the owning
// thread walks its own undo chain; nothing is interrupted from outside.
func (txn *Txn) rollback() {
	txn._undoBuffer.ReverseScan(func(rec *UndoRecord) {
		rec.Table().applyUndo(rec)
	})
}

// unlinkVersions detaches this transaction's records from every slot
// chain they sit on. Reserved to the garbage collector.
func (txn *Txn) unlinkVersions() {
	txn._undoBuffer.ForwardScan(func(rec *UndoRecord) {
		rec.Table().unlinkVersion(rec)
	})
}

// cleanup returns both buffers' segments to the shared pool. After this
// the context is dead and every record pointer into it is invalid.
func (txn *Txn) cleanup() {
	txn._undoBuffer.close()
	txn._redoBuffer.close()
}

// TxnMgr sequences begin, commit, and abort, and issues timestamps and
// ids from one shared counter space. It is the only role allowed to
// mutate a context's identity.
type TxnMgr struct {
	_curStartTs        TxnType
	_curTxnId          TxnType
	_lowestActiveId    TxnType
	_lowestActiveStart TxnType
	_activeTxns        []*Txn
	_pool              *RecordBufferSegmentPool
	_wal               *WriteAheadLog
	_gc                *GarbageCollector
	_lock              sync.Locker
}

// NewTxnMgr wires the manager against the shared segment pool and an
// optional log sink. wal == nil disables durable logging entirely.
func NewTxnMgr(pool *RecordBufferSegmentPool, wal *WriteAheadLog) *TxnMgr {
	return &TxnMgr{
		_curStartTs:        2,
		_curTxnId:          TxnIdStart,
		_lowestActiveId:    TxnIdStart,
		_lowestActiveStart: MaxTxnId,
		_pool:              pool,
		_wal:               wal,
		_gc:                NewGarbageCollector(),
		_lock:              util.NewReentryLock(),
	}
}

func (txnMgr *TxnMgr) NewTxn(name string) (*Txn, error) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	if txnMgr._curStartTs >= TxnIdStart {
		return nil, fmt.Errorf("invalid txn id")
	}
	startTime := txnMgr._curStartTs
	txnMgr._curStartTs++
	txnId := txnMgr._curTxnId
	txnMgr._curTxnId++
	if len(txnMgr._activeTxns) == 0 {
		txnMgr._lowestActiveId = txnId
		txnMgr._lowestActiveStart = startTime
	}
	txn := newTxn(txnMgr, name, startTime, txnId, txnMgr._pool, txnMgr._wal)
	txnMgr._activeTxns = append(txnMgr._activeTxns, txn)
	return txn, nil
}

// NewTxn2 constructs a context with explicit id and start time.
func (txnMgr *TxnMgr) NewTxn2(name string, id, start TxnType) (*Txn, error) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	if txnMgr._curStartTs >= TxnIdStart {
		return nil, fmt.Errorf("invalid txn id")
	}
	txn := newTxn(txnMgr, name, start, id, txnMgr._pool, txnMgr._wal)
	txnMgr._activeTxns = append(txnMgr._activeTxns, txn)
	return txn, nil
}

func (txnMgr *TxnMgr) Commit(txn *Txn) error {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()

	commitId := txnMgr._curStartTs
	txnMgr._curStartTs++
	err := txn.commit(commitId)
	if err != nil {
		txn._commitId = NoneTxn
		txn.rollback()
	}
	txnMgr.removeUnsafe(txn)
	return err
}

func (txnMgr *TxnMgr) Rollback(txn *Txn) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	txn.rollback()
	txnMgr.removeUnsafe(txn)
}

func (txnMgr *TxnMgr) removeUnsafe(txn *Txn) {
	lStartTime := TxnIdStart
	lTxnId := MaxTxnId
	for _, act := range txnMgr._activeTxns {
		if act == txn {
			continue
		}
		lStartTime = min(lStartTime, act._startTime)
		lTxnId = min(lTxnId, act.Id())
	}
	txnMgr._lowestActiveStart = lStartTime
	txnMgr._lowestActiveId = lTxnId
	txnMgr._activeTxns = util.RemoveIf(txnMgr._activeTxns, func(t *Txn) bool {
		return t == txn
	})

	if txn._commitId != NoneTxn {
		txnMgr._gc.AddCommitted(txn)
	} else {
		// aborted: rollback already unlinked its records; free once
		// every transaction active right now has finished
		txnMgr._gc.AddUnlinked(txn, txnMgr._curTxnId)
	}
	txnMgr._gc.Process(
		txnMgr._lowestActiveStart, txnMgr._lowestActiveId, txnMgr._curTxnId)
}

// Lowest returns the lowest active txn id and start time, the horizon
// the reclaimer works against.
func (txnMgr *TxnMgr) Lowest() (TxnType, TxnType) {
	txnMgr._lock.Lock()
	defer txnMgr._lock.Unlock()
	return txnMgr._lowestActiveId, txnMgr._lowestActiveStart
}

// CollectedCount is the number of transaction contexts reclaimed so far.
func (txnMgr *TxnMgr) CollectedCount() uint64 {
	return txnMgr._gc.Collected()
}
