package storage

import (
	"sync"
	"sync/atomic"

	treemap "github.com/liyue201/gostl/ds/map"
	"go.uber.org/zap"

	"github.com/daviszhen/mvcc/pkg/util"
)

// GarbageCollector reclaims finished transaction contexts in two phases.
// Phase one unlinks a committed transaction's versions once its commit
// timestamp drops below every active snapshot. Phase two frees the
// context's buffers once every transaction that was active at unlink
// time has finished, so no walker can still hold a pointer into them.
type GarbageCollector struct {
	_lock      sync.Mutex
	_committed *treemap.Map[TxnType, *Txn]
	_unlinked  []*Txn
	_collected atomic.Uint64
}

func NewGarbageCollector() *GarbageCollector {
	cmp := func(a, b TxnType) int {
		if a < b {
			return -1
		} else if a > b {
			return 1
		}
		return 0
	}
	return &GarbageCollector{
		_committed: treemap.New[TxnType, *Txn](cmp),
	}
}

// AddCommitted queues a committed transaction for unlinking, ordered by
// commit timestamp.
func (gc *GarbageCollector) AddCommitted(txn *Txn) {
	gc._lock.Lock()
	defer gc._lock.Unlock()
	gc._committed.Insert(txn._commitId, txn)
}

// AddUnlinked queues a transaction whose versions are already detached.
// watermark is the highest txn id issued so far; the buffers stay alive
// until every id at or below it has finished.
func (gc *GarbageCollector) AddUnlinked(txn *Txn, watermark TxnType) {
	gc._lock.Lock()
	defer gc._lock.Unlock()
	txn._watermark = watermark
	gc._unlinked = append(gc._unlinked, txn)
}

// Process runs both phases against the current horizon and returns how
// many contexts were freed.
func (gc *GarbageCollector) Process(
	lowestActiveStart TxnType,
	lowestActiveId TxnType,
	curTxnId TxnType,
) int {
	gc._lock.Lock()
	defer gc._lock.Unlock()

	var expired []*Txn
	for iter := gc._committed.Begin(); iter.IsValid(); iter.Next() {
		if iter.Key() >= lowestActiveStart {
			break
		}
		expired = append(expired, iter.Value())
	}
	for _, txn := range expired {
		gc._committed.Erase(txn._commitId)
		txn.unlinkVersions()
		txn._watermark = curTxnId
		gc._unlinked = append(gc._unlinked, txn)
	}

	freed := 0
	gc._unlinked = util.RemoveIf(gc._unlinked, func(txn *Txn) bool {
		if lowestActiveId > txn._watermark {
			txn.cleanup()
			freed++
			return true
		}
		return false
	})
	if freed != 0 {
		gc._collected.Add(uint64(freed))
		util.Debug("gc freed txn contexts",
			zap.Int("freed", freed),
			zap.Int("pendingUnlink", gc._committed.Size()),
			zap.Int("pendingFree", len(gc._unlinked)))
	}
	return freed
}

// Collected is the total number of contexts freed so far.
func (gc *GarbageCollector) Collected() uint64 {
	return gc._collected.Load()
}

// Pending reports contexts still waiting in either phase.
func (gc *GarbageCollector) Pending() int {
	gc._lock.Lock()
	defer gc._lock.Unlock()
	return gc._committed.Size() + len(gc._unlinked)
}
