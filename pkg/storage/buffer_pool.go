package storage

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/daviszhen/mvcc/pkg/util"
)

// BufferSegment is one fixed-capacity chunk of C memory that record
// buffers bump-allocate from. Addresses handed out stay valid until the
// segment goes back to the pool.
type BufferSegment struct {
	_data unsafe.Pointer
	_end  uint32
}

func newBufferSegment() *BufferSegment {
	return &BufferSegment{
		_data: util.CMalloc(int(BUFFER_SEGMENT_SIZE)),
	}
}

func (seg *BufferSegment) HasBytesLeft(size uint32) bool {
	return seg._end+size <= BUFFER_SEGMENT_SIZE
}

func (seg *BufferSegment) Reserve(size uint32) unsafe.Pointer {
	util.AssertFunc(seg.HasBytesLeft(size))
	ptr := util.PointerAdd(seg._data, int(seg._end))
	seg._end += size
	return ptr
}

func (seg *BufferSegment) SpaceUsed() uint32 {
	return seg._end
}

func (seg *BufferSegment) Reset() {
	seg._end = 0
}

func (seg *BufferSegment) free() {
	util.CFree(seg._data)
	seg._data = nil
}

const poolShardCount = 8

type poolShard struct {
	_lock     sync.Mutex
	_segments []*BufferSegment
}

// RecordBufferSegmentPool recycles buffer segments system-wide. The free
// list is striped so concurrent transactions do not serialize behind one
// lock. Segments above the retention limit go back to the C heap.
type RecordBufferSegmentPool struct {
	_shards    [poolShardCount]poolShard
	_counter   atomic.Uint64
	_retention int64
	_freeCount atomic.Int64
	_liveCount atomic.Int64
}

func NewRecordBufferSegmentPool(retention int64) *RecordBufferSegmentPool {
	if retention <= 0 {
		retention = 64
	}
	return &RecordBufferSegmentPool{
		_retention: retention,
	}
}

func (pool *RecordBufferSegmentPool) Get() *BufferSegment {
	start := pool._counter.Add(1)
	for i := uint64(0); i < poolShardCount; i++ {
		shard := &pool._shards[(start+i)%poolShardCount]
		shard._lock.Lock()
		if len(shard._segments) != 0 {
			seg := util.Back(shard._segments)
			shard._segments = shard._segments[:len(shard._segments)-1]
			shard._lock.Unlock()
			pool._freeCount.Add(-1)
			return seg
		}
		shard._lock.Unlock()
	}
	pool._liveCount.Add(1)
	return newBufferSegment()
}

func (pool *RecordBufferSegmentPool) Put(seg *BufferSegment) {
	util.AssertFunc(seg != nil && util.PointerValid(seg._data))
	seg.Reset()
	if pool._freeCount.Load() >= pool._retention {
		seg.free()
		pool._liveCount.Add(-1)
		return
	}
	shard := &pool._shards[pool._counter.Add(1)%poolShardCount]
	shard._lock.Lock()
	shard._segments = append(shard._segments, seg)
	shard._lock.Unlock()
	pool._freeCount.Add(1)
}

// Close frees every segment sitting on the free list. Segments still
// owned by live record buffers are the owners' to return first.
func (pool *RecordBufferSegmentPool) Close() {
	freed := 0
	for i := range pool._shards {
		shard := &pool._shards[i]
		shard._lock.Lock()
		for _, seg := range shard._segments {
			seg.free()
			freed++
		}
		shard._segments = nil
		shard._lock.Unlock()
	}
	pool._freeCount.Add(int64(-freed))
	pool._liveCount.Add(int64(-freed))
	util.Debug("segment pool closed",
		zap.Int("freed", freed),
		zap.Int64("outstanding", pool._liveCount.Load()))
}

// FreeCount is the number of recycled segments currently pooled.
func (pool *RecordBufferSegmentPool) FreeCount() int64 {
	return pool._freeCount.Load()
}

// LiveCount is the number of segments allocated and not yet freed.
func (pool *RecordBufferSegmentPool) LiveCount() int64 {
	return pool._liveCount.Load()
}
