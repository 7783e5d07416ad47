package storage

import (
	"unsafe"

	"github.com/daviszhen/mvcc/pkg/util"
)

type ColIdType uint32

const (
	projectedRowSizeOffset    = 0
	projectedRowNumColsOffset = 4
	projectedRowIdsOffset     = 8
)

// ProjectedRowInitializer describes the shape of a change: which columns
// it touches and how wide each is. It precomputes the exact byte
// footprint so callers can reserve before they initialize.
type ProjectedRowInitializer struct {
	_colIds  []ColIdType
	_widths  []uint32
	_offsets []uint32
	_size    uint32
}

func NewProjectedRowInitializer(colIds []ColIdType, widths []uint32) *ProjectedRowInitializer {
	util.AssertFunc(len(colIds) != 0 && len(colIds) == len(widths))
	n := len(colIds)
	// ids and offsets are 4 bytes each, so the payload start stays
	// 8-aligned for any column count
	header := uint32(projectedRowIdsOffset + 4*n + 4*n)
	offsets := make([]uint32, n)
	pos := header
	for i := 0; i < n; i++ {
		util.AssertFunc(widths[i] != 0)
		offsets[i] = pos
		pos += widths[i]
	}
	return &ProjectedRowInitializer{
		_colIds:  append([]ColIdType{}, colIds...),
		_widths:  append([]uint32{}, widths...),
		_offsets: offsets,
		_size:    pos,
	}
}

// Size is the exact byte footprint of one row in this shape.
func (init *ProjectedRowInitializer) Size() uint32 {
	return init._size
}

func (init *ProjectedRowInitializer) NumColumns() int {
	return len(init._colIds)
}

func (init *ProjectedRowInitializer) ColumnWidth(i int) uint32 {
	return init._widths[i]
}

// InitializeRow writes the row header into mem and returns the typed
// view. mem must hold at least Size() bytes.
func (init *ProjectedRowInitializer) InitializeRow(mem unsafe.Pointer) ProjectedRow {
	n := len(init._colIds)
	util.Store2[uint32](init._size, mem, projectedRowSizeOffset)
	util.Store2[uint32](uint32(n), mem, projectedRowNumColsOffset)
	ids := util.PointerToSlice[ColIdType](
		util.PointerAdd(mem, projectedRowIdsOffset), n)
	copy(ids, init._colIds)
	offsets := util.PointerToSlice[uint32](
		util.PointerAdd(mem, projectedRowIdsOffset+4*n), n)
	copy(offsets, init._offsets)
	return ProjectedRow{_ptr: mem}
}

// ProjectedRow is a typed view over raw record memory:
// [size u32][numCols u32][col ids][offsets][column values].
// It never owns the bytes it points at.
type ProjectedRow struct {
	_ptr unsafe.Pointer
}

func (row ProjectedRow) IsValid() bool {
	return util.PointerValid(row._ptr)
}

func (row ProjectedRow) Size() uint32 {
	return util.Load2[uint32](row._ptr, projectedRowSizeOffset)
}

func (row ProjectedRow) NumColumns() int {
	return int(util.Load2[uint32](row._ptr, projectedRowNumColsOffset))
}

func (row ProjectedRow) ColumnIds() []ColIdType {
	return util.PointerToSlice[ColIdType](
		util.PointerAdd(row._ptr, projectedRowIdsOffset), row.NumColumns())
}

func (row ProjectedRow) offsets() []uint32 {
	n := row.NumColumns()
	return util.PointerToSlice[uint32](
		util.PointerAdd(row._ptr, projectedRowIdsOffset+4*n), n)
}

// ColumnSlice is the writable byte range of the i-th projected column.
func (row ProjectedRow) ColumnSlice(i int) []byte {
	offsets := row.offsets()
	start := offsets[i]
	end := row.Size()
	if i+1 < len(offsets) {
		end = offsets[i+1]
	}
	return util.PointerToSlice[byte](
		util.PointerAdd(row._ptr, int(start)), int(end-start))
}

func (row ProjectedRow) payloadPointer() unsafe.Pointer {
	return util.PointerAdd(row._ptr, int(row.offsets()[0]))
}

func (row ProjectedRow) payloadSize() uint32 {
	return row.Size() - row.offsets()[0]
}

// CopyFrom copies another row of the same shape, header included.
func (row ProjectedRow) CopyFrom(src ProjectedRow) {
	util.AssertFunc(row.IsValid() && src.IsValid())
	util.AssertFunc(row.Size() == src.Size())
	util.PointerCopy(row._ptr, src._ptr, int(src.Size()))
}
