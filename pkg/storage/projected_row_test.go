package storage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/mvcc/pkg/util"
)

func Test_initializerLayout(t *testing.T) {
	init := NewProjectedRowInitializer(
		[]ColIdType{3, 7, 9},
		[]uint32{8, 4, 16},
	)
	assert.Equal(t, 3, init.NumColumns())
	//header: size + numCols + 3 ids + 3 offsets
	header := uint32(8 + 4*3 + 4*3)
	assert.Equal(t, header+8+4+16, init.Size())
	assert.Equal(t, uint32(8), init.ColumnWidth(0))
	assert.Equal(t, uint32(4), init.ColumnWidth(1))
	assert.Equal(t, uint32(16), init.ColumnWidth(2))
}

func Test_initializerContract(t *testing.T) {
	require.Panics(t, func() {
		NewProjectedRowInitializer(nil, nil)
	})
	require.Panics(t, func() {
		NewProjectedRowInitializer([]ColIdType{1, 2}, []uint32{8})
	})
	require.Panics(t, func() {
		NewProjectedRowInitializer([]ColIdType{1}, []uint32{0})
	})
}

func Test_projectedRowReadWrite(t *testing.T) {
	init := NewProjectedRowInitializer(
		[]ColIdType{0, 1, 2},
		[]uint32{8, 8, 8},
	)
	mem := util.CMalloc(int(init.Size()))
	defer util.CFree(mem)
	row := init.InitializeRow(mem)

	require.True(t, row.IsValid())
	assert.Equal(t, init.Size(), row.Size())
	assert.Equal(t, 3, row.NumColumns())
	assert.Equal(t, []ColIdType{0, 1, 2}, row.ColumnIds())

	for i := 0; i < 3; i++ {
		require.Len(t, row.ColumnSlice(i), 8)
		binary.LittleEndian.PutUint64(row.ColumnSlice(i), uint64(100+i))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint64(100+i),
			binary.LittleEndian.Uint64(row.ColumnSlice(i)))
	}
}

func Test_projectedRowCopy(t *testing.T) {
	init := NewProjectedRowInitializer([]ColIdType{5, 6}, []uint32{8, 8})
	src := util.CMalloc(int(init.Size()))
	dst := util.CMalloc(int(init.Size()))
	defer util.CFree(src)
	defer util.CFree(dst)

	srcRow := init.InitializeRow(src)
	dstRow := init.InitializeRow(dst)
	binary.LittleEndian.PutUint64(srcRow.ColumnSlice(0), 42)
	binary.LittleEndian.PutUint64(srcRow.ColumnSlice(1), 43)

	dstRow.CopyFrom(srcRow)
	assert.Equal(t, uint64(42),
		binary.LittleEndian.Uint64(dstRow.ColumnSlice(0)))
	assert.Equal(t, uint64(43),
		binary.LittleEndian.Uint64(dstRow.ColumnSlice(1)))
	assert.Equal(t, srcRow.ColumnIds(), dstRow.ColumnIds())

	//shape mismatch is a contract breach
	other := NewProjectedRowInitializer([]ColIdType{5}, []uint32{8})
	mem := util.CMalloc(int(other.Size()))
	defer util.CFree(mem)
	otherRow := other.InitializeRow(mem)
	require.Panics(t, func() {
		otherRow.CopyFrom(srcRow)
	})
}
