// Copyright 2024-2025 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bench

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/mvcc/pkg/storage"
	"github.com/daviszhen/mvcc/pkg/util"
)

const benchColCount = 3

// Run drives concurrent transactions against one table: every worker
// owns a disjoint slot range, so aborts come from the abortEvery knob
// rather than from write-write conflicts.
func Run(cfg *util.Config) error {
	pool := storage.NewRecordBufferSegmentPool(cfg.Pool.SegmentRetention)
	defer pool.Close()

	var wal *storage.WriteAheadLog
	var err error
	if cfg.Wal.Enable {
		wal, err = storage.NewWriteAheadLog(cfg.Wal.Path)
		if err != nil {
			return err
		}
		defer wal.Close()
	}
	txnMgr := storage.NewTxnMgr(pool, wal)

	colIds := make([]storage.ColIdType, benchColCount)
	widths := make([]uint32, benchColCount)
	for i := range colIds {
		colIds[i] = storage.ColIdType(i)
		widths[i] = 8
	}
	table := storage.NewDataTable(1, "bench", "txns", colIds, widths)
	defer table.Close()

	workers := cfg.Bench.Workers
	rowsPerTxn := cfg.Bench.RowsPerTxn
	slots, err := seedRows(txnMgr, table, workers*rowsPerTxn)
	if err != nil {
		return err
	}

	var commits, aborts atomic.Int64
	start := time.Now()
	wg := errgroup.Group{}
	for i := 0; i < workers; i++ {
		wg.Go(func() (retErr error) {
			defer func() {
				if xre := recover(); xre != nil {
					retErr = util.ConvertPanicError(xre)
				}
			}()
			base := i * rowsPerTxn
			for j := 0; j < cfg.Bench.TxnsPerWorker; j++ {
				txn, err := txnMgr.NewTxn(fmt.Sprintf("w%d-%d", i, j))
				if err != nil {
					return err
				}
				for k := 0; k < rowsPerTxn; k++ {
					redo := txn.StageWrite(table, slots[base+k], table.Layout())
					fillRow(redo.Row(), uint64(i*1000000+j*1000+k))
					table.Update(txn, slots[base+k], redo)
				}
				if cfg.Bench.AbortEvery > 0 && (j+1)%cfg.Bench.AbortEvery == 0 {
					txnMgr.Rollback(txn)
					aborts.Add(1)
					continue
				}
				if err = txnMgr.Commit(txn); err != nil {
					return err
				}
				commits.Add(1)
				if cfg.Bench.Verbose {
					util.Debug("txn committed",
						zap.String("txn", txn.String()))
				}
			}
			return
		})
	}
	if err = wg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	probe, err := txnMgr.NewTxn("probe")
	if err != nil {
		return err
	}
	rows := table.ScanCount(probe)
	if err = txnMgr.Commit(probe); err != nil {
		return err
	}

	util.Info("bench done",
		zap.Int("workers", workers),
		zap.Int64("commits", commits.Load()),
		zap.Int64("aborts", aborts.Load()),
		zap.Int("rows", rows),
		zap.Uint64("collectedTxns", txnMgr.CollectedCount()),
		zap.Int64("pooledSegments", pool.FreeCount()),
		zap.Int64("liveSegments", pool.LiveCount()),
		zap.Duration("elapsed", elapsed))
	if wal != nil {
		util.Info("wal written",
			zap.String("path", cfg.Wal.Path),
			zap.Int64("size", wal.GetWalSize()))
	}
	return nil
}

func seedRows(
	txnMgr *storage.TxnMgr,
	table *storage.DataTable,
	count int,
) ([]storage.TupleSlot, error) {
	txn, err := txnMgr.NewTxn("seed")
	if err != nil {
		return nil, err
	}
	slots := make([]storage.TupleSlot, count)
	for i := range slots {
		slots[i] = table.AllocateSlot()
		redo := txn.StageWrite(table, slots[i], table.Layout())
		fillRow(redo.Row(), uint64(i))
		table.Insert(txn, slots[i], redo)
	}
	if err = txnMgr.Commit(txn); err != nil {
		return nil, err
	}
	return slots, nil
}

func fillRow(row storage.ProjectedRow, base uint64) {
	for i := 0; i < row.NumColumns(); i++ {
		binary.LittleEndian.PutUint64(row.ColumnSlice(i), base+uint64(i))
	}
}
