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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.uber.org/zap"

	"github.com/daviszhen/mvcc/pkg/bench"
	"github.com/daviszhen/mvcc/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
}

var benchCfg = util.DefaultConfig()

///root cmd

var info = "mvcc bench"
var RootCmd = &cobra.Command{
	Use:          "bench",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use bench --help or -h")
	},
}

//run cmd

var runInfo = "run concurrent txn workload"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCfg()
		return bench.Run(benchCfg)
	},
}

func initRunCfg() {
	benchCfg.Pool.SegmentRetention = viper.GetInt64("pool.segmentRetention")
	benchCfg.Wal.Enable = viper.GetBool("wal.enable")
	benchCfg.Wal.Path = viper.GetString("wal.path")
	benchCfg.Bench.Workers = viper.GetInt("bench.workers")
	benchCfg.Bench.TxnsPerWorker = viper.GetInt("bench.txnsPerWorker")
	benchCfg.Bench.RowsPerTxn = viper.GetInt("bench.rowsPerTxn")
	benchCfg.Bench.AbortEvery = viper.GetInt("bench.abortEvery")
	benchCfg.Bench.Verbose = viper.GetBool("bench.verbose")
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().Int64Var(&benchCfg.Pool.SegmentRetention, "segment_retention", 64, "segments kept on the pool free list")
	runCmd.Flags().BoolVar(&benchCfg.Wal.Enable, "wal", false, "write redo records to the wal")
	runCmd.Flags().StringVar(&benchCfg.Wal.Path, "wal_path", "bench.wal", "wal file path")
	runCmd.Flags().IntVar(&benchCfg.Bench.Workers, "workers", 4, "concurrent workers")
	runCmd.Flags().IntVar(&benchCfg.Bench.TxnsPerWorker, "txns_per_worker", 64, "txns per worker")
	runCmd.Flags().IntVar(&benchCfg.Bench.RowsPerTxn, "rows_per_txn", 16, "rows updated per txn")
	runCmd.Flags().IntVar(&benchCfg.Bench.AbortEvery, "abort_every", 8, "rollback every n-th txn. 0 disables")
	runCmd.Flags().BoolVar(&benchCfg.Bench.Verbose, "verbose", false, "log every commit")

	viper.BindPFlag("pool.segmentRetention", runCmd.Flags().Lookup("segment_retention"))
	viper.BindPFlag("wal.enable", runCmd.Flags().Lookup("wal"))
	viper.BindPFlag("wal.path", runCmd.Flags().Lookup("wal_path"))
	viper.BindPFlag("bench.workers", runCmd.Flags().Lookup("workers"))
	viper.BindPFlag("bench.txnsPerWorker", runCmd.Flags().Lookup("txns_per_worker"))
	viper.BindPFlag("bench.rowsPerTxn", runCmd.Flags().Lookup("rows_per_txn"))
	viper.BindPFlag("bench.abortEvery", runCmd.Flags().Lookup("abort_every"))
	viper.BindPFlag("bench.verbose", runCmd.Flags().Lookup("verbose"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "bench.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			return
		}
	}
	//flags and defaults carry the run when bench.toml is absent
	util.Warn("bench.toml does not exist. using defaults")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
