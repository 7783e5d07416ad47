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

package util

import (
	"github.com/BurntSushi/toml"
)

type PoolOptions struct {
	// segments kept on the free list before releases fall through to free
	SegmentRetention int64 `toml:"segmentRetention"`
}

type WalOptions struct {
	Enable bool   `toml:"enable"`
	Path   string `toml:"path"`
}

type BenchOptions struct {
	Workers       int  `toml:"workers"`
	TxnsPerWorker int  `toml:"txnsPerWorker"`
	RowsPerTxn    int  `toml:"rowsPerTxn"`
	AbortEvery    int  `toml:"abortEvery"`
	Verbose       bool `toml:"verbose"`
}

type Config struct {
	Pool  PoolOptions  `toml:"pool"`
	Wal   WalOptions   `toml:"wal"`
	Bench BenchOptions `toml:"bench"`
}

func DefaultConfig() *Config {
	return &Config{
		Pool: PoolOptions{
			SegmentRetention: 64,
		},
		Bench: BenchOptions{
			Workers:       4,
			TxnsPerWorker: 64,
			RowsPerTxn:    16,
			AbortEvery:    8,
		},
	}
}

func LoadConfig(fpath string) (*Config, error) {
	cfg := DefaultConfig()
	_, err := toml.DecodeFile(fpath, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
