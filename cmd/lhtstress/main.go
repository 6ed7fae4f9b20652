// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// lhtstress drives a linkedhash.Table from operation scripts and synthetic
// workloads. It is used to reproduce probing and ordering behavior outside
// of unit tests.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/linkedhash"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	capacity   int
	duplicates string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lhtstress",
	Short: "Exercise an insertion-ordered open-addressing table",
	Long: `lhtstress replays operation scripts against a linkedhash.Table and runs
collision-heavy workloads, reporting probe lengths and verifying that the
insertion order survives removals and draining.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay [script]",
	Short: "Replay table operations from a script",
	Long: `Executes one operation per line and prints one result line per operation.

Operations:
  put KEY VALUE   insert, printing "ok" or the error
  get KEY         print the value or "not found"
  del KEY         remove, printing the value or "not found"
  pop | pophead   remove the newest (oldest) entry, printing its value or "empty"
  iter MODE       shared cursor: restart, continue or reverse; prints "end" when done
  probe KEY       print the probe length or "not found"
  len             print the number of entries
  dump | rdump    print KEY=VALUE pairs in (reverse) insertion order
  clear           remove every entry

Blank lines and lines starting with # are ignored. With no script, operations
are read from standard input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run collision-heavy insert/remove/drain workloads",
	RunE:  runStress,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().IntVar(&capacity, "capacity", linkedhash.DefaultCapacity, "Number of table slots (should be prime)")
	rootCmd.PersistentFlags().StringVar(&duplicates, "duplicates", "shadow", "Duplicate key policy: shadow, reject or replace")

	stressCmd.Flags().StringVar(&stressConfig, "config", "", "YAML file listing workloads")
	stressCmd.Flags().IntVar(&stressKeys, "keys", 0, "Number of keys (default: capacity-1)")
	stressCmd.Flags().IntVar(&stressBuckets, "buckets", 0, "Force keys into this many primary slots (0: default hash)")
	stressCmd.Flags().IntVar(&stressDeleteEvery, "delete-every", 0, "Delete every Nth key before verifying")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(stressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseDuplicatePolicy maps the --duplicates flag to a policy.
func parseDuplicatePolicy(s string) (linkedhash.DuplicatePolicy, error) {
	for _, p := range []linkedhash.DuplicatePolicy{
		linkedhash.DuplicateShadow, linkedhash.DuplicateReject, linkedhash.DuplicateReplace,
	} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown duplicate policy %q", s)
}
