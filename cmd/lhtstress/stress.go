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

package main

import (
	"fmt"
	"hash/fnv"
	"os"

	"github.com/cockroachdb/linkedhash"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	stressConfig      string
	stressKeys        int
	stressBuckets     int
	stressDeleteEvery int
)

// workload describes one stress run. Zero fields take their defaults from
// the command line flags.
type workload struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
	// Keys defaults to Capacity-1.
	Keys int `yaml:"keys"`
	// Buckets, if non-zero, replaces the primary hash with one that maps
	// every key to one of Buckets slots.
	Buckets int `yaml:"buckets"`
	// DeleteEvery, if non-zero, deletes every Nth key before verification.
	DeleteEvery int `yaml:"delete_every"`
}

type workloadFile struct {
	Workloads []workload `yaml:"workloads"`
}

type stressResult struct {
	name      string
	capacity  int
	keys      int
	deleted   int
	maxProbe  int
	meanProbe float64
}

func (r stressResult) String() string {
	return fmt.Sprintf("%s: capacity=%d keys=%d deleted=%d max-probe=%d mean-probe=%.2f",
		r.name, r.capacity, r.keys, r.deleted, r.maxProbe, r.meanProbe)
}

func runStress(cmd *cobra.Command, args []string) error {
	workloads := []workload{{
		Name:        "flags",
		Capacity:    capacity,
		Keys:        stressKeys,
		Buckets:     stressBuckets,
		DeleteEvery: stressDeleteEvery,
	}}
	if stressConfig != "" {
		var err error
		if workloads, err = loadWorkloads(stressConfig); err != nil {
			return err
		}
	}

	for i := range workloads {
		w := workloads[i].withDefaults(i)
		logger.Info("Running workload",
			zap.String("name", w.Name),
			zap.Int("capacity", w.Capacity),
			zap.Int("keys", w.Keys),
			zap.Int("buckets", w.Buckets))

		res, err := runWorkload(w)
		if err != nil {
			return fmt.Errorf("workload %s: %w", w.Name, err)
		}
		logger.Debug("Workload complete",
			zap.String("name", w.Name),
			zap.Int("max_probe", res.maxProbe),
			zap.Float64("mean_probe", res.meanProbe))
		fmt.Fprintln(cmd.OutOrStdout(), res)
	}
	return nil
}

func loadWorkloads(path string) ([]workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workloads: %w", err)
	}
	var f workloadFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(f.Workloads) == 0 {
		return nil, fmt.Errorf("%s: no workloads", path)
	}
	return f.Workloads, nil
}

func (w workload) withDefaults(i int) workload {
	if w.Name == "" {
		w.Name = fmt.Sprintf("workload-%d", i)
	}
	if w.Capacity == 0 {
		w.Capacity = capacity
	}
	if w.Keys == 0 {
		w.Keys = w.Capacity - 1
	}
	return w
}

// bucketHash returns a primary hash that sends every key to one of n slots.
func bucketHash(n int) linkedhash.HashFunc {
	return func(key string, _ uint64) uint64 {
		h := fnv.New64a()
		h.Write([]byte(key))
		return h.Sum64() % uint64(n)
	}
}

func stressKey(i int) string {
	return fmt.Sprintf("key-%06d", i)
}

// runWorkload inserts the workload's keys, optionally deletes some of them,
// verifies every lookup and the insertion order, and finally drains the
// table with PopTail.
func runWorkload(w workload) (stressResult, error) {
	res := stressResult{name: w.Name, capacity: w.Capacity, keys: w.Keys}

	hash := linkedhash.WithHash[int](nil, nil)
	if w.Buckets > 0 {
		hash = linkedhash.WithHash[int](bucketHash(w.Buckets), nil)
	}
	tbl, err := linkedhash.New[int](w.Capacity, hash)
	if err != nil {
		return res, err
	}
	defer tbl.Close()

	for i := 0; i < w.Keys; i++ {
		if err := tbl.Put(stressKey(i), i); err != nil {
			return res, fmt.Errorf("inserting key %d: %w", i, err)
		}
	}

	deleted := func(i int) bool {
		return w.DeleteEvery > 0 && i%w.DeleteEvery == 0
	}
	for i := 0; i < w.Keys; i++ {
		if !deleted(i) {
			continue
		}
		v, ok := tbl.Delete(stressKey(i))
		if !ok || v != i {
			return res, fmt.Errorf("delete %s: got %d, %t", stressKey(i), v, ok)
		}
		res.deleted++
	}

	var totalProbes int
	for i := 0; i < w.Keys; i++ {
		k := stressKey(i)
		v, ok := tbl.Get(k)
		if deleted(i) {
			if ok {
				return res, fmt.Errorf("get %s: found deleted key", k)
			}
			continue
		}
		if !ok || v != i {
			return res, fmt.Errorf("get %s: got %d, %t", k, v, ok)
		}
		n, _ := tbl.ProbeLength(k)
		if n > w.Capacity {
			return res, fmt.Errorf("probe %s: %d probes exceeds capacity %d", k, n, w.Capacity)
		}
		totalProbes += n
		if n > res.maxProbe {
			res.maxProbe = n
		}
	}
	live := w.Keys - res.deleted
	if tbl.Len() != live {
		return res, fmt.Errorf("len: got %d, expected %d", tbl.Len(), live)
	}
	if live > 0 {
		res.meanProbe = float64(totalProbes) / float64(live)
	}

	// The insertion order is the order of the values.
	c := tbl.Cursor()
	prev, n := -1, 0
	for ok := c.First(); ok; ok = c.Next() {
		if c.Value() <= prev {
			return res, fmt.Errorf("order: %d after %d", c.Value(), prev)
		}
		prev = c.Value()
		n++
	}
	if n != live {
		return res, fmt.Errorf("order: visited %d of %d entries", n, live)
	}

	// Draining visits the entries in reverse order.
	prev, n = w.Keys, 0
	for {
		v, ok := tbl.PopTail()
		if !ok {
			break
		}
		if v >= prev {
			return res, fmt.Errorf("drain: %d after %d", v, prev)
		}
		prev = v
		n++
	}
	if n != live || tbl.Len() != 0 {
		return res, fmt.Errorf("drain: popped %d of %d entries, %d left", n, live, tbl.Len())
	}
	return res, nil
}
