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

package linkedhash

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkTableIter(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapIter))
	b.Run("impl=linkedhash", benchSizes(benchmarkTableIter))
}

func BenchmarkTableGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetHit))
	b.Run("impl=linkedhash", benchSizes(benchmarkTableGetHit))
}

func BenchmarkTableGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetMiss))
	b.Run("impl=linkedhash", benchSizes(benchmarkTableGetMiss))
}

func BenchmarkTablePutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutDelete))
	b.Run("impl=linkedhash", benchSizes(benchmarkTablePutDelete))
}

func BenchmarkTablePutPopTail(b *testing.B) {
	b.Run("impl=linkedhash", benchSizes(benchmarkTablePutPopTail))
}

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		// The largest size that fits in DefaultCapacity.
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func genKeys(start, end int) []string {
	keys := make([]string, end-start)
	for i := range keys {
		keys[i] = strconv.Itoa(start + i)
	}
	return keys
}

func newBenchTable(b *testing.B, keys []string) *Table[string] {
	t, err := New[string](DefaultCapacity)
	if err != nil {
		b.Fatal(err)
	}
	for _, k := range keys {
		if err := t.Put(k, k); err != nil {
			b.Fatal(err)
		}
	}
	return t
}

func benchmarkRuntimeMapIter(b *testing.B, n int) {
	m := make(map[string]string, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	var tmp int
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += len(k) + len(v)
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkTableIter(b *testing.B, n int) {
	t := newBenchTable(b, genKeys(0, n))
	b.ResetTimer()
	perfbench.Open(b)
	var tmp int
	for i := 0; i < b.N; i++ {
		t.All(func(k, v string) bool {
			tmp += len(k) + len(v)
			return true
		})
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int) {
	m := make(map[string]string, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}

	// Go's builtin map has an optimization to avoid string comparisons if
	// there is pointer equality. Defeat this optimization to get a better
	// apples-to-apples comparison.
	keys := genKeys(0, n)

	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[keys[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkTableGetHit(b *testing.B, n int) {
	t := newBenchTable(b, genKeys(0, n))
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = t.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int) {
	m := make(map[string]string, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	miss := genKeys(-n, 0)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[miss[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkTableGetMiss(b *testing.B, n int) {
	t := newBenchTable(b, genKeys(0, n))
	miss := genKeys(-n, 0)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = t.Get(miss[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutDelete(b *testing.B, n int) {
	m := make(map[string]string, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkTablePutDelete(b *testing.B, n int) {
	keys := genKeys(0, n)
	t := newBenchTable(b, keys)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		t.Delete(keys[j])
		if err := t.Put(keys[j], keys[j]); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkTablePutPopTail(b *testing.B, n int) {
	keys := genKeys(0, n)
	t := newBenchTable(b, nil)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		for _, k := range keys {
			if err := t.Put(k, k); err != nil {
				b.Fatal(err)
			}
		}
		for {
			if _, ok := t.PopTail(); !ok {
				break
			}
		}
	}
}
