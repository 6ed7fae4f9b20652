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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/linkedhash"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger = zap.NewNop()
	goleak.VerifyTestMain(m)
}

func replayString(t *testing.T, tbl *linkedhash.Table[string], script string) ([]string, error) {
	t.Helper()
	var out bytes.Buffer
	_, err := replay(strings.NewReader(script), &out, tbl)
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n"), err
}

func newStringTable(t *testing.T, capacity int) *linkedhash.Table[string] {
	t.Helper()
	tbl, err := linkedhash.New[string](capacity)
	require.NoError(t, err)
	return tbl
}

func TestReplay(t *testing.T) {
	const script = `
# The insert/iterate/remove/drain walkthrough.
put A 1
put B 2
put C 3
get B
iter restart
iter continue
iter continue
iter continue
del B
get B
len
dump
rdump
probe A
pop
pop
pop
len
dump
`
	out, err := replayString(t, newStringTable(t, 17), script)
	require.NoError(t, err)
	require.Equal(t, []string{
		"ok", "ok", "ok",
		"2",
		"1", "2", "3", "end",
		"2", "not found",
		"2",
		"A=1 C=3",
		"C=3 A=1",
		"1",
		"3", "1", "empty",
		"0",
		"(empty)",
	}, out)
}

func TestReplayReverseAndClear(t *testing.T) {
	const script = `
put a x
put b y
iter reverse
iter continue
iter continue
pophead
clear
len
pophead
`
	out, err := replayString(t, newStringTable(t, 17), script)
	require.NoError(t, err)
	require.Equal(t, []string{"ok", "ok", "y", "x", "end", "x", "ok", "0", "empty"}, out)
}

func TestReplayTableFull(t *testing.T) {
	out, err := replayString(t, newStringTable(t, 2), "put a 1\nput b 2\nput c 3\nprobe c\n")
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, []string{"ok", "ok"}, out[:2])
	require.True(t, strings.HasPrefix(out[2], "error: "), out[2])
	require.Contains(t, out[2], linkedhash.ErrTableFull.Error())
	require.Equal(t, "not found", out[3])
}

func TestReplayErrors(t *testing.T) {
	testCases := []struct {
		script string
		err    string
	}{
		{"frobnicate", `line 1: unknown operation "frobnicate"`},
		{"\n\nput a", "line 3: put: expected 2 arguments, got 1"},
		{"get", "line 1: get: expected 1 arguments, got 0"},
		{"len 1", "line 1: len: expected 0 arguments, got 1"},
		{"iter sideways", `line 1: iter: unknown mode "sideways"`},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			_, err := replayString(t, newStringTable(t, 17), c.script)
			require.EqualError(t, err, c.err)
		})
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	for _, s := range []string{"shadow", "reject", "replace"} {
		p, err := parseDuplicatePolicy(s)
		require.NoError(t, err)
		require.Equal(t, s, p.String())
	}
	_, err := parseDuplicatePolicy("ignore")
	require.Error(t, err)
}

func TestRunReplayCommand(t *testing.T) {
	defer func(c int, d string) { capacity, duplicates = c, d }(capacity, duplicates)
	capacity, duplicates = 17, "reject"

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("put a 1\nput a 2\nget a\n"))
	require.NoError(t, runReplay(cmd, nil))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "ok", lines[0])
	require.Contains(t, lines[1], linkedhash.ErrDuplicateKey.Error())
	require.Equal(t, "1", lines[2])

	// From a file.
	path := filepath.Join(t.TempDir(), "ops.txt")
	require.NoError(t, os.WriteFile(path, []byte("put k v\nlen\n"), 0o644))
	out.Reset()
	require.NoError(t, runReplay(cmd, []string{path}))
	require.Equal(t, "ok\n1\n", out.String())

	require.Error(t, runReplay(cmd, []string{filepath.Join(t.TempDir(), "missing")}))

	duplicates = "bogus"
	require.Error(t, runReplay(cmd, nil))
}

func TestRunWorkload(t *testing.T) {
	testCases := []workload{
		{Name: "default-hash", Capacity: 1021, Keys: 1000},
		{Name: "three-buckets", Capacity: 101, Keys: 100, Buckets: 3},
		{Name: "one-bucket-deletes", Capacity: 101, Keys: 101, Buckets: 1, DeleteEvery: 5},
	}
	for _, w := range testCases {
		t.Run(w.Name, func(t *testing.T) {
			res, err := runWorkload(w)
			require.NoError(t, err)
			require.Equal(t, w.Keys, res.keys)
			require.LessOrEqual(t, res.maxProbe, w.Capacity)
			require.GreaterOrEqual(t, res.meanProbe, 1.0)
			if w.DeleteEvery > 0 {
				require.Equal(t, (w.Keys+w.DeleteEvery-1)/w.DeleteEvery, res.deleted)
			}
		})
	}

	_, err := runWorkload(workload{Name: "overfull", Capacity: 7, Keys: 8})
	require.ErrorIs(t, err, linkedhash.ErrTableFull)

	_, err = runWorkload(workload{Name: "invalid", Capacity: 0, Keys: 1})
	require.ErrorIs(t, err, linkedhash.ErrInvalidCapacity)
}

func TestRunStressCommand(t *testing.T) {
	defer func(c string) { stressConfig = c }(stressConfig)

	path := filepath.Join(t.TempDir(), "workloads.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workloads:
  - name: small
    capacity: 17
  - capacity: 101
    keys: 50
    buckets: 2
    delete_every: 3
`), 0o644))
	stressConfig = path

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, runStress(cmd, nil))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "small: capacity=17 keys=16 deleted=0 "), lines[0])
	require.True(t, strings.HasPrefix(lines[1], "workload-1: capacity=101 keys=50 deleted=17 "), lines[1])
}

func TestLoadWorkloadsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadWorkloads(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("workloads: []\n"), 0o644))
	_, err = loadWorkloads(empty)
	require.ErrorContains(t, err, "no workloads")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workloads: {name: [\n"), 0o644))
	_, err = loadWorkloads(bad)
	require.ErrorContains(t, err, "parsing")
}
