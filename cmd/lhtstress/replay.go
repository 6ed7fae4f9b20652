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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/linkedhash"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runReplay(cmd *cobra.Command, args []string) error {
	policy, err := parseDuplicatePolicy(duplicates)
	if err != nil {
		return err
	}
	tbl, err := linkedhash.New[string](capacity,
		linkedhash.WithDuplicatePolicy[string](policy))
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	defer tbl.Close()

	in := cmd.InOrStdin()
	name := "stdin"
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening script: %w", err)
		}
		defer f.Close()
		in, name = f, args[0]
	}

	logger.Debug("Replaying script",
		zap.String("script", name),
		zap.Int("capacity", capacity),
		zap.Stringer("duplicates", policy))

	n, err := replay(in, cmd.OutOrStdout(), tbl)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("Replay complete",
		zap.String("script", name),
		zap.Int("ops", n),
		zap.Int("len", tbl.Len()))
	return nil
}

// replay executes the operations read from r against tbl, writing one result
// line per operation to w. It returns the number of operations executed.
// Table errors such as a full table are reported in the output; malformed
// lines stop the replay.
func replay(r io.Reader, w io.Writer, tbl *linkedhash.Table[string]) (int, error) {
	var ops int
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		out, err := apply(tbl, fields)
		if err != nil {
			return ops, fmt.Errorf("line %d: %w", lineNo, err)
		}
		logger.Debug("op", zap.Int("line", lineNo), zap.Strings("op", fields), zap.String("result", out))
		if _, err := fmt.Fprintln(w, out); err != nil {
			return ops, err
		}
		ops++
	}
	return ops, scanner.Err()
}

// apply executes a single operation and returns its result line.
func apply(tbl *linkedhash.Table[string], fields []string) (string, error) {
	op, args := fields[0], fields[1:]
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s: expected %d arguments, got %d", op, n, len(args))
		}
		return nil
	}
	found := func(v string, ok bool, miss string) string {
		if !ok {
			return miss
		}
		return v
	}

	switch op {
	case "put":
		if err := want(2); err != nil {
			return "", err
		}
		if err := tbl.Put(args[0], args[1]); err != nil {
			return "error: " + err.Error(), nil
		}
		return "ok", nil

	case "get":
		if err := want(1); err != nil {
			return "", err
		}
		v, ok := tbl.Get(args[0])
		return found(v, ok, "not found"), nil

	case "del":
		if err := want(1); err != nil {
			return "", err
		}
		v, ok := tbl.Delete(args[0])
		return found(v, ok, "not found"), nil

	case "pop":
		if err := want(0); err != nil {
			return "", err
		}
		v, ok := tbl.PopTail()
		return found(v, ok, "empty"), nil

	case "pophead":
		if err := want(0); err != nil {
			return "", err
		}
		v, ok := tbl.PopHead()
		return found(v, ok, "empty"), nil

	case "iter":
		if err := want(1); err != nil {
			return "", err
		}
		var mode linkedhash.IterMode
		switch args[0] {
		case "restart":
			mode = linkedhash.IterRestart
		case "continue":
			mode = linkedhash.IterContinue
		case "reverse":
			mode = linkedhash.IterRestartReverse
		default:
			return "", fmt.Errorf("iter: unknown mode %q", args[0])
		}
		v, ok := tbl.Iter(mode)
		return found(v, ok, "end"), nil

	case "probe":
		if err := want(1); err != nil {
			return "", err
		}
		n, ok := tbl.ProbeLength(args[0])
		if !ok {
			return "not found", nil
		}
		return fmt.Sprint(n), nil

	case "len":
		if err := want(0); err != nil {
			return "", err
		}
		return fmt.Sprint(tbl.Len()), nil

	case "dump", "rdump":
		if err := want(0); err != nil {
			return "", err
		}
		var pairs []string
		collect := func(k, v string) bool {
			pairs = append(pairs, k+"="+v)
			return true
		}
		if op == "dump" {
			tbl.All(collect)
		} else {
			tbl.Backward(collect)
		}
		if len(pairs) == 0 {
			return "(empty)", nil
		}
		return strings.Join(pairs, " "), nil

	case "clear":
		if err := want(0); err != nil {
			return "", err
		}
		tbl.Clear()
		return "ok", nil

	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}
