package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"honnef.co/go/easyprof/capture"
)

// testCapture has three frames on thread "main", each calling update and draw, and a single update frame on thread
// "worker".
func testCapture() *capture.Capture {
	c := &capture.Capture{
		Version:   capture.CurrentVersion,
		PID:       1234,
		BeginTime: 0,
		EndTime:   3000,
		Descriptors: []*capture.Descriptor{
			{ID: 0, StaticID: 0, Name: "frame", File: "main.cpp", Line: 10, Type: capture.BlockTypeBlock},
			{ID: 1, StaticID: 1, Name: "update", File: "main.cpp", Line: 20, Type: capture.BlockTypeBlock},
			{ID: 2, StaticID: 2, Name: "draw", File: "render.cpp", Line: 30, Type: capture.BlockTypeBlock},
		},
		DescriptorsCount: 3,
		Threads:          map[capture.ThreadID]*capture.ThreadRoot{},
	}
	add := func(b capture.Block) capture.BlockIndex {
		c.Blocks = append(c.Blocks, b)
		return capture.BlockIndex(len(c.Blocks) - 1)
	}

	main := &capture.ThreadRoot{ID: 1, Name: "main"}
	for f := capture.Timestamp(0); f < 3; f++ {
		base := f * 1000
		update := add(capture.Block{Begin: base + 100, End: base + 300, ID: 1})
		draw := add(capture.Block{Begin: base + 400, End: base + 900, ID: 2})
		frame := add(capture.Block{Begin: base, End: base + 1000, ID: 0, Children: []capture.BlockIndex{update, draw}})
		main.Children = append(main.Children, frame)
	}
	worker := &capture.ThreadRoot{ID: 2, Name: "worker"}
	worker.Children = append(worker.Children, add(capture.Block{Begin: 500, End: 1500, ID: 1}))

	for _, root := range []*capture.ThreadRoot{main, worker} {
		c.Threads[root.ID] = root
		c.ThreadOrder = append(c.ThreadOrder, root.ID)
	}
	return c
}

func writeTestCapture(t *testing.T, name string) string {
	t.Helper()
	c := testCapture()
	path := filepath.Join(t.TempDir(), name)
	n, err := capture.WriteFile(path, c, c.BeginTime, c.EndTime, capture.WriteOptions{})
	require.NoError(t, err)
	require.Equal(t, 10, n)
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// requireOrder checks that the strings appear in s in the given order.
func requireOrder(t *testing.T, s string, strs ...string) {
	t.Helper()
	last := -1
	for _, str := range strs {
		i := strings.Index(s, str)
		require.Greater(t, i, last, "%q out of order in\n%s", str, s)
		last = i
	}
}

func TestInfo(t *testing.T) {
	path := writeTestCapture(t, "capture.prof")
	out, _, err := execute(t, "info", path)
	require.NoError(t, err)
	require.Contains(t, out, "v2.1.0")
	require.Contains(t, out, "1,234")
	requireOrder(t, out, "thread", "main", "worker")
}

func TestTop(t *testing.T) {
	path := writeTestCapture(t, "capture.prof.zst")

	out, _, err := execute(t, "top", path)
	require.NoError(t, err)
	requireOrder(t, out, "frame", "update", "draw")
	require.Contains(t, out, "1.6µs")

	out, _, err = execute(t, "top", "--thread", "main", path)
	require.NoError(t, err)
	requireOrder(t, out, "frame", "draw", "update")
	require.Contains(t, out, "600ns")

	out, _, err = execute(t, "top", "-n", "1", path)
	require.NoError(t, err)
	require.Contains(t, out, "frame")
	require.NotContains(t, out, "update")

	_, _, err = execute(t, "top", "--thread", "nope", path)
	require.ErrorContains(t, err, "no matching thread")
}

func TestTree(t *testing.T) {
	path := writeTestCapture(t, "capture.prof")

	out, _, err := execute(t, "tree", "--thread", "2", path)
	require.NoError(t, err)
	require.Contains(t, out, `thread 2 "worker" (1 frames`)
	require.Contains(t, out, "\n  update 1µs\n")
	require.NotContains(t, out, "main")

	out, _, err = execute(t, "tree", "--thread", "main", "--frames", "1", "--max-depth", "1", path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, "  frame 1µs\n"))
	require.NotContains(t, out, "update")

	out, _, err = execute(t, "tree", "--no-stats", "--sequential", "--thread", "main", path)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(out, "    draw 500ns\n"))
}

func TestCut(t *testing.T) {
	path := writeTestCapture(t, "capture.prof")
	dst := filepath.Join(t.TempDir(), "cut.prof.zst")

	out, _, err := execute(t, "cut", "--from", "1100ns", "--to", "1500ns", path, dst)
	require.NoError(t, err)
	require.Equal(t, "wrote 4 blocks to "+dst+"\n", out)

	c, err := capture.ReadFile(dst, capture.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, c.Blocks, 4)
	require.Equal(t, capture.CurrentVersion, c.Version)

	old := filepath.Join(t.TempDir(), "old.prof")
	_, _, err = execute(t, "cut", "--format-version", "1.3.0", path, old)
	require.NoError(t, err)
	c, err = capture.ReadFile(old, capture.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, capture.Version130, c.Version)
	require.Len(t, c.Blocks, 10)

	_, _, err = execute(t, "cut", "--from", "2us", "--to", "1us", path, dst)
	require.ErrorContains(t, err, "window ends before it begins")

	_, _, err = execute(t, "cut", "--from", "1h", "--to", "2h", path, filepath.Join(t.TempDir(), "empty.prof"))
	require.ErrorIs(t, err, capture.ErrNothingToSave)

	_, _, err = execute(t, "cut", "--format-version", "banana", path, dst)
	require.ErrorContains(t, err, "malformed version")
}

func TestDescriptors(t *testing.T) {
	path := writeTestCapture(t, "capture.prof.sz")
	out, _, err := execute(t, "descriptors", path)
	require.NoError(t, err)
	requireOrder(t, out, "frame", "update", "draw")
	require.Contains(t, out, "main.cpp:20")

	var buf bytes.Buffer
	require.NoError(t, capture.WriteDescriptors(&buf, testCapture().Descriptors, capture.WriteOptions{}))
	stream := filepath.Join(t.TempDir(), "descs.bin")
	require.NoError(t, os.WriteFile(stream, buf.Bytes(), 0o644))

	out, _, err = execute(t, "descriptors", "--stream", stream)
	require.NoError(t, err)
	require.Contains(t, out, "render.cpp:30")

	_, _, err = execute(t, "descriptors", stream)
	require.Error(t, err)
}

func TestLogging(t *testing.T) {
	path := writeTestCapture(t, "capture.prof")

	_, stderr, err := execute(t, "info", path)
	require.NoError(t, err)
	require.NotContains(t, stderr, "read capture")

	_, stderr, err = execute(t, "--log-level", "debug", "info", path)
	require.NoError(t, err)
	require.Contains(t, stderr, "read capture")

	_, _, err = execute(t, "--log-level", "loud", "info", path)
	require.ErrorContains(t, err, "invalid log level")
}

func TestMissingFile(t *testing.T) {
	_, _, err := execute(t, "info", filepath.Join(t.TempDir(), "missing.prof"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "easyprof "))
	require.Contains(t, out, "Writes capture format v2.1.0")
}
