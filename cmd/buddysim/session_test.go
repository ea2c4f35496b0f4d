package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/buddysim/buddy"
	"github.com/vkngwrapper/buddysim/memutils"
	"golang.org/x/exp/slog"
)

func testSession(t *testing.T, total int, quiet bool) (*session, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	sess, err := newSession(&out, slog.New(slog.NewTextHandler(io.Discard)), total, quiet)
	require.NoError(t, err)
	return sess, &out
}

func TestSessionAllocAndFree(t *testing.T) {
	sess, out := testSession(t, 128, false)

	require.NoError(t, sess.exec("alloc P1 32"))
	require.NoError(t, sess.exec("  alloc P2 16  "))
	require.NoError(t, sess.exec("free P2"))

	require.Equal(t, []buddy.AllocationInfo{
		{Owner: "P1", Address: 0, BlockSize: 32, RequestedSize: 32},
	}, sess.allocator.Allocations())

	output := out.String()
	require.Contains(t, output, "Initialized buddy allocator with 128 units of memory")
	require.Contains(t, output, "Allocated 16 units to owner 'P2' at address 32")
	require.Contains(t, output, "Merged block at address 32 into size 32")
	require.True(t, strings.HasPrefix(output, "["))
}

func TestSessionIgnoresCommentsAndBlankLines(t *testing.T) {
	sess, out := testSession(t, 64, true)

	require.NoError(t, sess.exec(""))
	require.NoError(t, sess.exec("   "))
	require.NoError(t, sess.exec("# alloc P1 8"))

	require.Empty(t, sess.allocator.Allocations())
	require.Empty(t, out.String())
}

func TestSessionErrors(t *testing.T) {
	sess, _ := testSession(t, 16, true)

	err := sess.exec("alloc X 17")
	require.True(t, errors.Is(err, memutils.InsufficientMemoryError))

	err = sess.exec("alloc X 0")
	require.True(t, errors.Is(err, memutils.InvalidSizeError))

	require.Error(t, sess.exec("alloc X ten"))
	require.Error(t, sess.exec("alloc X"))
	require.Error(t, sess.exec("free nobody"))
	require.Error(t, sess.exec("defragment"))
	require.Error(t, sess.exec("stats now"))

	err = sess.exec("resize 100")
	require.True(t, errors.Is(err, memutils.InvalidConfigurationError))
	require.Equal(t, 16, sess.allocator.TotalSize())
}

func TestSessionStatsAndMap(t *testing.T) {
	sess, out := testSession(t, 64, false)

	require.NoError(t, sess.exec("alloc A 5"))
	out.Reset()

	require.NoError(t, sess.exec("stats"))
	require.Equal(t, "Allocated Space: 5\nFree Space: 56\nInternal Fragmentation: 3\n", out.String())
	out.Reset()

	require.NoError(t, sess.exec("map"))
	output := out.String()
	require.Contains(t, output, "A (5)")
	require.Contains(t, output, "Free Blocks (Size 32): [32]")
	require.Contains(t, output, "Free Blocks (Size 64): []")

	require.NoError(t, sess.exec("validate"))
}

func TestSessionResize(t *testing.T) {
	sess, _ := testSession(t, 64, true)

	require.NoError(t, sess.exec("alloc A 5"))
	require.NoError(t, sess.exec("resize 256"))

	require.Equal(t, 256, sess.allocator.TotalSize())
	require.Empty(t, sess.allocator.Allocations())
	require.Equal(t, buddy.Stats{FreeSpace: 256}, sess.allocator.Stats())
}

func TestRunScript(t *testing.T) {
	totalSize, quiet, jsonOut = 128, true, true
	defer func() {
		totalSize, quiet, jsonOut = 128, false, false
	}()

	script := strings.NewReader(`# scenario with a merge back into the buddy
alloc P1 32
alloc P2 16
alloc P3 16
free P2
free P3
free P4
`)

	var out bytes.Buffer
	err := runScript(script, &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 command(s) failed")

	var summary struct {
		Total struct {
			AllocatedSpace        int
			FreeSpace             int
			InternalFragmentation int
		}
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.Equal(t, 32, summary.Total.AllocatedSpace)
	require.Equal(t, 96, summary.Total.FreeSpace)
	require.Equal(t, 0, summary.Total.InternalFragmentation)
}
