package memutils_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/buddysim/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "size"))
	require.NoError(t, memutils.CheckPow2(128, "size"))
	require.NoError(t, memutils.CheckPow2(uint(1<<20), "size"))

	err := memutils.CheckPow2(96, "size")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "size is 96")
}

func TestNextPow2(t *testing.T) {
	cases := map[int]int{
		-4:  1,
		0:   1,
		1:   1,
		2:   2,
		3:   4,
		5:   8,
		16:  16,
		17:  32,
		100: 128,
		128: 128,
	}

	for value, expected := range cases {
		require.Equal(t, expected, memutils.NextPow2(value), "NextPow2(%d)", value)
	}
}

func TestLog2(t *testing.T) {
	require.Equal(t, 0, memutils.Log2(1))
	require.Equal(t, 4, memutils.Log2(16))
	require.Equal(t, 7, memutils.Log2(128))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 48, memutils.AlignDown(50, 16))
	require.Equal(t, 64, memutils.AlignUp(50, 16))
	require.Equal(t, 32, memutils.AlignDown(32, 32))
	require.Equal(t, 32, memutils.AlignUp(32, 32))
}

func TestStatisticsDerivedValues(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	stats.BlockCount = 1
	stats.BlockBytes = 64

	stats.AddAllocation(8, 5)
	stats.AddAllocation(16, 16)
	stats.AddUnusedRange(8)
	stats.AddUnusedRange(32)

	require.Equal(t, 40, stats.FreeBytes())
	require.Equal(t, 3, stats.InternalFragmentation())
	require.Equal(t, 8, stats.AllocationSizeMin)
	require.Equal(t, 16, stats.AllocationSizeMax)
	require.Equal(t, 8, stats.UnusedRangeSizeMin)
	require.Equal(t, 32, stats.UnusedRangeSizeMax)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)

	require.Equal(t, 2, total.BlockCount)
	require.Equal(t, 4, total.AllocationCount)
	require.Equal(t, 6, total.InternalFragmentation())
	require.Equal(t, 4, total.UnusedRangeCount)
}
