package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_CoversFileExactly(t *testing.T) {
	chunkSizes := []int64{1, 3, 7, 1024, 4 * 1024 * 1024}
	fileSizes := []int64{1, 2, 3, 6, 7, 8, 1000, 1023, 1024, 1025, 10 * 1024 * 1024, 12 * 1024 * 1024}

	for _, c := range chunkSizes {
		for _, f := range fileSizes {
			ranges, err := Plan(f, c)
			require.NoError(t, err)

			wantCount := (f + c - 1) / c
			require.Len(t, ranges, int(wantCount), "F=%d C=%d", f, c)

			var next int64
			for i, r := range ranges {
				assert.Equal(t, next, r.Start, "ranges must be contiguous and ascending")
				assert.Greater(t, r.Len(), int64(0))
				if i < len(ranges)-1 {
					assert.Equal(t, c, r.Len())
				} else if f%c == 0 {
					assert.Equal(t, c, r.Len())
				} else {
					assert.Equal(t, f%c, r.Len())
				}
				next = r.End
			}
			assert.Equal(t, f, next)
		}
	}
}

func TestPlan_TenMiBInFourMiBChunks(t *testing.T) {
	const mib = 1024 * 1024
	ranges, err := Plan(10*mib, 4*mib)
	require.NoError(t, err)

	assert.Equal(t, []Range{
		{Start: 0, End: 4 * mib},
		{Start: 4 * mib, End: 8 * mib},
		{Start: 8 * mib, End: 10 * mib},
	}, ranges)
}

func TestPlan_ExactMultipleHasNoEmptyTail(t *testing.T) {
	ranges, err := Plan(8, 4)
	require.NoError(t, err)
	assert.Equal(t, []Range{{0, 4}, {4, 8}}, ranges)
}

func TestPlan_Rejects(t *testing.T) {
	_, err := Plan(0, 4)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Plan(10, 0)
	assert.Error(t, err)

	_, err = Plan(-1, 4)
	assert.Error(t, err)
}
