package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/mpduck/internal/util"
)

func TestSplitDateRange_ThirtyDaysBySeven(t *testing.T) {
	chunks, err := SplitDateRange("2024-01-01", "2024-01-30", 7)
	require.NoError(t, err)

	want := [][2]string{
		{"2024-01-01", "2024-01-07"},
		{"2024-01-08", "2024-01-14"},
		{"2024-01-15", "2024-01-21"},
		{"2024-01-22", "2024-01-28"},
		{"2024-01-29", "2024-01-30"},
	}
	require.Len(t, chunks, len(want))
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, want[i][0], c.FromDate)
		assert.Equal(t, want[i][1], c.ToDate)
	}
}

func TestSplitDateRange_SingleDay(t *testing.T) {
	chunks, err := SplitDateRange("2024-02-29", "2024-02-29", 7)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{Index: 0, FromDate: "2024-02-29", ToDate: "2024-02-29"}, chunks[0])
}

func TestSplitDateRange_PartitionsExactly(t *testing.T) {
	base := time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC)
	for span := 0; span < 70; span += 3 {
		for chunkDays := 1; chunkDays <= 10; chunkDays++ {
			from := base
			to := base.AddDate(0, 0, span)
			chunks, err := SplitDateRange(util.FormatDate(from), util.FormatDate(to), chunkDays)
			require.NoError(t, err)

			totalDays := span + 1
			assert.Len(t, chunks, (totalDays+chunkDays-1)/chunkDays, "span=%d chunk=%d", span, chunkDays)
			assert.Equal(t, util.FormatDate(from), chunks[0].FromDate)
			assert.Equal(t, util.FormatDate(to), chunks[len(chunks)-1].ToDate)

			covered := 0
			for i, c := range chunks {
				cf, err := util.ParseDate(c.FromDate)
				require.NoError(t, err)
				ct, err := util.ParseDate(c.ToDate)
				require.NoError(t, err)
				days := util.DaysInclusive(cf, ct)
				assert.LessOrEqual(t, days, chunkDays)
				assert.GreaterOrEqual(t, days, 1)
				covered += days
				if i > 0 {
					prevTo, err := util.ParseDate(chunks[i-1].ToDate)
					require.NoError(t, err)
					assert.Equal(t, prevTo.AddDate(0, 0, 1), cf, "chunks must be adjacent")
				}
			}
			assert.Equal(t, totalDays, covered)
		}
	}
}

func TestSplitDateRange_Errors(t *testing.T) {
	tests := []struct {
		name      string
		from, to  string
		chunkDays int
	}{
		{"reversed", "2024-01-10", "2024-01-01", 7},
		{"zero chunk", "2024-01-01", "2024-01-10", 0},
		{"negative chunk", "2024-01-01", "2024-01-10", -1},
		{"bad from", "01/01/2024", "2024-01-10", 7},
		{"bad to", "2024-01-01", "2024-13-01", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitDateRange(tt.from, tt.to, tt.chunkDays)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}
