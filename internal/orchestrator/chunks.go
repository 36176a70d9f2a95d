package orchestrator

import (
	"fmt"

	"github.com/brensch/mpduck/internal/util"
)

// SplitDateRange partitions the inclusive range [from, to] into contiguous,
// non-overlapping chunks of at most chunkDays calendar days.
func SplitDateRange(from, to string, chunkDays int) ([]Chunk, error) {
	if chunkDays <= 0 {
		return nil, fmt.Errorf("%w: chunk days must be positive, got %d", ErrInvalidPlan, chunkDays)
	}
	start, err := util.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("%w: from date: %w", ErrInvalidPlan, err)
	}
	end, err := util.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("%w: to date: %w", ErrInvalidPlan, err)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: from date %s is after to date %s", ErrInvalidPlan, from, to)
	}

	days := util.DaysInclusive(start, end)
	chunks := make([]Chunk, 0, (days+chunkDays-1)/chunkDays)
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, chunkDays) {
		last := cur.AddDate(0, 0, chunkDays-1)
		if last.After(end) {
			last = end
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			FromDate: util.FormatDate(cur),
			ToDate:   util.FormatDate(last),
		})
	}
	return chunks, nil
}
