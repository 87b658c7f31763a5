package sync

import "time"

// Chunk is one bounded slice of the sync window, aligned to calendar months.
// The ID is stable across runs so a resumed sync lands on the same chunk the
// previous run checkpointed.
type Chunk struct {
	ID    string
	Start time.Time
	End   time.Time
}

const chunkIDLayout = "2006-01"

// MonthChunks partitions [from, to] into calendar-month chunks. The first
// and last chunks are clipped to the window edges. An empty or inverted
// window yields no chunks.
func MonthChunks(from, to time.Time) []Chunk {
	if !from.Before(to) {
		return nil
	}

	var chunks []Chunk
	cursor := from
	for cursor.Before(to) {
		monthStart := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, cursor.Location())
		nextMonth := monthStart.AddDate(0, 1, 0)

		end := nextMonth.Add(-time.Second)
		if end.After(to) {
			end = to
		}

		chunks = append(chunks, Chunk{
			ID:    monthStart.Format(chunkIDLayout),
			Start: cursor,
			End:   end,
		})
		cursor = nextMonth
	}
	return chunks
}
