package sync

import (
	"testing"
	"time"
)

func TestMonthChunks(t *testing.T) {
	tests := []struct {
		name    string
		from    time.Time
		to      time.Time
		wantIDs []string
	}{
		{
			name:    "mid month to mid month",
			from:    time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC),
			to:      time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC),
			wantIDs: []string{"2024-01", "2024-02", "2024-03"},
		},
		{
			name:    "within one month",
			from:    time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			to:      time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC),
			wantIDs: []string{"2024-06"},
		},
		{
			name:    "year boundary",
			from:    time.Date(2023, time.December, 31, 23, 0, 0, 0, time.UTC),
			to:      time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC),
			wantIDs: []string{"2023-12", "2024-01"},
		},
		{
			name:    "empty window",
			from:    time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			to:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantIDs: nil,
		},
		{
			name:    "inverted window",
			from:    time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
			to:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := MonthChunks(tt.from, tt.to)
			if len(chunks) != len(tt.wantIDs) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.wantIDs))
			}
			for i, c := range chunks {
				if c.ID != tt.wantIDs[i] {
					t.Errorf("chunk %d ID = %q, want %q", i, c.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestMonthChunksClipsEdges(t *testing.T) {
	from := time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.February, 10, 8, 0, 0, 0, time.UTC)

	chunks := MonthChunks(from, to)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !chunks[0].Start.Equal(from) {
		t.Errorf("first chunk start = %v, want %v", chunks[0].Start, from)
	}
	wantFirstEnd := time.Date(2024, time.January, 31, 23, 59, 59, 0, time.UTC)
	if !chunks[0].End.Equal(wantFirstEnd) {
		t.Errorf("first chunk end = %v, want %v", chunks[0].End, wantFirstEnd)
	}
	if !chunks[1].End.Equal(to) {
		t.Errorf("last chunk end = %v, want %v", chunks[1].End, to)
	}
}

func TestMonthChunksDeterministic(t *testing.T) {
	from := time.Date(2022, time.May, 14, 3, 0, 0, 0, time.UTC)
	to := time.Date(2023, time.February, 1, 0, 0, 0, 0, time.UTC)

	a := MonthChunks(from, to)
	b := MonthChunks(from, to)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
