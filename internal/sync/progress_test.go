package sync

import (
	"testing"
	"time"

	"github.com/kpetersen/scrobblesync/internal/db"
)

func TestComputeProgress(t *testing.T) {
	started := time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC)
	now := started.Add(30 * time.Minute)
	chunk := "2024-02"

	cp := &db.Checkpoint{
		SyncType:        SyncTypeLastfm,
		Status:          db.SyncRunning,
		CurrentChunk:    &chunk,
		LastPage:        3,
		ChunksCompleted: 10,
		EventsSynced:    5000,
		StartedAt:       &started,
	}

	p := computeProgress(cp, 40, now)
	if p.Percent != 25 {
		t.Errorf("Percent = %v, want 25", p.Percent)
	}
	// 10 chunks in 30 minutes leaves 30 chunks at 3 minutes each.
	if p.ETASeconds != int64((90 * time.Minute).Seconds()) {
		t.Errorf("ETASeconds = %d, want %d", p.ETASeconds, int64((90*time.Minute).Seconds()))
	}
}

func TestComputeProgressCompleted(t *testing.T) {
	cp := &db.Checkpoint{Status: db.SyncCompleted, ChunksCompleted: 12}

	p := computeProgress(cp, 0, time.Now())
	if p.Percent != 100 {
		t.Errorf("Percent = %v, want 100", p.Percent)
	}
	if p.ETASeconds != 0 {
		t.Errorf("ETASeconds = %d, want 0", p.ETASeconds)
	}
}

func TestComputeProgressWithoutLiveRun(t *testing.T) {
	cp := &db.Checkpoint{Status: db.SyncIdle}

	p := computeProgress(cp, 0, time.Now())
	if p.Percent != 0 {
		t.Errorf("Percent = %v, want 0", p.Percent)
	}
	if p.ETASeconds != 0 {
		t.Errorf("ETASeconds = %d, want 0", p.ETASeconds)
	}
}
