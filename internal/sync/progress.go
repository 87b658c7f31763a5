package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/kpetersen/scrobblesync/internal/db"
)

// Progress is the monitoring view over a sync checkpoint, with the derived
// percentage and ETA a human wants to see.
type Progress struct {
	Status          db.SyncStatus `json:"status"`
	CurrentChunk    *string       `json:"current_chunk,omitempty"`
	LastPage        int           `json:"last_page"`
	ChunksCompleted int           `json:"chunks_completed"`
	TotalChunks     int           `json:"total_chunks,omitempty"`
	EventsSynced    int64         `json:"events_synced"`
	APICalls        int64         `json:"api_calls"`
	Percent         float64       `json:"percent"`
	ETASeconds      int64         `json:"eta_seconds,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ErrorCount      int           `json:"error_count"`
	LastError       *string       `json:"last_error,omitempty"`
}

// progressState holds the chunk totals only a live run knows. The checkpoint
// stores completed counts; the total depends on the window the run computed.
type progressState struct {
	mu          stdsync.Mutex
	totalChunks int
	completed   int
}

func (p *progressState) setTotalChunks(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalChunks = n
}

func (p *progressState) setCompleted(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = n
}

func (p *progressState) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalChunks = 0
	p.completed = 0
}

func (p *progressState) snapshot() (total, completed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalChunks, p.completed
}

// Progress reads the checkpoint and derives percentage and ETA. The ETA
// extrapolates the next chunks from the pace of the completed ones and is
// only available while a run is live.
func (o *Orchestrator) Progress(ctx context.Context) (*Progress, error) {
	cp, err := o.store.Checkpoint(ctx, SyncTypeLastfm)
	if err != nil {
		return nil, err
	}
	total, _ := o.progress.snapshot()
	return computeProgress(cp, total, o.now()), nil
}

func computeProgress(cp *db.Checkpoint, totalChunks int, now time.Time) *Progress {
	p := &Progress{
		Status:          cp.Status,
		CurrentChunk:    cp.CurrentChunk,
		LastPage:        cp.LastPage,
		ChunksCompleted: cp.ChunksCompleted,
		TotalChunks:     totalChunks,
		EventsSynced:    cp.EventsSynced,
		APICalls:        cp.APICalls,
		StartedAt:       cp.StartedAt,
		UpdatedAt:       cp.UpdatedAt,
		ErrorCount:      cp.ErrorCount,
		LastError:       cp.LastError,
	}

	if cp.Status == db.SyncCompleted {
		p.Percent = 100
		return p
	}
	if totalChunks > 0 {
		p.Percent = float64(cp.ChunksCompleted) / float64(totalChunks) * 100

		if cp.Status == db.SyncRunning && cp.StartedAt != nil && cp.ChunksCompleted > 0 {
			elapsed := now.Sub(*cp.StartedAt)
			remaining := totalChunks - cp.ChunksCompleted
			eta := time.Duration(remaining) * (elapsed / time.Duration(cp.ChunksCompleted))
			p.ETASeconds = int64(eta.Seconds())
		}
	}
	return p
}
