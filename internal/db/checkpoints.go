package db

import (
	"context"
	"fmt"
	"time"
)

// CheckpointRepository handles sync checkpoint database operations.
type CheckpointRepository struct {
	q querier
}

const checkpointColumns = `sync_type, status, current_chunk, last_page, chunks_completed,
	events_synced, api_calls, started_at, updated_at, error_count, last_error`

func scanCheckpoint(row scannable, cp *Checkpoint) error {
	return row.Scan(
		&cp.SyncType,
		&cp.Status,
		&cp.CurrentChunk,
		&cp.LastPage,
		&cp.ChunksCompleted,
		&cp.EventsSynced,
		&cp.APICalls,
		&cp.StartedAt,
		&cp.UpdatedAt,
		&cp.ErrorCount,
		&cp.LastError,
	)
}

type scannable interface {
	Scan(dest ...any) error
}

// Get returns the checkpoint for a sync type, creating an idle one on first
// use.
func (r *CheckpointRepository) Get(ctx context.Context, syncType string) (*Checkpoint, error) {
	_, err := r.q.Exec(ctx,
		`INSERT INTO sync_checkpoints (sync_type) VALUES ($1) ON CONFLICT (sync_type) DO NOTHING`,
		syncType,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring checkpoint: %w", err)
	}

	cp := &Checkpoint{}
	row := r.q.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM sync_checkpoints WHERE sync_type = $1`,
		syncType,
	)
	if err := scanCheckpoint(row, cp); err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}
	return cp, nil
}

// CheckpointPatch describes a partial checkpoint update. Nil fields keep
// their stored value.
type CheckpointPatch struct {
	Status          *SyncStatus
	CurrentChunk    *string
	LastPage        *int
	ChunksCompleted *int
	EventsSynced    *int64
	APICalls        *int64
	StartedAt       *time.Time
	ErrorCount      *int
	LastError       *string
}

// Update applies a patch to a checkpoint. updated_at is always bumped so the
// row records the last moment progress was durably saved. Clearing
// current_chunk or last_error requires Reset.
func (r *CheckpointRepository) Update(ctx context.Context, syncType string, patch CheckpointPatch) error {
	query := `
		UPDATE sync_checkpoints SET
			status = COALESCE($2, status),
			current_chunk = COALESCE($3, current_chunk),
			last_page = COALESCE($4, last_page),
			chunks_completed = COALESCE($5, chunks_completed),
			events_synced = COALESCE($6, events_synced),
			api_calls = COALESCE($7, api_calls),
			started_at = COALESCE($8, started_at),
			error_count = COALESCE($9, error_count),
			last_error = COALESCE($10, last_error),
			updated_at = now()
		WHERE sync_type = $1
	`
	tag, err := r.q.Exec(ctx, query, syncType,
		patch.Status,
		patch.CurrentChunk,
		patch.LastPage,
		patch.ChunksCompleted,
		patch.EventsSynced,
		patch.APICalls,
		patch.StartedAt,
		patch.ErrorCount,
		patch.LastError,
	)
	if err != nil {
		return fmt.Errorf("updating checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset returns a checkpoint to its initial idle state, discarding all
// progress counters and error details.
func (r *CheckpointRepository) Reset(ctx context.Context, syncType string) error {
	query := `
		UPDATE sync_checkpoints SET
			status = 'idle',
			current_chunk = NULL,
			last_page = 1,
			chunks_completed = 0,
			events_synced = 0,
			api_calls = 0,
			started_at = NULL,
			updated_at = now(),
			error_count = 0,
			last_error = NULL
		WHERE sync_type = $1
	`
	tag, err := r.q.Exec(ctx, query, syncType)
	if err != nil {
		return fmt.Errorf("resetting checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
