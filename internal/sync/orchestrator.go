// Package sync implements the incremental scrobble history sync engine:
// chunked pagination over the Last.fm history, idempotent persistence,
// Spotify catalog matching, and checkpoint-based crash recovery.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/db"
	"github.com/kpetersen/scrobblesync/internal/lastfm"
	"github.com/kpetersen/scrobblesync/internal/metrics"
	"github.com/kpetersen/scrobblesync/internal/spotify"
)

// Common errors.
var (
	// ErrTooManyFailures is returned when consecutive chunk failures reach
	// the configured ceiling and the run aborts.
	ErrTooManyFailures = errors.New("too many consecutive chunk failures")
)

// SyncTypeLastfm is the checkpoint row and play source tag for Last.fm
// history sync.
const SyncTypeLastfm = "lastfm"

// Defaults for the orchestrator tunables.
const (
	DefaultPagesPerChunk = 50
	DefaultErrorCeiling  = 3
	DefaultResumeOverlap = 5 * time.Minute
)

// EventSource fetches pages of play events for a time window.
type EventSource interface {
	RecentTracks(ctx context.Context, from, to time.Time, page int) ([]lastfm.PlayEvent, lastfm.PageInfo, error)
	UserInfo(ctx context.Context) (*lastfm.UserInfo, error)
}

// TrackMatcher resolves a track identity to a catalog candidate, or nil when
// nothing acceptable exists.
type TrackMatcher interface {
	Match(ctx context.Context, track, artist, album string) (*spotify.Candidate, error)
}

// Orchestrator drives a full sync run: it windows the history, partitions it
// into monthly chunks, pages each chunk through the event source, persists
// batches and checkpoints after every one.
type Orchestrator struct {
	source  EventSource
	matcher TrackMatcher
	store   Storage
	log     zerolog.Logger

	pagesPerChunk  int
	errorCeiling   int
	overlap        time.Duration
	firstSyncStart time.Time
	now            func() time.Time

	progress progressState
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPagesPerChunk caps how many pages are fetched per chunk.
func WithPagesPerChunk(n int) Option {
	return func(o *Orchestrator) {
		o.pagesPerChunk = n
	}
}

// WithErrorCeiling sets how many consecutive chunk failures abort the run.
func WithErrorCeiling(n int) Option {
	return func(o *Orchestrator) {
		o.errorCeiling = n
	}
}

// WithResumeOverlap sets how far before the stored high-water mark an
// incremental run starts, to tolerate clock skew and boundary misses.
func WithResumeOverlap(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.overlap = d
	}
}

// WithFirstSyncStart sets the window start used when the account
// registration time is unavailable and no plays are stored yet.
func WithFirstSyncStart(t time.Time) Option {
	return func(o *Orchestrator) {
		o.firstSyncStart = t
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates a sync orchestrator.
func New(source EventSource, matcher TrackMatcher, store Storage, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:         source,
		matcher:        matcher,
		store:          store,
		log:            log.With().Str("component", "sync").Logger(),
		pagesPerChunk:  DefaultPagesPerChunk,
		errorCeiling:   DefaultErrorCeiling,
		overlap:        DefaultResumeOverlap,
		firstSyncStart: time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result summarizes a completed sync run.
type Result struct {
	EventsAdded     int
	EventsDeduped   int
	ChunksProcessed int
	Duration        time.Duration
}

// runState carries the running totals a run writes into every checkpoint
// patch. Patches store absolute values, so the totals are seeded from the
// checkpoint at the start of the run.
type runState struct {
	eventsSynced int64
	apiCalls     int64
}

// Run executes one sync pass over the window from the stored high-water mark
// (or account registration on first run) through now. It resumes from the
// checkpointed chunk and page when a previous run was interrupted. A context
// cancellation between batches leaves the checkpoint resumable.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	log := o.log.With().Str("run_id", runID).Logger()
	started := o.now()

	cp, err := o.store.Checkpoint(ctx, SyncTypeLastfm)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	from, err := o.windowStart(ctx)
	if err != nil {
		return nil, err
	}
	if widened := recoveryStart(from, cp); widened.Before(from) {
		log.Info().
			Str("chunk", *cp.CurrentChunk).
			Time("from", widened).
			Msg("re-covering interrupted chunk")
		from = widened
	}
	to := o.now()

	chunks := MonthChunks(from, to)
	if len(chunks) == 0 {
		log.Info().Time("from", from).Time("to", to).Msg("nothing to sync")
		return &Result{}, nil
	}
	o.progress.setTotalChunks(len(chunks))
	defer o.progress.clear()

	log.Info().
		Time("from", from).
		Time("to", to).
		Int("chunks", len(chunks)).
		Msg("starting sync run")

	startedAt := cp.StartedAt
	if startedAt == nil {
		startedAt = &started
	}
	running := db.SyncRunning
	if err := o.store.UpdateCheckpoint(ctx, SyncTypeLastfm, db.CheckpointPatch{
		Status:    &running,
		StartedAt: startedAt,
	}); err != nil {
		return nil, fmt.Errorf("marking sync running: %w", err)
	}

	startIdx := 0
	if cp.CurrentChunk != nil {
		for i, c := range chunks {
			if c.ID == *cp.CurrentChunk {
				startIdx = i
				log.Info().Str("chunk", c.ID).Int("page", cp.LastPage).Msg("resuming from checkpoint")
				break
			}
		}
	}

	state := &runState{
		eventsSynced: cp.EventsSynced,
		apiCalls:     cp.APICalls,
	}
	errorCount := cp.ErrorCount
	result := &Result{}

	for i := startIdx; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync canceled: %w", err)
		}
		chunk := chunks[i]

		startPage := 1
		if cp.CurrentChunk != nil && *cp.CurrentChunk == chunk.ID {
			startPage = cp.LastPage
		}

		added, deduped, err := o.syncChunk(ctx, log, chunk, startPage, state)
		result.EventsAdded += added
		result.EventsDeduped += deduped
		if err != nil {
			if ctx.Err() != nil {
				// Leave the checkpoint as-is; the next run resumes
				// from the last persisted page.
				return nil, fmt.Errorf("sync canceled: %w", err)
			}

			errorCount++
			metrics.ChunkErrorsTotal.Inc()
			msg := err.Error()
			errStatus := db.SyncError
			if uerr := o.store.UpdateCheckpoint(ctx, SyncTypeLastfm, db.CheckpointPatch{
				Status:     &errStatus,
				ErrorCount: &errorCount,
				LastError:  &msg,
			}); uerr != nil {
				return nil, fmt.Errorf("recording chunk failure: %w", uerr)
			}

			if errorCount >= o.errorCeiling {
				metrics.SyncRunsTotal.WithLabelValues(string(db.SyncError)).Inc()
				log.Error().Err(err).Str("chunk", chunk.ID).Int("error_count", errorCount).Msg("aborting sync run")
				return nil, fmt.Errorf("chunk %s: %w: %w", chunk.ID, ErrTooManyFailures, err)
			}
			log.Warn().Err(err).Str("chunk", chunk.ID).Int("error_count", errorCount).Msg("chunk failed, continuing with next")
			continue
		}

		result.ChunksProcessed++
		errorCount = 0
		done := i + 1
		firstPage := 1
		chunkID := chunk.ID
		if err := o.store.UpdateCheckpoint(ctx, SyncTypeLastfm, db.CheckpointPatch{
			Status:          &running,
			CurrentChunk:    &chunkID,
			ChunksCompleted: &done,
			LastPage:        &firstPage,
			ErrorCount:      &errorCount,
		}); err != nil {
			return nil, fmt.Errorf("checkpointing chunk %s: %w", chunk.ID, err)
		}
		o.progress.setCompleted(done)

		elapsed := o.now().Sub(started)
		log.Info().
			Str("chunk", chunk.ID).
			Int("chunks_done", done).
			Int("chunks_total", len(chunks)).
			Int("events_added", added).
			Dur("elapsed", elapsed).
			Msg("chunk complete")
	}

	completed := db.SyncCompleted
	if err := o.store.UpdateCheckpoint(ctx, SyncTypeLastfm, db.CheckpointPatch{
		Status: &completed,
	}); err != nil {
		return nil, fmt.Errorf("marking sync completed: %w", err)
	}
	metrics.SyncRunsTotal.WithLabelValues(string(db.SyncCompleted)).Inc()

	result.Duration = o.now().Sub(started)
	log.Info().
		Int("events_added", result.EventsAdded).
		Int("events_deduped", result.EventsDeduped).
		Int("chunks", result.ChunksProcessed).
		Dur("duration", result.Duration).
		Msg("sync run complete")
	return result, nil
}

// recoveryStart widens the window start to re-cover a chunk a previous run
// left unfinished. Pages arrive newest first, so the stored high-water mark
// sits at the top of the interrupted chunk; opening the window there would
// drop every older event the interrupted run never reached. Re-covering the
// chunk from its month start relies on play dedup for the pages already
// persisted.
func recoveryStart(from time.Time, cp *db.Checkpoint) time.Time {
	if cp.CurrentChunk == nil || cp.Status == db.SyncCompleted {
		return from
	}
	chunkStart, err := time.Parse(chunkIDLayout, *cp.CurrentChunk)
	if err != nil || !chunkStart.Before(from) {
		return from
	}
	return chunkStart
}

// windowStart picks where the sync window opens: just before the newest
// stored play, or for an empty database the account registration time with a
// configured fallback.
func (o *Orchestrator) windowStart(ctx context.Context) (time.Time, error) {
	latest, err := o.store.LatestPlayedAt(ctx, SyncTypeLastfm)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding high-water mark: %w", err)
	}
	if latest != nil {
		return latest.Add(-o.overlap), nil
	}

	info, err := o.source.UserInfo(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching account info: %w", err)
	}
	if info.Registered.IsZero() {
		return o.firstSyncStart, nil
	}
	return info.Registered, nil
}

// syncChunk pages through one chunk, persisting and checkpointing every
// page. Returns the inserted and deduplicated event counts.
func (o *Orchestrator) syncChunk(ctx context.Context, log zerolog.Logger, chunk Chunk, startPage int, state *runState) (int, int, error) {
	log = log.With().Str("chunk", chunk.ID).Logger()

	added := 0
	deduped := 0
	page := startPage
	for page <= o.pagesPerChunk {
		events, info, err := o.source.RecentTracks(ctx, chunk.Start, chunk.End, page)
		state.apiCalls++
		if err != nil {
			return added, deduped, fmt.Errorf("page %d: %w", page, err)
		}
		if len(events) == 0 {
			break
		}

		batch, err := o.store.SavePlays(ctx, events, SyncTypeLastfm)
		if err != nil {
			return added, deduped, fmt.Errorf("persisting page %d: %w", page, err)
		}
		added += batch.Inserted
		deduped += batch.Deduped
		state.eventsSynced += int64(batch.Inserted)
		metrics.EventsSyncedTotal.Add(float64(batch.Inserted))
		metrics.EventsDedupedTotal.Add(float64(batch.Deduped))

		o.resolveTracks(ctx, log, page, batch.Unresolved)

		chunkID := chunk.ID
		pageDone := page
		if err := o.store.UpdateCheckpoint(ctx, SyncTypeLastfm, db.CheckpointPatch{
			CurrentChunk: &chunkID,
			LastPage:     &pageDone,
			EventsSynced: &state.eventsSynced,
			APICalls:     &state.apiCalls,
		}); err != nil {
			return added, deduped, fmt.Errorf("checkpointing page %d: %w", page, err)
		}

		log.Debug().
			Int("page", page).
			Int("total_pages", info.TotalPages).
			Int("inserted", batch.Inserted).
			Int("deduped", batch.Deduped).
			Msg("page persisted")

		if info.LastPage() {
			break
		}
		page++
	}
	return added, deduped, nil
}

// resolveTracks attempts a catalog match for each track the batch left
// without a Spotify ID. Match failures and collisions never fail the chunk;
// unmatched tracks are revisited by the backfill pass.
func (o *Orchestrator) resolveTracks(ctx context.Context, log zerolog.Logger, page int, unresolved []UnresolvedTrack) {
	for _, t := range unresolved {
		candidate, err := o.matcher.Match(ctx, t.Name, t.Artist, t.Album)
		if err != nil {
			metrics.RecordMatchOutcome(metrics.OutcomeError)
			log.Warn().Err(err).Int("page", page).Str("track", t.Name).Str("artist", t.Artist).Msg("catalog search failed")
			continue
		}
		if candidate == nil {
			metrics.RecordMatchOutcome(metrics.OutcomeNoMatch)
			log.Debug().Int("page", page).Str("track", t.Name).Str("artist", t.Artist).Msg("no catalog match")
			continue
		}

		outcome, err := o.store.AssignSpotifyID(ctx, t.TrackID, t.ArtistID, candidate)
		if err != nil {
			metrics.RecordMatchOutcome(metrics.OutcomeError)
			log.Warn().Err(err).Int("page", page).Str("track", t.Name).Str("spotify_id", candidate.ID).Msg("assigning spotify id failed")
			continue
		}
		switch outcome {
		case Assigned:
			metrics.RecordMatchOutcome(metrics.OutcomeMatched)
		case Collision:
			metrics.RecordMatchOutcome(metrics.OutcomeCollision)
			log.Info().
				Int("page", page).
				Str("track", t.Name).
				Str("artist", t.Artist).
				Str("spotify_id", candidate.ID).
				Msg("spotify id already held by another track, leaving unmatched")
		case AlreadySet:
		}
	}
}

// Reset clears the sync checkpoint back to idle, discarding resume state.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.store.ResetCheckpoint(ctx, SyncTypeLastfm); err != nil {
		return fmt.Errorf("resetting checkpoint: %w", err)
	}
	o.log.Info().Msg("sync checkpoint reset")
	return nil
}
