package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/db"
	"github.com/kpetersen/scrobblesync/internal/lastfm"
	"github.com/kpetersen/scrobblesync/internal/spotify"
)

// memStorage is an in-memory Storage with the same upsert, dedup and
// uniqueness semantics as the database layer.
type memStorage struct {
	checkpoints map[string]db.Checkpoint

	nextID        int64
	tracksByKey   map[string]*memTrack
	tracksByID    map[int64]*memTrack
	artistIDs     map[string]int64
	artistSpotify map[int64]*string
	plays         map[string]time.Time // "trackID|unix" -> played_at
	spotifyOwner  map[string]int64     // spotify id -> track id

	saveCalls    int
	failSaveCall int // 1-based call number that fails, 0 = never
}

type memTrack struct {
	id        int64
	name      string
	album     string
	artistID  int64
	artist    string
	spotifyID *string
}

func newMemStorage() *memStorage {
	return &memStorage{
		checkpoints:   make(map[string]db.Checkpoint),
		tracksByKey:   make(map[string]*memTrack),
		tracksByID:    make(map[int64]*memTrack),
		artistIDs:     make(map[string]int64),
		artistSpotify: make(map[int64]*string),
		plays:         make(map[string]time.Time),
		spotifyOwner:  make(map[string]int64),
	}
}

func (m *memStorage) Checkpoint(_ context.Context, syncType string) (*db.Checkpoint, error) {
	cp, ok := m.checkpoints[syncType]
	if !ok {
		cp = db.Checkpoint{SyncType: syncType, Status: db.SyncIdle, LastPage: 1}
		m.checkpoints[syncType] = cp
	}
	copied := cp
	return &copied, nil
}

func (m *memStorage) UpdateCheckpoint(_ context.Context, syncType string, patch db.CheckpointPatch) error {
	cp, ok := m.checkpoints[syncType]
	if !ok {
		return db.ErrNotFound
	}
	if patch.Status != nil {
		cp.Status = *patch.Status
	}
	if patch.CurrentChunk != nil {
		cp.CurrentChunk = patch.CurrentChunk
	}
	if patch.LastPage != nil {
		cp.LastPage = *patch.LastPage
	}
	if patch.ChunksCompleted != nil {
		cp.ChunksCompleted = *patch.ChunksCompleted
	}
	if patch.EventsSynced != nil {
		cp.EventsSynced = *patch.EventsSynced
	}
	if patch.APICalls != nil {
		cp.APICalls = *patch.APICalls
	}
	if patch.StartedAt != nil {
		cp.StartedAt = patch.StartedAt
	}
	if patch.ErrorCount != nil {
		cp.ErrorCount = *patch.ErrorCount
	}
	if patch.LastError != nil {
		cp.LastError = patch.LastError
	}
	cp.UpdatedAt = time.Now()
	m.checkpoints[syncType] = cp
	return nil
}

func (m *memStorage) ResetCheckpoint(_ context.Context, syncType string) error {
	if _, ok := m.checkpoints[syncType]; !ok {
		return db.ErrNotFound
	}
	m.checkpoints[syncType] = db.Checkpoint{
		SyncType: syncType,
		Status:   db.SyncIdle,
		LastPage: 1,
	}
	return nil
}

func (m *memStorage) LatestPlayedAt(_ context.Context, _ string) (*time.Time, error) {
	var latest *time.Time
	for _, playedAt := range m.plays {
		if latest == nil || playedAt.After(*latest) {
			t := playedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *memStorage) SavePlays(_ context.Context, events []lastfm.PlayEvent, _ string) (*BatchResult, error) {
	m.saveCalls++
	if m.failSaveCall > 0 && m.saveCalls == m.failSaveCall {
		return nil, errors.New("storage failure")
	}

	result := &BatchResult{}
	seen := make(map[int64]bool)
	for _, e := range events {
		artistID, ok := m.artistIDs[e.Artist]
		if !ok {
			m.nextID++
			artistID = m.nextID
			m.artistIDs[e.Artist] = artistID
		}

		key := e.Track + "|" + e.Artist + "|" + e.Album
		track, ok := m.tracksByKey[key]
		if !ok {
			m.nextID++
			track = &memTrack{
				id:       m.nextID,
				name:     e.Track,
				album:    e.Album,
				artistID: artistID,
				artist:   e.Artist,
			}
			m.tracksByKey[key] = track
			m.tracksByID[track.id] = track
		}

		playKey := fmt.Sprintf("%d|%d", track.id, e.PlayedAt.Unix())
		if _, dup := m.plays[playKey]; dup {
			result.Deduped++
		} else {
			m.plays[playKey] = e.PlayedAt
			result.Inserted++
		}

		if track.spotifyID == nil && !seen[track.id] {
			seen[track.id] = true
			result.Unresolved = append(result.Unresolved, UnresolvedTrack{
				TrackID:  track.id,
				ArtistID: artistID,
				Name:     e.Track,
				Artist:   e.Artist,
				Album:    e.Album,
			})
		}
	}
	return result, nil
}

func (m *memStorage) AssignSpotifyID(_ context.Context, trackID, artistID int64, c *spotify.Candidate) (AssignOutcome, error) {
	if owner, ok := m.spotifyOwner[c.ID]; ok && owner != trackID {
		return Collision, nil
	}
	track, ok := m.tracksByID[trackID]
	if !ok {
		return Collision, db.ErrNotFound
	}
	if track.spotifyID != nil {
		return AlreadySet, nil
	}
	id := c.ID
	track.spotifyID = &id
	m.spotifyOwner[c.ID] = trackID
	if m.artistSpotify[artistID] == nil && len(c.ArtistIDs) > 0 {
		aid := c.ArtistIDs[0]
		m.artistSpotify[artistID] = &aid
	}
	return Assigned, nil
}

func (m *memStorage) UnmatchedTracks(_ context.Context, afterID int64, limit int) ([]db.UnmatchedTrack, error) {
	ids := make([]int64, 0, len(m.tracksByID))
	for id, t := range m.tracksByID {
		if id > afterID && t.spotifyID == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	tracks := make([]db.UnmatchedTrack, 0, len(ids))
	for _, id := range ids {
		t := m.tracksByID[id]
		tracks = append(tracks, db.UnmatchedTrack{
			ID:       t.id,
			Name:     t.name,
			ArtistID: t.artistID,
			Artist:   t.artist,
			Album:    t.album,
		})
	}
	return tracks, nil
}

func (m *memStorage) spotifyIDOf(name, artist, album string) *string {
	track, ok := m.tracksByKey[name+"|"+artist+"|"+album]
	if !ok {
		return nil
	}
	return track.spotifyID
}

// fakeSource pages a fixture history the way the real API does: only events
// inside [from, to], newest first, in fixed-size pages. Setting cancelOnCall
// simulates a crash by canceling the run's context on the nth RecentTracks
// call.
type fakeSource struct {
	registered time.Time
	events     []lastfm.PlayEvent
	pageSize   int // defaults to 50

	calls        int
	cancelOnCall int
	cancel       context.CancelFunc
}

func (f *fakeSource) RecentTracks(ctx context.Context, from, to time.Time, page int) ([]lastfm.PlayEvent, lastfm.PageInfo, error) {
	f.calls++
	if f.cancelOnCall > 0 && f.calls >= f.cancelOnCall {
		f.cancel()
		return nil, lastfm.PageInfo{}, ctx.Err()
	}

	var window []lastfm.PlayEvent
	for _, e := range f.events {
		if e.PlayedAt.Before(from) || e.PlayedAt.After(to) {
			continue
		}
		window = append(window, e)
	}
	sort.Slice(window, func(i, j int) bool { return window[i].PlayedAt.After(window[j].PlayedAt) })

	size := f.pageSize
	if size == 0 {
		size = 50
	}
	totalPages := (len(window) + size - 1) / size
	info := lastfm.PageInfo{Page: page, PerPage: size, TotalPages: totalPages, Total: len(window)}

	start := (page - 1) * size
	if start >= len(window) {
		return nil, info, nil
	}
	end := start + size
	if end > len(window) {
		end = len(window)
	}
	return window[start:end], info, nil
}

func (f *fakeSource) UserInfo(_ context.Context) (*lastfm.UserInfo, error) {
	return &lastfm.UserInfo{Name: "listener", Registered: f.registered}, nil
}

// nilMatcher never matches.
type nilMatcher struct{}

func (nilMatcher) Match(_ context.Context, _, _, _ string) (*spotify.Candidate, error) {
	return nil, nil
}

// stubMatcher returns a fixed candidate per (track, artist) key and counts
// searches.
type stubMatcher struct {
	candidates map[string]*spotify.Candidate
	calls      int
}

func (s *stubMatcher) Match(_ context.Context, track, artist, _ string) (*spotify.Candidate, error) {
	s.calls++
	return s.candidates[track+"|"+artist], nil
}

var (
	testNow        = time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC)
	testRegistered = time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC)
)

// fixtureHistory builds 100 hourly events per month for Jan through Mar
// 2024: 3 chunks of 2 pages each at the default page size, 300 distinct
// timestamps in total.
func fixtureHistory() []lastfm.PlayEvent {
	var events []lastfm.PlayEvent
	for _, month := range []time.Time{
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	} {
		base := month.AddDate(0, 0, 5)
		for n := 0; n < 100; n++ {
			events = append(events, lastfm.PlayEvent{
				Artist:   fmt.Sprintf("Artist %d", n%5),
				Track:    fmt.Sprintf("Track %d", n%25),
				Album:    fmt.Sprintf("Album %d", n%3),
				PlayedAt: base.Add(time.Duration(n) * time.Hour),
			})
		}
	}
	return events
}

func testOrchestrator(source EventSource, matcher TrackMatcher, store Storage, opts ...Option) *Orchestrator {
	base := []Option{WithClock(func() time.Time { return testNow })}
	return New(source, matcher, store, zerolog.Nop(), append(base, opts...)...)
}

func TestRunSyncsFullHistory(t *testing.T) {
	store := newMemStorage()
	source := &fakeSource{registered: testRegistered, events: fixtureHistory()}
	orch := testOrchestrator(source, nilMatcher{}, store)

	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.EventsAdded != 300 {
		t.Errorf("EventsAdded = %d, want 300", result.EventsAdded)
	}
	if result.ChunksProcessed != 3 {
		t.Errorf("ChunksProcessed = %d, want 3", result.ChunksProcessed)
	}
	if len(store.plays) != 300 {
		t.Errorf("stored plays = %d, want 300", len(store.plays))
	}

	cp := store.checkpoints[SyncTypeLastfm]
	if cp.Status != db.SyncCompleted {
		t.Errorf("status = %q, want %q", cp.Status, db.SyncCompleted)
	}
	if cp.ChunksCompleted != 3 {
		t.Errorf("chunks_completed = %d, want 3", cp.ChunksCompleted)
	}
	if cp.EventsSynced != 300 {
		t.Errorf("events_synced = %d, want 300", cp.EventsSynced)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	store := newMemStorage()
	source := &fakeSource{registered: testRegistered, events: fixtureHistory()}
	orch := testOrchestrator(source, nilMatcher{}, store)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if result.EventsAdded != 0 {
		t.Errorf("second run EventsAdded = %d, want 0", result.EventsAdded)
	}
	if len(store.plays) != 300 {
		t.Errorf("stored plays after rerun = %d, want 300", len(store.plays))
	}
	if cp := store.checkpoints[SyncTypeLastfm]; cp.Status != db.SyncCompleted {
		t.Errorf("status = %q, want %q", cp.Status, db.SyncCompleted)
	}
}

func TestRunResumesAfterCrash(t *testing.T) {
	store := newMemStorage()

	// Crash on the 4th fetch: chunk 1 takes calls 1-2, chunk 2 page 1 is
	// call 3 and is persisted and checkpointed before the crash. Pages are
	// newest first, so the persisted half of chunk 2 is its newest events.
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{
		registered:   testRegistered,
		events:       fixtureHistory(),
		cancelOnCall: 4,
		cancel:       cancel,
	}
	orch := testOrchestrator(source, nilMatcher{}, store)

	if _, err := orch.Run(ctx); err == nil {
		t.Fatal("Run() succeeded, want cancellation error")
	}

	cp := store.checkpoints[SyncTypeLastfm]
	if cp.Status != db.SyncRunning {
		t.Fatalf("status after crash = %q, want %q", cp.Status, db.SyncRunning)
	}
	if cp.CurrentChunk == nil || *cp.CurrentChunk != "2024-02" {
		t.Fatalf("current_chunk after crash = %v, want 2024-02", cp.CurrentChunk)
	}
	if cp.LastPage != 1 {
		t.Fatalf("last_page after crash = %d, want 1", cp.LastPage)
	}
	if len(store.plays) != 150 {
		t.Fatalf("stored plays after crash = %d, want 150", len(store.plays))
	}

	// Restart with a fresh context and no forced crash.
	source.cancelOnCall = 0
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("restarted Run() error = %v", err)
	}

	if len(store.plays) != 300 {
		t.Errorf("stored plays after restart = %d, want 300", len(store.plays))
	}
	if result.EventsAdded != 150 {
		t.Errorf("restarted run EventsAdded = %d, want 150", result.EventsAdded)
	}
	cp = store.checkpoints[SyncTypeLastfm]
	if cp.Status != db.SyncCompleted {
		t.Errorf("status after restart = %q, want %q", cp.Status, db.SyncCompleted)
	}
	if cp.EventsSynced != 300 {
		t.Errorf("events_synced after restart = %d, want 300", cp.EventsSynced)
	}
}

func TestRunRecoversOlderEventsInInterruptedChunk(t *testing.T) {
	store := newMemStorage()

	// One month of history, four pages of 25. The first fetch returns the
	// newest quarter, which is persisted and checkpointed; the crash lands
	// on the second. The stored high-water mark now sits above every
	// unfetched event, so a restart that opened the window there would
	// never see them again.
	base := time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)
	var events []lastfm.PlayEvent
	for n := 0; n < 100; n++ {
		events = append(events, lastfm.PlayEvent{
			Artist:   fmt.Sprintf("Artist %d", n%5),
			Track:    fmt.Sprintf("Track %d", n%10),
			PlayedAt: base.Add(time.Duration(n) * time.Hour),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{
		registered:   time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		events:       events,
		pageSize:     25,
		cancelOnCall: 2,
		cancel:       cancel,
	}
	orch := testOrchestrator(source, nilMatcher{}, store)

	if _, err := orch.Run(ctx); err == nil {
		t.Fatal("Run() succeeded, want cancellation error")
	}
	if len(store.plays) != 25 {
		t.Fatalf("stored plays after crash = %d, want 25", len(store.plays))
	}

	source.cancelOnCall = 0
	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("restarted Run() error = %v", err)
	}

	if len(store.plays) != 100 {
		t.Errorf("stored plays after restart = %d, want 100", len(store.plays))
	}
	if cp := store.checkpoints[SyncTypeLastfm]; cp.Status != db.SyncCompleted {
		t.Errorf("status after restart = %q, want %q", cp.Status, db.SyncCompleted)
	}
}

func TestRecoveryStart(t *testing.T) {
	from := time.Date(2024, time.February, 10, 2, 55, 0, 0, time.UTC)
	february := "2024-02"
	march := "2024-03"

	tests := []struct {
		name string
		cp   db.Checkpoint
		want time.Time
	}{
		{
			name: "interrupted chunk reopens at its month start",
			cp:   db.Checkpoint{Status: db.SyncRunning, CurrentChunk: &february},
			want: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "errored chunk reopens at its month start",
			cp:   db.Checkpoint{Status: db.SyncError, CurrentChunk: &february},
			want: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "completed run keeps the high-water window",
			cp:   db.Checkpoint{Status: db.SyncCompleted, CurrentChunk: &february},
			want: from,
		},
		{
			name: "no checkpointed chunk keeps the window",
			cp:   db.Checkpoint{Status: db.SyncIdle},
			want: from,
		},
		{
			name: "chunk at or after the window start keeps the window",
			cp:   db.Checkpoint{Status: db.SyncRunning, CurrentChunk: &march},
			want: from,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recoveryStart(from, &tt.cp)
			if !got.Equal(tt.want) {
				t.Errorf("recoveryStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunContinuesPastFailedChunk(t *testing.T) {
	store := newMemStorage()
	store.failSaveCall = 3 // first batch of chunk 2
	source := &fakeSource{registered: testRegistered, events: fixtureHistory()}
	orch := testOrchestrator(source, nilMatcher{}, store)

	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ChunksProcessed != 2 {
		t.Errorf("ChunksProcessed = %d, want 2", result.ChunksProcessed)
	}
	if len(store.plays) != 200 {
		t.Errorf("stored plays = %d, want 200", len(store.plays))
	}
	cp := store.checkpoints[SyncTypeLastfm]
	if cp.Status != db.SyncCompleted {
		t.Errorf("status = %q, want %q", cp.Status, db.SyncCompleted)
	}
	if cp.LastError == nil {
		t.Error("last_error not recorded for failed chunk")
	}
}

func TestRunAbortsAtErrorCeiling(t *testing.T) {
	store := &failingStorage{memStorage: newMemStorage()}
	source := &fakeSource{registered: testRegistered, events: fixtureHistory()}
	orch := testOrchestrator(source, nilMatcher{}, store, WithErrorCeiling(3))

	_, err := orch.Run(context.Background())
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("Run() error = %v, want ErrTooManyFailures", err)
	}

	cp := store.checkpoints[SyncTypeLastfm]
	if cp.Status != db.SyncError {
		t.Errorf("status = %q, want %q", cp.Status, db.SyncError)
	}
	if cp.ErrorCount != 3 {
		t.Errorf("error_count = %d, want 3", cp.ErrorCount)
	}
}

// failingStorage fails every batch persist.
type failingStorage struct {
	*memStorage
}

func (f *failingStorage) SavePlays(_ context.Context, _ []lastfm.PlayEvent, _ string) (*BatchResult, error) {
	return nil, errors.New("storage failure")
}

func TestRunAssignsMatchesAndLeavesCollisionsUnmatched(t *testing.T) {
	store := newMemStorage()
	events := []lastfm.PlayEvent{
		{Artist: "Artist", Track: "Song A", PlayedAt: time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC)},
		{Artist: "Artist", Track: "Song B", PlayedAt: time.Date(2024, time.March, 2, 11, 0, 0, 0, time.UTC)},
	}
	source := &fakeSource{registered: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), events: events}

	shared := &spotify.Candidate{ID: "abc123", Name: "Song", Artists: []string{"Artist"}, ArtistIDs: []string{"artist9"}}
	matcher := &stubMatcher{candidates: map[string]*spotify.Candidate{
		"Song A|Artist": shared,
		"Song B|Artist": shared,
	}}
	orch := testOrchestrator(source, matcher, store)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Pages are newest first, so Song B is resolved first and wins the ID;
	// Song A collides and stays unmatched.
	idA := store.spotifyIDOf("Song A", "Artist", "")
	idB := store.spotifyIDOf("Song B", "Artist", "")
	if idB == nil || *idB != "abc123" {
		t.Errorf("Song B spotify id = %v, want abc123", idB)
	}
	if idA != nil {
		t.Errorf("Song A spotify id = %v, want unmatched", *idA)
	}
}

func TestWindowStartPrefersHighWaterMark(t *testing.T) {
	store := newMemStorage()
	played := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	store.plays["1|"+fmt.Sprint(played.Unix())] = played

	source := &fakeSource{registered: testRegistered}
	orch := testOrchestrator(source, nilMatcher{}, store, WithResumeOverlap(5*time.Minute))

	from, err := orch.windowStart(context.Background())
	if err != nil {
		t.Fatalf("windowStart() error = %v", err)
	}
	want := played.Add(-5 * time.Minute)
	if !from.Equal(want) {
		t.Errorf("windowStart() = %v, want %v", from, want)
	}
}

func TestWindowStartFallsBackToRegistration(t *testing.T) {
	store := newMemStorage()
	source := &fakeSource{registered: testRegistered}
	orch := testOrchestrator(source, nilMatcher{}, store)

	from, err := orch.windowStart(context.Background())
	if err != nil {
		t.Fatalf("windowStart() error = %v", err)
	}
	if !from.Equal(testRegistered) {
		t.Errorf("windowStart() = %v, want %v", from, testRegistered)
	}
}
