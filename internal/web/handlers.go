package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kpetersen/scrobblesync/internal/db"
	"github.com/kpetersen/scrobblesync/internal/sync"
)

// LibraryCounts is the stored-library summary on the status endpoint.
type LibraryCounts struct {
	Plays   int64            `json:"plays"`
	Tracks  int64            `json:"tracks"`
	Artists int64            `json:"artists"`
	Sources []db.SourceCount `json:"sources,omitempty"`
}

type dbStats struct {
	db *db.DB
}

// NewStats wraps a database handle in the StatsProvider surface.
func NewStats(database *db.DB) StatsProvider {
	return &dbStats{db: database}
}

func (s *dbStats) Counts(ctx context.Context) (*LibraryCounts, error) {
	plays, err := s.db.Plays().Count(ctx)
	if err != nil {
		return nil, err
	}
	tracks, err := s.db.Tracks().Count(ctx)
	if err != nil {
		return nil, err
	}
	artists, err := s.db.Artists().Count(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := s.db.Plays().CountBySource(ctx)
	if err != nil {
		return nil, err
	}
	return &LibraryCounts{Plays: plays, Tracks: tracks, Artists: artists, Sources: sources}, nil
}

type statusResponse struct {
	Library *LibraryCounts `json:"library"`
	Sync    *sync.Progress `json:"sync"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.stats.Counts(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	progress, err := s.sync.Progress(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, statusResponse{Library: counts, Sync: progress})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.sync.Progress(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	// The run outlives the request; it is tied to the process, not the
	// requester's connection.
	err := s.trigger.TriggerAsync(context.Background())
	if errors.Is(err, sync.ErrSyncInProgress) {
		s.respondError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, messageResponse{Message: "sync started"})
}

func (s *Server) handleBackfill(w http.ResponseWriter, _ *http.Request) {
	if !s.backfillGate.TryLock() {
		s.respondError(w, http.StatusConflict, errors.New("backfill already in progress"))
		return
	}
	go func() {
		defer s.backfillGate.Unlock()
		result, err := s.backfill.Run(context.Background())
		if err != nil {
			s.log.Error().Err(err).Msg("backfill failed")
			return
		}
		s.log.Info().
			Int("examined", result.Examined).
			Int("matched", result.Matched).
			Msg("backfill finished")
	}()
	s.respondJSON(w, http.StatusAccepted, messageResponse{Message: "backfill started"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.Reset(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "checkpoint reset"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error()})
}
