package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/stationwatch/internal/poller"
	"github.com/jpalmerr/stationwatch/snapshot"
)

// stationsRequest is the body of the batch and scheduler endpoints.
type stationsRequest struct {
	StationIDs []string `json:"stationIds"`
}

type stationView struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Enabled bool              `json:"enabled"`
	Labels  map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	sources := s.stations.Sources()
	views := make([]stationView, 0, len(sources))
	for _, src := range sources {
		views = append(views, stationView{
			ID:      src.ID,
			Name:    src.Name,
			URL:     src.Locator,
			Enabled: src.Enabled,
			Labels:  src.Labels,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	snap, err := s.control.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	delta, err := s.control.CheckNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    delta.Current,
		"changes": delta,
	})
}

// handleBatch looks stations up one after another. Unknown ids are skipped.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStations(w, r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]snapshot.Snapshot, 0, len(req.StationIDs))
	for _, id := range req.StationIDs {
		snap, err := s.control.Snapshot(r.Context(), id)
		if errors.Is(err, poller.ErrUnknownSource) {
			continue
		}
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		results = append(results, snap)
	}
	writeJSON(w, http.StatusOK, results)
}

// handleSchedulerStart replaces the active set when ids are given, then
// starts the scheduler.
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStations(w, r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StationIDs != nil {
		s.control.SetActiveSources(req.StationIDs)
	}

	started := s.control.Start()
	msg := "Scheduler started"
	if !started {
		msg = "Scheduler already running"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"started": started,
		"message": msg,
		"status":  s.control.Status(),
	})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.control.Stop()
	msg := "Scheduler stopped"
	if !stopped {
		msg = "Scheduler not running"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stopped": stopped,
		"message": msg,
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.Status())
}

func (s *Server) handleSchedulerStations(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStations(w, r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.control.SetActiveSources(req.StationIDs)
	writeJSON(w, http.StatusOK, s.control.Status())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ttlMs":   s.cache.TTL().Milliseconds(),
		"entries": s.cache.Stats(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n := s.cache.InvalidateAll()
	s.logger.Info().Int("entries", n).Msg("cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": s.cache.Invalidate(chi.URLParam(r, "id")),
	})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"removed": s.history.Reset()})
}

func (s *Server) handleHistoryForget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": s.history.Forget(chi.URLParam(r, "id")),
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, poller.ErrUnknownSource) {
		writeError(w, http.StatusNotFound, "Station not found")
		return
	}
	s.logger.Warn().Err(err).Msg("station lookup failed")
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

// decodeStations reads a stationsRequest. An empty body is accepted unless
// required is set.
func decodeStations(w http.ResponseWriter, r *http.Request, required bool) (stationsRequest, error) {
	var req stationsRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return req, nil
		}
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if required && req.StationIDs == nil {
		return req, errors.New("stationIds must be an array")
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
