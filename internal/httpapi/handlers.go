package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/planzut/plan-sync/internal/runs"
	"github.com/planzut/plan-sync/internal/schedule"
	"github.com/planzut/plan-sync/internal/student"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type syncRequest struct {
	TokName    string `json:"tok_name"`
	Start      string `json:"start"`
	End        string `json:"end"`
	MaxWorkers int    `json:"max_workers"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokName := strings.TrimSpace(req.TokName)
	if tokName == "" {
		tokName = s.defaultTokName
	}
	if tokName == "" {
		writeError(w, http.StatusBadRequest, "tok_name is required")
		return
	}

	rng, err := schedule.SyncBounds(req.Start, req.End, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.manager.Start(tokName, rng, s.workers(req.MaxWorkers))
	if err != nil {
		if errors.Is(err, runs.ErrRunConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID})
}

func (s *Server) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id, ok := s.manager.Active(); ok {
		writeJSON(w, http.StatusOK, map[string]any{"run_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": nil})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	run, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type groupsResponse struct {
	TokName string   `json:"tok_name"`
	RunID   *string  `json:"run_id"`
	Groups  []string `json:"groups"`
}

// handleListGroups serves a run's group set: the live in-memory set for a
// run driven by this process, the persisted snapshot otherwise. Without a
// run_id the latest successful run answers, falling back to the canonical
// per-tok set.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tokName := strings.TrimSpace(r.URL.Query().Get("tok_name"))
	if tokName == "" {
		tokName = s.defaultTokName
	}
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))

	if runID == "" {
		latest, ok, err := s.store.LatestSuccessfulRun(r.Context(), tokName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			groups, err := s.store.ListGroups(r.Context(), tokName)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, groupsResponse{TokName: tokName, Groups: groups})
			return
		}
		runID = latest.ID
	}

	groups, ok := s.manager.LiveGroups(runID)
	if !ok {
		var err error
		groups, err = s.store.ListRunGroups(r.Context(), runID, tokName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, groupsResponse{TokName: tokName, RunID: &runID, Groups: groups})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type studentRequest struct {
	AlbumNumber  string `json:"album_number"`
	MajorsCount  int    `json:"majors_count"`
	WeekStart    string `json:"week_start"`
	RangeStart   string `json:"range_start"`
	RangeEnd     string `json:"range_end"`
	ForceRefresh bool   `json:"force_refresh"`
	MaxWorkers   int    `json:"max_workers"`
}

func (s *Server) handleStudentEnsure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req studentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MajorsCount == 0 {
		req.MajorsCount = 1
	}

	resp, err := s.resolver.Ensure(r.Context(), student.EnsureRequest{
		Album:       req.AlbumNumber,
		MajorsCount: req.MajorsCount,
		WeekStart:   req.WeekStart,
		RangeStart:  req.RangeStart,
		RangeEnd:    req.RangeEnd,
		Force:       req.ForceRefresh,
		Workers:     s.workers(req.MaxWorkers),
	})
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStudentWeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req studentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.resolver.Week(r.Context(), student.WeekRequest{
		Album:      req.AlbumNumber,
		WeekStart:  req.WeekStart,
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		Force:      req.ForceRefresh,
		Workers:    s.workers(req.MaxWorkers),
	})
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeStudentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, student.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, student.ErrUnknownStudent):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) workers(requested int) int {
	if requested < 1 {
		return s.defaultWorkers
	}
	if requested > 32 {
		return 32
	}
	return requested
}

// decodeBody fills out from the request body; an empty body means "all
// defaults".
func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil && err != io.EOF {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
