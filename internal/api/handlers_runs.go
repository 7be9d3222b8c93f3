package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"taskschedule/internal/core"
	"taskschedule/internal/store"
)

type runResponse struct {
	ID          string  `json:"id"`
	TaskName    string  `json:"task_name"`
	Status      string  `json:"status"`
	ScheduledAt string  `json:"scheduled_at"`
	StartedAt   *string `json:"started_at,omitempty"`
	EndedAt     *string `json:"ended_at,omitempty"`
	ExitCode    *int    `json:"exit_code,omitempty"`
	Error       *string `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*core.Run, bool) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return nil, false
	}
	return run, true
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	runID := run.ID

	tail := parseIntDefault(r.URL.Query().Get("tail"), 0)
	follow := isTruthy(r.URL.Query().Get("follow"))

	logPath := s.store.RunLogPath(runID)
	file, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "log not found")
		} else {
			s.logger.Error("open log", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		}
		return
	}
	defer file.Close()

	if !follow {
		data, err := readTailLines(file, tail)
		if err != nil {
			s.logger.Error("read log", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported", "streaming not supported")
		return
	}
	data, err := readTailLines(file, tail)
	if err != nil {
		s.logger.Error("read log", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if len(data) > 0 {
		_, _ = w.Write(data)
		if data[len(data)-1] != '\n' {
			_, _ = w.Write([]byte("\n"))
		}
	}
	flusher.Flush()
	s.followLog(r, w, flusher, file, run)
}

// followLog streams bytes appended to file until the run finishes and the
// log stops growing.
func (s *Server) followLog(r *http.Request, w http.ResponseWriter, flusher http.Flusher, file *os.File, run *core.Run) {
	offset, _ := file.Seek(0, io.SeekEnd)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			pos, err := file.Seek(0, io.SeekEnd)
			if err != nil {
				return
			}
			if pos > offset {
				buf := make([]byte, pos-offset)
				if _, err := file.ReadAt(buf, offset); err == nil {
					_, _ = w.Write(buf)
					flusher.Flush()
				}
				offset = pos
			}
			if !isRunFinished(run.Status) {
				if refreshed, err := s.store.GetRun(r.Context(), run.ID); err == nil {
					run = refreshed
				}
			}
			if isRunFinished(run.Status) && pos == offset {
				return
			}
		}
	}
}

func runToResponse(run *core.Run) runResponse {
	return runResponse{
		ID:          run.ID,
		TaskName:    run.TaskName,
		Status:      string(run.Status),
		ScheduledAt: run.ScheduledAt.UTC().Format(time.RFC3339),
		StartedAt:   formatOptionalTime(run.StartedAt),
		EndedAt:     formatOptionalTime(run.EndedAt),
		ExitCode:    run.ExitCode,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func readTailLines(file *os.File, tail int) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if tail <= 0 {
		return data, nil
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func isTruthy(v string) bool {
	return strings.EqualFold(v, "1") || strings.EqualFold(v, "true")
}

func isRunFinished(status core.RunStatus) bool {
	switch status {
	case core.RunStatusQueued, core.RunStatusRunning:
		return false
	default:
		return true
	}
}
