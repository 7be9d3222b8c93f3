package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"taskschedule/internal/core"
	"taskschedule/internal/datespec"
	"taskschedule/internal/taskservice"
	"taskschedule/internal/workflow"
)

const previewOccurrences = 5

type scheduleTaskRequest struct {
	Name       string   `json:"name"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	StartTime  string   `json:"start_time"`
	Executable string   `json:"executable"`
	Arguments  []string `json:"arguments"`
}

type updateTaskRequest struct {
	Enabled *bool `json:"enabled"`
}

type boundaryPreviewRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
}

type boundaryPreviewResponse struct {
	StartBoundary string   `json:"start_boundary"`
	EndBoundary   string   `json:"end_boundary,omitempty"`
	NextRuns      []string `json:"next_runs"`
}

type taskResponse struct {
	Name               string  `json:"name"`
	StartBoundary      string  `json:"start_boundary"`
	EndBoundary        string  `json:"end_boundary,omitempty"`
	DaysInterval       int     `json:"days_interval"`
	Executable         string  `json:"executable"`
	Arguments          string  `json:"arguments,omitempty"`
	WorkingDir         string  `json:"working_dir,omitempty"`
	LogonType          string  `json:"logon_type"`
	StartWhenAvailable bool    `json:"start_when_available"`
	Enabled            bool    `json:"enabled"`
	Scheduled          bool    `json:"scheduled"`
	LastRunAt          *string `json:"last_run_at,omitempty"`
	NextRunAt          *string `json:"next_run_at,omitempty"`
	RegisteredAt       string  `json:"registered_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func (s *Server) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	var body scheduleTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if s.workflow.ScheduleDailyExecutableTask(r.Context(), req) != workflow.ResultOK {
		writeError(w, http.StatusInternalServerError, "schedule_failed", "failed to schedule task")
		return
	}
	if err := s.engine.Sync(r.Context()); err != nil {
		s.logger.Error("sync after schedule", "task", req.TaskName, "err", err)
	}

	task, err := s.store.GetTask(r.Context(), req.TaskName)
	if err != nil {
		s.logger.Error("get scheduled task", "task", req.TaskName, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	writeJSON(w, http.StatusCreated, s.taskToResponse(task))
}

func (b scheduleTaskRequest) toRequest() (workflow.Request, error) {
	req := workflow.Request{
		TaskName:       strings.TrimSpace(b.Name),
		ExecutablePath: strings.TrimSpace(b.Executable),
		Arguments:      b.Arguments,
	}
	var err error
	if req.StartDate, req.EndDate, req.DailyStartTime, err = parseWindow(b.StartDate, b.EndDate, b.StartTime); err != nil {
		return req, err
	}
	return req, req.Validate()
}

func parseWindow(startDate, endDate, startTime string) (datespec.DateSpec, datespec.DateSpec, datespec.TimeSpec, error) {
	var (
		start, end datespec.DateSpec
		at         datespec.TimeSpec
		err        error
	)
	if start, err = datespec.ParseDate(strings.TrimSpace(startDate)); err != nil {
		return start, end, at, fmt.Errorf("start_date: %w", err)
	}
	if endDate = strings.TrimSpace(endDate); endDate != "" {
		if end, err = datespec.ParseDate(endDate); err != nil {
			return start, end, at, fmt.Errorf("end_date: %w", err)
		}
	}
	if at, err = datespec.ParseTime(strings.TrimSpace(startTime)); err != nil {
		return start, end, at, fmt.Errorf("start_time: %w", err)
	}
	return start, end, at, nil
}

func (s *Server) handleBoundaryPreview(w http.ResponseWriter, r *http.Request) {
	var body boundaryPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	start, end, at, err := parseWindow(body.StartDate, body.EndDate, body.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	var resp boundaryPreviewResponse
	if resp.StartBoundary, err = datespec.FormatBoundary(start, at); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if !end.IsZero() {
		if resp.EndBoundary, err = datespec.FormatBoundary(end, datespec.TimeSpec{}); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
	}
	schedule, err := core.NewDailySchedule(resp.StartBoundary, resp.EndBoundary, 1, s.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	resp.NextRuns = make([]string, 0, previewOccurrences)
	for _, next := range schedule.NextOccurrences(s.now().In(s.location), previewOccurrences) {
		resp.NextRuns = append(resp.NextRuns, next.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, s.taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "enabled is required")
		return
	}

	if *req.Enabled != task.Enabled {
		if err := s.store.SetTaskEnabled(r.Context(), task.Name, *req.Enabled); err != nil {
			if errors.Is(err, taskservice.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "task not found")
				return
			}
			s.logger.Error("update task", "task", task.Name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
			return
		}
		if err := s.engine.Sync(r.Context()); err != nil {
			s.logger.Error("sync after update", "task", task.Name, "err", err)
		}
	}

	updated, err := s.store.GetTask(r.Context(), task.Name)
	if err != nil {
		s.logger.Error("reload task", "task", task.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(updated))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "taskName")
	// The workflow cannot tell a missing task from a failed delete.
	if !s.workflow.DeleteTask(r.Context(), name) {
		writeError(w, http.StatusNotFound, "not_found", "task not found or could not be deleted")
		return
	}
	s.engine.RemoveTask(name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	run, err := s.engine.RunTaskNow(r.Context(), task)
	if err != nil {
		if errors.Is(err, core.ErrTaskRunning) {
			writeError(w, http.StatusConflict, "conflict", "task is already running")
			return
		}
		s.logger.Error("run task now", "task", task.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	runs, err := s.store.ListRuns(r.Context(), task.Name, limit, offset)
	if err != nil {
		s.logger.Error("list runs", "task", task.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*core.Task, bool) {
	name := chi.URLParam(r, "taskName")
	task, err := s.store.GetTask(r.Context(), name)
	if err != nil {
		if errors.Is(err, taskservice.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task", name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return nil, false
	}
	return task, true
}

func (s *Server) taskToResponse(task *core.Task) taskResponse {
	return taskResponse{
		Name:               task.Name,
		StartBoundary:      task.StartBoundary,
		EndBoundary:        task.EndBoundary,
		DaysInterval:       task.DaysInterval,
		Executable:         task.ExecPath,
		Arguments:          task.ExecArgs,
		WorkingDir:         task.WorkingDir,
		LogonType:          taskservice.LogonType(task.LogonType).String(),
		StartWhenAvailable: task.StartWhenAvailable,
		Enabled:            task.Enabled,
		Scheduled:          s.engine.Scheduled(task.Name),
		LastRunAt:          formatOptionalTime(task.LastRunAt),
		NextRunAt:          formatOptionalTime(task.NextRunAt),
		RegisteredAt:       task.RegisteredAt.UTC().Format(time.RFC3339),
		UpdatedAt:          task.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
