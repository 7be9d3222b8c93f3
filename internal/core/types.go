package core

import (
	"time"
)

// RunStatus describes the state of an individual execution.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
	RunStatusSkipped   RunStatus = "skipped"
)

// Task is a registered daily task in the local registry.
type Task struct {
	Name               string
	Description        string
	LogonType          int
	StartWhenAvailable bool
	TriggerID          string
	StartBoundary      string
	EndBoundary        string
	DaysInterval       int
	ExecPath           string
	ExecArgs           string
	WorkingDir         string
	Enabled            bool
	LastRunAt          *time.Time
	NextRunAt          *time.Time
	RegisteredAt       time.Time
	UpdatedAt          time.Time
}

// Run captures a single execution attempt of a task.
type Run struct {
	ID          string
	TaskName    string
	Status      RunStatus
	ScheduledAt time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	ExitCode    *int
	Error       *string
	CreatedAt   time.Time
}
