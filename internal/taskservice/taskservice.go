// Package taskservice describes the task scheduling service the workflow runs
// against. Implementations sit behind Service: the Windows Task Scheduler on
// Windows and a local registry elsewhere.
package taskservice

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrTaskExists            = errors.New("task already exists")
	ErrUnsupportedDefinition = errors.New("unsupported task definition")
)

// LogonType selects the security context a task runs in. Values match
// TASK_LOGON_TYPE.
type LogonType int

const (
	LogonNone             LogonType = 0
	LogonPassword         LogonType = 1
	LogonS4U              LogonType = 2
	LogonInteractiveToken LogonType = 3
)

func (l LogonType) String() string {
	switch l {
	case LogonNone:
		return "none"
	case LogonPassword:
		return "password"
	case LogonS4U:
		return "s4u"
	case LogonInteractiveToken:
		return "interactive_token"
	default:
		return "unknown"
	}
}

// CreationMode controls how RegisterTask treats an existing task. Values
// match TASK_CREATION.
type CreationMode int

const (
	CreateOnly     CreationMode = 0x2
	UpdateOnly     CreationMode = 0x4
	CreateOrUpdate CreationMode = 0x6
)

// Service connects to the scheduling service.
type Service interface {
	// Connect opens the root task folder. Whatever the connection needs
	// (COM apartment, database handle) lives until Folder.Close.
	Connect(ctx context.Context) (Folder, error)
}

// Folder is the flat root namespace tasks are registered in.
type Folder interface {
	NewTaskDefinition() *Definition
	GetTask(ctx context.Context, name string) (*RegisteredTask, error)
	DeleteTask(ctx context.Context, name string) error
	RegisterTask(ctx context.Context, name string, def *Definition, mode CreationMode, logon LogonType) (*RegisteredTask, error)
	Close() error
}

// Definition is a task before registration.
type Definition struct {
	RegistrationInfo RegistrationInfo
	Principal        Principal
	Settings         Settings
	Triggers         []DailyTrigger
	Actions          []ExecAction
}

// RegistrationInfo carries descriptive fields.
type RegistrationInfo struct {
	Author      string
	Description string
}

// Principal is the identity a task runs as.
type Principal struct {
	LogonType LogonType
}

// Settings holds the task options the workflow sets.
type Settings struct {
	// StartWhenAvailable runs a missed occurrence as soon as possible.
	StartWhenAvailable bool
}

// DailyTrigger fires every DaysInterval days from StartBoundary until
// EndBoundary. Boundaries use the YYYY-MM-DDTHH:MM:SS format; an empty
// EndBoundary never expires.
type DailyTrigger struct {
	ID            string
	StartBoundary string
	EndBoundary   string
	DaysInterval  int
	Enabled       bool
}

// ExecAction runs an executable. Arguments is passed verbatim.
type ExecAction struct {
	Path             string
	Arguments        string
	WorkingDirectory string
}

// RegisteredTask is a task as the service reports it.
type RegisteredTask struct {
	Name       string
	Path       string
	Enabled    bool
	Definition Definition
	LastRunAt  *time.Time
	NextRunAt  *time.Time
}

// AddDailyTrigger appends a daily trigger and returns it for configuration.
func (d *Definition) AddDailyTrigger() *DailyTrigger {
	d.Triggers = append(d.Triggers, DailyTrigger{DaysInterval: 1, Enabled: true})
	return &d.Triggers[len(d.Triggers)-1]
}

// AddExecAction appends an exec action and returns it for configuration.
func (d *Definition) AddExecAction() *ExecAction {
	d.Actions = append(d.Actions, ExecAction{})
	return &d.Actions[len(d.Actions)-1]
}
