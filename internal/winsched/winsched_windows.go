//go:build windows

package winsched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"taskschedule/internal/taskservice"
)

const (
	taskTriggerDaily = 2
	taskActionExec   = 0

	sFalse         = 0x00000001
	hrFileNotFound = 0x80070002
	hrPathNotFound = 0x80070003
)

var _ taskservice.Service = (*Service)(nil)

// Service connects to the local Task Scheduler.
type Service struct{}

// New returns the Windows Task Scheduler service.
func New() *Service {
	return &Service{}
}

// Connect initialises COM on the calling OS thread and opens the root task
// folder. The goroutine stays locked to that thread until the folder is
// closed, so the folder must be used from the calling goroutine only.
func (s *Service) Connect(ctx context.Context) (taskservice.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runtime.LockOSThread()
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil && !isCode(err, sFalse) {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("initialize COM: %w", err)
	}
	f := &folder{}
	if err := f.open(); err != nil {
		f.release()
		return nil, err
	}
	return f, nil
}

type folder struct {
	service *ole.IDispatch
	root    *ole.IDispatch
}

func (f *folder) open() error {
	unknown, err := oleutil.CreateObject("Schedule.Service")
	if err != nil {
		return fmt.Errorf("create Schedule.Service: %w", err)
	}
	defer unknown.Release()
	f.service, err = unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("query ITaskService: %w", err)
	}
	if err := call(f.service, "Connect"); err != nil {
		return fmt.Errorf("connect to task scheduler: %w", err)
	}
	f.root, err = callDispatch(f.service, "GetFolder", `\`)
	if err != nil {
		return fmt.Errorf("get root folder: %w", err)
	}
	return nil
}

func (f *folder) NewTaskDefinition() *taskservice.Definition {
	return &taskservice.Definition{}
}

func (f *folder) GetTask(_ context.Context, name string) (*taskservice.RegisteredTask, error) {
	task, err := callDispatch(f.root, "GetTask", name)
	if err != nil {
		return nil, mapError(err)
	}
	defer task.Release()
	return readRegisteredTask(task)
}

func (f *folder) DeleteTask(_ context.Context, name string) error {
	if err := call(f.root, "DeleteTask", name, 0); err != nil {
		return mapError(err)
	}
	return nil
}

func (f *folder) RegisterTask(_ context.Context, name string, def *taskservice.Definition, mode taskservice.CreationMode, logon taskservice.LogonType) (*taskservice.RegisteredTask, error) {
	comDef, err := callDispatch(f.service, "NewTask", 0)
	if err != nil {
		return nil, fmt.Errorf("new task definition: %w", err)
	}
	defer comDef.Release()
	if err := writeDefinition(comDef, def); err != nil {
		return nil, err
	}
	registered, err := callDispatch(f.root, "RegisterTaskDefinition", name, comDef, int(mode), "", "", int(logon), "")
	if err != nil {
		return nil, fmt.Errorf("register task definition: %w", mapError(err))
	}
	defer registered.Release()
	return readRegisteredTask(registered)
}

func (f *folder) Close() error {
	f.release()
	return nil
}

func (f *folder) release() {
	if f.root != nil {
		f.root.Release()
		f.root = nil
	}
	if f.service != nil {
		f.service.Release()
		f.service = nil
	}
	ole.CoUninitialize()
	runtime.UnlockOSThread()
}

func writeDefinition(comDef *ole.IDispatch, def *taskservice.Definition) error {
	if err := withDispatch(comDef, "RegistrationInfo", func(info *ole.IDispatch) error {
		if def.RegistrationInfo.Author != "" {
			if err := put(info, "Author", def.RegistrationInfo.Author); err != nil {
				return err
			}
		}
		if def.RegistrationInfo.Description != "" {
			return put(info, "Description", def.RegistrationInfo.Description)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("set registration info: %w", err)
	}

	if err := withDispatch(comDef, "Principal", func(principal *ole.IDispatch) error {
		return put(principal, "LogonType", int(def.Principal.LogonType))
	}); err != nil {
		return fmt.Errorf("set logon type: %w", err)
	}

	if err := withDispatch(comDef, "Settings", func(settings *ole.IDispatch) error {
		return put(settings, "StartWhenAvailable", def.Settings.StartWhenAvailable)
	}); err != nil {
		return fmt.Errorf("set task settings: %w", err)
	}

	if err := withDispatch(comDef, "Triggers", func(triggers *ole.IDispatch) error {
		for _, t := range def.Triggers {
			if err := addDailyTrigger(triggers, t); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("create task trigger: %w", err)
	}

	if err := withDispatch(comDef, "Actions", func(actions *ole.IDispatch) error {
		for _, a := range def.Actions {
			if err := addExecAction(actions, a); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("create exec action: %w", err)
	}
	return nil
}

func addDailyTrigger(triggers *ole.IDispatch, t taskservice.DailyTrigger) error {
	trigger, err := callDispatch(triggers, "Create", taskTriggerDaily)
	if err != nil {
		return err
	}
	defer trigger.Release()
	if t.ID != "" {
		if err := put(trigger, "Id", t.ID); err != nil {
			return err
		}
	}
	if err := put(trigger, "StartBoundary", t.StartBoundary); err != nil {
		return err
	}
	if t.EndBoundary != "" {
		if err := put(trigger, "EndBoundary", t.EndBoundary); err != nil {
			return err
		}
	}
	interval := t.DaysInterval
	if interval < 1 {
		interval = 1
	}
	if err := put(trigger, "DaysInterval", int16(interval)); err != nil {
		return err
	}
	return put(trigger, "Enabled", t.Enabled)
}

func addExecAction(actions *ole.IDispatch, a taskservice.ExecAction) error {
	action, err := callDispatch(actions, "Create", taskActionExec)
	if err != nil {
		return err
	}
	defer action.Release()
	if err := put(action, "Path", a.Path); err != nil {
		return err
	}
	if a.Arguments != "" {
		if err := put(action, "Arguments", a.Arguments); err != nil {
			return err
		}
	}
	if a.WorkingDirectory != "" {
		return put(action, "WorkingDirectory", a.WorkingDirectory)
	}
	return nil
}

func readRegisteredTask(task *ole.IDispatch) (*taskservice.RegisteredTask, error) {
	out := &taskservice.RegisteredTask{}
	var err error
	if out.Name, err = getString(task, "Name"); err != nil {
		return nil, err
	}
	if out.Path, err = getString(task, "Path"); err != nil {
		return nil, err
	}
	if out.Enabled, err = getBool(task, "Enabled"); err != nil {
		return nil, err
	}
	out.LastRunAt = getTime(task, "LastRunTime")
	out.NextRunAt = getTime(task, "NextRunTime")

	// The definition is informational; a task with foreign trigger or action
	// types still reports its name and state.
	_ = withDispatch(task, "Definition", func(def *ole.IDispatch) error {
		readDefinition(def, &out.Definition)
		return nil
	})
	return out, nil
}

func readDefinition(def *ole.IDispatch, out *taskservice.Definition) {
	_ = withDispatch(def, "RegistrationInfo", func(info *ole.IDispatch) error {
		out.RegistrationInfo.Author, _ = getString(info, "Author")
		out.RegistrationInfo.Description, _ = getString(info, "Description")
		return nil
	})
	_ = withDispatch(def, "Principal", func(principal *ole.IDispatch) error {
		logon, err := getInt(principal, "LogonType")
		out.Principal.LogonType = taskservice.LogonType(logon)
		return err
	})
	_ = withDispatch(def, "Settings", func(settings *ole.IDispatch) error {
		out.Settings.StartWhenAvailable, _ = getBool(settings, "StartWhenAvailable")
		return nil
	})
	_ = eachItem(def, "Triggers", func(trigger *ole.IDispatch) {
		if kind, _ := getInt(trigger, "Type"); kind != taskTriggerDaily {
			return
		}
		t := taskservice.DailyTrigger{}
		t.ID, _ = getString(trigger, "Id")
		t.StartBoundary, _ = getString(trigger, "StartBoundary")
		t.EndBoundary, _ = getString(trigger, "EndBoundary")
		t.DaysInterval, _ = getInt(trigger, "DaysInterval")
		t.Enabled, _ = getBool(trigger, "Enabled")
		out.Triggers = append(out.Triggers, t)
	})
	_ = eachItem(def, "Actions", func(action *ole.IDispatch) {
		if kind, _ := getInt(action, "Type"); kind != taskActionExec {
			return
		}
		a := taskservice.ExecAction{}
		a.Path, _ = getString(action, "Path")
		a.Arguments, _ = getString(action, "Arguments")
		a.WorkingDirectory, _ = getString(action, "WorkingDirectory")
		out.Actions = append(out.Actions, a)
	})
}

// eachItem walks a one-based COM collection held in property name.
func eachItem(d *ole.IDispatch, name string, fn func(*ole.IDispatch)) error {
	return withDispatch(d, name, func(collection *ole.IDispatch) error {
		count, err := getInt(collection, "Count")
		if err != nil {
			return err
		}
		for i := 1; i <= count; i++ {
			item, err := callDispatch(collection, "Item", i)
			if err != nil {
				return err
			}
			fn(item)
			item.Release()
		}
		return nil
	})
}

func withDispatch(d *ole.IDispatch, name string, fn func(*ole.IDispatch) error) error {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	defer v.Clear()
	child := v.ToIDispatch()
	if child == nil {
		return fmt.Errorf("get %s: not an object", name)
	}
	return fn(child)
}

func call(d *ole.IDispatch, method string, params ...interface{}) error {
	v, err := oleutil.CallMethod(d, method, params...)
	if err != nil {
		return err
	}
	return v.Clear()
}

// callDispatch calls method and returns the object it yields. The caller
// releases it.
func callDispatch(d *ole.IDispatch, method string, params ...interface{}) (*ole.IDispatch, error) {
	v, err := oleutil.CallMethod(d, method, params...)
	if err != nil {
		return nil, err
	}
	child := v.ToIDispatch()
	if child == nil {
		_ = v.Clear()
		return nil, fmt.Errorf("%s returned no object", method)
	}
	return child, nil
}

func put(d *ole.IDispatch, name string, value interface{}) error {
	v, err := oleutil.PutProperty(d, name, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return v.Clear()
}

func getValue(d *ole.IDispatch, name string) (interface{}, error) {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	defer v.Clear()
	return v.Value(), nil
}

func getString(d *ole.IDispatch, name string) (string, error) {
	value, err := getValue(d, name)
	if err != nil {
		return "", err
	}
	s, _ := value.(string)
	return s, nil
}

func getBool(d *ole.IDispatch, name string) (bool, error) {
	value, err := getValue(d, name)
	if err != nil {
		return false, err
	}
	b, _ := value.(bool)
	return b, nil
}

func getInt(d *ole.IDispatch, name string) (int, error) {
	value, err := getValue(d, name)
	if err != nil {
		return 0, err
	}
	switch n := value.(type) {
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, nil
	}
}

// getTime returns nil for the 1899-12-30 "never" date.
func getTime(d *ole.IDispatch, name string) *time.Time {
	value, err := getValue(d, name)
	if err != nil {
		return nil
	}
	t, ok := value.(time.Time)
	if !ok || t.Year() < 1900 {
		return nil
	}
	return &t
}

func mapError(err error) error {
	if isCode(err, hrFileNotFound) || isCode(err, hrPathNotFound) {
		return fmt.Errorf("%w: %v", taskservice.ErrTaskNotFound, err)
	}
	return err
}

// isCode matches an HRESULT on the error itself or, for DISP_E_EXCEPTION,
// on the exception it carries.
func isCode(err error, code uint32) bool {
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return false
	}
	if uint32(oleErr.Code()) == code {
		return true
	}
	if ex, ok := oleErr.SubError().(interface{ SCODE() uint32 }); ok {
		return ex.SCODE() == code
	}
	return false
}
