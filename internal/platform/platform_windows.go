//go:build windows

package platform

import (
	"taskschedule/internal/taskservice"
	"taskschedule/internal/winsched"
)

func nativeService() (taskservice.Service, error) {
	return winsched.New(), nil
}
