//go:build !windows

package platform

import "taskschedule/internal/taskservice"

func nativeService() (taskservice.Service, error) {
	return nil, ErrNativeUnavailable
}
