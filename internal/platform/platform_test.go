package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskschedule/internal/store"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendAuto, false},
		{"AUTO", BackendAuto, false},
		{" local ", BackendLocal, false},
		{"Windows", BackendWindows, false},
		{"cron", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, BackendLocal, Resolve(BackendLocal))
	assert.Equal(t, BackendWindows, Resolve(BackendWindows))
	if runtime.GOOS == "windows" {
		assert.Equal(t, BackendWindows, Resolve(BackendAuto))
	} else {
		assert.Equal(t, BackendLocal, Resolve(BackendAuto))
	}
}

func TestServiceLocal(t *testing.T) {
	dir := t.TempDir()
	svc, backend, err := Service(BackendLocal, Options{StateDir: dir, LogRetention: 5})
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, backend)
	registry, ok := svc.(*store.Registry)
	require.True(t, ok)
	assert.Equal(t, dir, registry.StateDir)

	_, _, err = Service(BackendLocal, Options{})
	assert.Error(t, err)
}

func TestServiceWindowsElsewhere(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("native backend is available")
	}
	_, _, err := Service(BackendWindows, Options{})
	assert.ErrorIs(t, err, ErrNativeUnavailable)
}
