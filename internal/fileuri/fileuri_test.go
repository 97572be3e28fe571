package fileuri

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/roslyn-wrapper/errors"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "My Solution", "App.sln")

	u, err := FromPath(path)
	require.NoError(t, err)
	assert.Contains(t, u, "file://")
	assert.Contains(t, u, "My%20Solution")

	back, err := ToPath(u)
	require.NoError(t, err)
	assert.Equal(t, path, back)
}

func TestToPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix path expectations")
	}

	got, err := ToPath("file:///home/dev/src/app")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/src/app", got)

	got, err = ToPath("file:///home/dev/with%20space")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/with space", got)

	_, err = ToPath("https://example.com/app.sln")
	assert.True(t, errors.Is(err, ErrNotFileURI))
}

func TestResolve(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix path expectations")
	}

	tests := []struct {
		in, base, want string
	}{
		{"file:///repo/App.sln", "/ignored", "/repo/App.sln"},
		{"/repo/App.sln", "/ignored", "/repo/App.sln"},
		{"src/App.sln", "/repo", "/repo/src/App.sln"},
		{"./src/../App.sln", "/repo", "/repo/App.sln"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Resolve(tt.in, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
