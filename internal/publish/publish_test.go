package publish

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishCreatesAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "lunch.ics")
	p := &Publisher{Path: path}

	res, err := p.Publish([]byte("first"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 5, res.Bytes)
	assert.Equal(t, Checksum([]byte("first")), res.SHA256)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	res, err = p.Publish([]byte("second"))
	require.NoError(t, err)
	assert.True(t, res.Changed)

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestPublishSameBytesIsUnchanged(t *testing.T) {
	p := &Publisher{Path: filepath.Join(t.TempDir(), "lunch.ics")}

	_, err := p.Publish([]byte("same"))
	require.NoError(t, err)
	res, err := p.Publish([]byte("same"))
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestPublishLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := &Publisher{Path: filepath.Join(dir, "lunch.ics")}

	for i := 0; i < 3; i++ {
		_, err := p.Publish([]byte("data"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lunch.ics", entries[0].Name())
}

func TestPublishFailureKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lunch.ics")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	// Renaming a file over a non-empty directory fails, even as root.
	p := &Publisher{Path: filepath.Join(dir, "blocked")}
	require.NoError(t, os.Mkdir(p.Path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.Path, "keep"), nil, 0o644))

	_, err := p.Publish([]byte("new"))
	require.Error(t, err)

	var pe *PublishError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "rename", pe.Op)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp file should be removed")
}

func TestPublishEmptyPath(t *testing.T) {
	_, err := (&Publisher{}).Publish([]byte("x"))
	var pe *PublishError
	assert.True(t, errors.As(err, &pe))
}
