package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenameFallsBackToCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.nms.tmp")
	dst := filepath.Join(dir, "run.nms")
	require.NoError(t, os.WriteFile(src, []byte("container bytes"), 0o644))

	old := renameImpl
	renameImpl = func(string, string) error { return os.ErrPermission }
	defer func() { renameImpl = old }()

	require.NoError(t, Rename(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "container bytes", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestRenameReportsBothFailures(t *testing.T) {
	dir := t.TempDir()
	old := renameImpl
	renameImpl = func(string, string) error { return os.ErrPermission }
	defer func() { renameImpl = old }()

	err := Rename(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 3)
	_, err = r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "cde", string(buf))
	assert.Equal(t, path, r.Name())
}

func TestPreallocateIsBestEffort(t *testing.T) {
	f, err := Create(filepath.Join(t.TempDir(), "prealloc.bin"))
	require.NoError(t, err)
	defer f.Close()

	err = Preallocate(f, 1<<20)
	if err != nil {
		assert.ErrorIs(t, err, ErrPreallocNotSupported)
	}
	st, err := f.Stat()
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Zero(t, st.Size(), "preallocation must not change the visible size")
	}
	assert.NoError(t, Preallocate(f, 0))

	ok, unsupported := PreallocStats()
	assert.Positive(t, ok+unsupported)
}

func TestOSFileLockExcludesSecondWriter(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
		t.Skip("no OS file locks on this platform")
	}
	lockPath := filepath.Join(t.TempDir(), "run.nms.lock")

	release, err := AcquireOSFileLock(lockPath, time.Second)
	require.NoError(t, err)

	_, err = AcquireOSFileLock(lockPath, 50*time.Millisecond)
	require.Error(t, err)

	require.NoError(t, release())
	release2, err := AcquireOSFileLock(lockPath, time.Second)
	require.NoError(t, err)
	require.NoError(t, release2())
}

func TestIsPermission(t *testing.T) {
	assert.True(t, IsPermission(fmt.Errorf("create: %w", os.ErrPermission)))
	assert.True(t, IsPermission(&os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}))
	assert.False(t, IsPermission(errors.New("disk full")))
}
