package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirLock_LockUnlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	lock := NewDirLock(dir)

	require.NoError(t, lock.Lock(context.Background()))
	assert.True(t, lock.IsLocked())
	assert.FileExists(t, lock.Path())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
	require.NoError(t, lock.Unlock())
}

func TestDirLock_SecondHandleBlocked(t *testing.T) {
	dir := t.TempDir()
	first := NewDirLock(dir)
	second := NewDirLock(dir)

	require.NoError(t, first.Lock(context.Background()))
	defer func() { _ = first.Unlock() }()

	acquired, err := second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	assert.Error(t, second.Lock(ctx))
}

func TestDirLock_ReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	first := NewDirLock(dir)
	second := NewDirLock(dir)

	require.NoError(t, first.Lock(context.Background()))
	require.NoError(t, first.Unlock())

	acquired, err := second.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, second.Unlock())
}
