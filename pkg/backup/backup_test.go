package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Tracks []string `json:"tracks"`
}

func newService(t *testing.T) (*BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)

	svc := NewBackupService(storage, "1.0.0")
	clock := time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, dir
}

func TestBackupService_CreateAndRestore(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	name, err := svc.CreateBackup(ctx, payload{Tracks: []string{"bossa", "blues"}})
	require.NoError(t, err)
	assert.Equal(t, "backup-20260301-193001.000.json", name)
	assert.FileExists(t, filepath.Join(dir, name))

	var got payload
	env, err := svc.RestoreBackup(ctx, name, &got)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", env.Version)
	assert.Equal(t, []string{"bossa", "blues"}, got.Tracks)
}

func TestBackupService_LatestAndPrune(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoBackups)

	var names []string
	for i := 0; i < 4; i++ {
		name, err := svc.CreateBackup(ctx, payload{})
		require.NoError(t, err)
		names = append(names, name)
	}

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, names[3], latest)

	deleted, err := svc.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left, err := svc.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, names[2:], left)
}

func TestBackupService_RestoreRejectsGarbage(t *testing.T) {
	svc, dir := newService(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-broken.json"), []byte("{"), 0o644))

	_, err := svc.RestoreBackup(context.Background(), "backup-broken.json", nil)
	assert.Error(t, err)
}

func TestFileStorage_RejectsPaths(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, storage.Delete(context.Background(), ".hidden"), ErrInvalidName)
}

func TestFileStorage_ListIgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-backup-x"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-a.json"), nil, 0o644))

	names, err := storage.List(context.Background(), namePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup-a.json"}, names)
}
