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

func TestFileStore_CaptureRestore(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	refs := []ResourceRef{
		{Kind: "deployment", Location: "default/app"},
		{Kind: "configmap", Location: "default/app-config"},
	}
	b, err := s.Capture(context.Background(), "plan-1", refs)
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "plan-1", b.PlanID)
	require.Len(t, b.Items, 2)
	assert.Equal(t, "deployment", b.Items[0].Kind)
	assert.NotEmpty(t, b.Items[0].ContentRef)

	require.NoError(t, s.Restore(context.Background(), b))
}

func TestFileStore_RestoreMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	err = s.Restore(context.Background(), Backup{ID: "ghost", PlanID: "plan-1"})
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestFileStore_Latest(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	first, err := s.Capture(context.Background(), "plan-1", nil)
	require.NoError(t, err)
	_, err = s.Capture(context.Background(), "plan-2", nil)
	require.NoError(t, err)

	got, err := s.Latest("plan-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.Latest("plan-9")
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestFileStore_DiscardOlderThan(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	old, err := s.Capture(context.Background(), "plan-old", nil)
	require.NoError(t, err)
	oldPath := filepath.Join(dir, "plan-old_"+old.ID+".json")
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	fresh, err := s.Capture(context.Background(), "plan-new", nil)
	require.NoError(t, err)

	require.NoError(t, s.DiscardOlderThan(24*time.Hour))

	_, err = s.Latest("plan-old")
	assert.ErrorIs(t, err, ErrBackupNotFound)
	got, err := s.Latest("plan-new")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}
