// Package archive persists failure records to durable append-only storage.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one archived failure: the execution log of the failed step, the
// classified root cause, and the post-restore system state.
type Entry struct {
	ID               string         `json:"id"`
	PlanID           string         `json:"plan_id"`
	ArchivedAt       time.Time      `json:"archived_at"`
	FailedStep       string         `json:"failed_step"`
	ExecutionLog     string         `json:"execution_log"`
	RootCauseType    string         `json:"root_cause_type"`
	RootCauseDetail  string         `json:"root_cause_detail"`
	PostRestoreState map[string]any `json:"post_restore_state,omitempty"`
}

// Store is an append-only archive keyed by plan id and timestamp. Entries
// get unique file names, so concurrent writers across plans never collide.
type Store struct {
	dir string
}

// NewStore creates the archive directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Append persists one entry. The entry's id and timestamp are assigned
// here; existing files are never touched.
func (s *Store) Append(e Entry) (Entry, error) {
	e.ID = uuid.NewString()
	e.ArchivedAt = time.Now().UTC()

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("encode archive entry: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.json", e.PlanID, e.ArchivedAt.Format("20060102T150405Z"), e.ID)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Entry{}, fmt.Errorf("write archive entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Entry{}, fmt.Errorf("write archive entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return Entry{}, fmt.Errorf("write archive entry: %w", err)
	}
	return e, nil
}

// List returns all archived entries for a plan, oldest first.
func (s *Store) List(planID string) ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var out []Entry
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), planID+"_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", file.Name(), err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode archive entry %s: %w", file.Name(), err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.Before(out[j].ArchivedAt) })
	return out, nil
}
