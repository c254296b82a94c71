// Package capability maintains the live catalog of tool services and the
// actions they expose.
//
// The registry is refreshed wholesale from discovery sources and never
// mutates plans that are already generated or executing. Pattern steps are
// resolved against the catalog with name-affinity scoring: an exact action
// name match beats a name substring match, which beats a description match.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/logging"
)

// Capability describes one action exposed by a tool service.
type Capability struct {
	// ServerID identifies the tool service exposing the action.
	ServerID string `json:"server_id"`

	// Action is the action name as declared by the service.
	Action string `json:"action"`

	// Description is the service-declared action description.
	Description string `json:"description,omitempty"`

	// ParamSchema is the declared parameter schema (JSON Schema shape).
	ParamSchema map[string]any `json:"param_schema,omitempty"`

	// RiskHint is the service-declared risk hint, if any.
	RiskHint string `json:"risk_hint,omitempty"`
}

// Source discovers the capabilities of one tool service.
type Source interface {
	// ServerID identifies the tool service.
	ServerID() string

	// ListActions returns the actions the service currently exposes.
	ListActions(ctx context.Context) ([]Capability, error)
}

// ErrNoCapabilities indicates the registry holds no discovered capabilities.
var ErrNoCapabilities = errors.New("no capabilities discovered")

// Match scores for affinity ranking.
const (
	scoreExactName   = 3
	scoreNameSubstr  = 2
	scoreDescription = 1
)

// Registry holds the discovered capability catalog.
type Registry struct {
	logger *logging.Logger

	mu          sync.RWMutex
	caps        map[string][]Capability // server id -> capabilities
	refreshedAt time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		logger: logger.Named("capability"),
		caps:   make(map[string][]Capability),
	}
}

// Refresh rediscovers all sources and replaces the catalog wholesale.
// A source that fails discovery is logged and skipped; its previous
// capabilities are dropped with the rest of the old catalog.
func (r *Registry) Refresh(ctx context.Context, sources []Source) error {
	fresh := make(map[string][]Capability, len(sources))
	var errs []error

	for _, src := range sources {
		caps, err := src.ListActions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("discover %s: %w", src.ServerID(), err))
			r.logger.Warn(ctx, "capability discovery failed",
				zap.String("server_id", src.ServerID()), zap.Error(err))
			continue
		}
		fresh[src.ServerID()] = caps
		r.logger.Info(ctx, "discovered capabilities",
			zap.String("server_id", src.ServerID()), zap.Int("count", len(caps)))
	}

	r.mu.Lock()
	r.caps = fresh
	r.refreshedAt = time.Now()
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Snapshot returns a stable copy of all capabilities, ordered by server id
// then action name so repeated generation sees an identical catalog.
func (r *Registry) Snapshot() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Capability
	servers := make([]string, 0, len(r.caps))
	for id := range r.caps {
		servers = append(servers, id)
	}
	sort.Strings(servers)
	for _, id := range servers {
		caps := append([]Capability(nil), r.caps[id]...)
		sort.Slice(caps, func(i, j int) bool { return caps[i].Action < caps[j].Action })
		out = append(out, caps...)
	}
	return out
}

// Empty reports whether the catalog holds no capabilities.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, caps := range r.caps {
		if len(caps) > 0 {
			return false
		}
	}
	return true
}

// RefreshedAt returns the time of the last wholesale refresh.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// BestMatch resolves a pattern step against a capability snapshot using
// name-affinity scoring. Ties keep the first capability in snapshot order,
// which is deterministic, so generation is idempotent for a fixed snapshot.
// Pattern steps are matched both verbatim and with underscores treated as
// spaces, since tool descriptions use prose.
func BestMatch(patternStep string, snapshot []Capability) (Capability, bool) {
	needle := strings.ToLower(patternStep)
	prose := strings.ReplaceAll(needle, "_", " ")

	best := Capability{}
	bestScore := 0
	for _, cap := range snapshot {
		score := affinity(needle, cap)
		if s := affinity(prose, cap); s > score {
			score = s
		}
		if score > bestScore {
			best = cap
			bestScore = score
		}
	}
	return best, bestScore > 0
}

func affinity(needle string, cap Capability) int {
	name := strings.ToLower(cap.Action)
	if name == needle {
		return scoreExactName
	}
	if strings.Contains(name, needle) {
		return scoreNameSubstr
	}
	if strings.Contains(strings.ToLower(cap.Description), needle) {
		return scoreDescription
	}
	return 0
}
