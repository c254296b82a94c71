// Package plan defines execution plans, validates their dependency graphs,
// generates them from intents, and tracks their lifecycle in a store that
// enforces the single active workflow invariant.
package plan

import (
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/orchestd/internal/intent"
	"github.com/fyrsmithlabs/orchestd/internal/risk"
)

// Status is a plan lifecycle state.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusExecuting       Status = "EXECUTING"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusRolledBack      Status = "ROLLED_BACK"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

// Step is one unit of work bound to a capability invocation.
//
// Name is the graph key: unique within the plan, stable across repeated
// generation of the same intent. ID is globally unique for records and
// archives. DependsOn references step names.
type Step struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ServerID     string         `json:"server_id"`
	Action       string         `json:"action"`
	Args         map[string]any `json:"args,omitempty"`
	RiskTier     risk.Tier      `json:"risk_tier"`
	Compliance   []string       `json:"compliance,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	Retryable    bool           `json:"retryable"`
	Mutating     bool           `json:"mutating"`
	RollbackHint string         `json:"rollback_hint,omitempty"`
}

// Plan is a DAG of steps generated from one intent.
type Plan struct {
	ID            string        `json:"id"`
	Intent        intent.Intent `json:"intent"`
	Steps         []Step        `json:"steps"`
	OverallRisk   risk.Tier     `json:"overall_risk"`
	ComplianceSet []string      `json:"compliance_set,omitempty"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Step returns the step with the given name.
func (p *Plan) Step(name string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Clone returns a deep copy; the store hands out clones so callers never
// alias stored state.
func (p *Plan) Clone() *Plan {
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		s.Compliance = append([]string(nil), s.Compliance...)
		if s.Args != nil {
			args := make(map[string]any, len(s.Args))
			for k, v := range s.Args {
				args[k] = v
			}
			s.Args = args
		}
		out.Steps[i] = s
	}
	out.ComplianceSet = append([]string(nil), p.ComplianceSet...)
	return &out
}

// Validate checks the structural invariants of the step graph: unique step
// names, dependencies that reference existing steps, no self-dependencies,
// and no cycles.
func Validate(steps []Step) error {
	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("step %s has no name", s.ID)
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return fmt.Errorf("step %q depends on itself", s.Name)
			}
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", s.Name, dep)
			}
		}
	}
	if _, err := TopologicalOrder(steps); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns step names in an order where every step follows
// all of its dependencies. The order is deterministic: ties break on step
// name. Returns an error if the graph has a cycle.
func TopologicalOrder(steps []Step) ([]string, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		indegree[s.Name] += 0
		for _, dep := range s.DependsOn {
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(steps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := dependents[name]
		sort.Strings(released)
		for _, next := range released {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, fmt.Errorf("dependency cycle among %d steps", len(steps)-len(order))
	}
	return order, nil
}

func insertSorted(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}
