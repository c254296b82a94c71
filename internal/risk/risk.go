// Package risk classifies actions into risk tiers and derives compliance
// requirements.
//
// The rules are declarative tables consulted by pure functions, so the
// whole model is exhaustively table-testable. The tier lattice is the total
// order LOW < MEDIUM < HIGH < CRITICAL; promotion saturates at CRITICAL.
package risk

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/orchestd/internal/intent"
)

// Tier is a risk classification.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

var tierNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

// String implements fmt.Stringer.
func (t Tier) String() string {
	if t < TierLow || t > TierCritical {
		return "UNKNOWN"
	}
	return tierNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range tierNames {
		if n == name {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk tier %q", name)
}

// Promote raises a tier by n levels, saturating at CRITICAL.
func (t Tier) Promote(n int) Tier {
	promoted := t + Tier(n)
	if promoted > TierCritical {
		return TierCritical
	}
	return promoted
}

// Max returns the higher of two tiers.
func Max(a, b Tier) Tier {
	if a > b {
		return a
	}
	return b
}

// baseTiers maps action keywords to their base tier. First match in order
// decides, so destructive keywords are listed before broader ones.
var baseTiers = []struct {
	keyword string
	tier    Tier
}{
	{"destroy", TierCritical},
	{"delete", TierCritical},
	{"drop", TierCritical},
	{"remove", TierCritical},
	{"deploy", TierHigh},
	{"scale", TierHigh},
	{"update", TierHigh},
	{"rollout", TierHigh},
	{"create", TierMedium},
	{"build", TierMedium},
	{"test", TierMedium},
	{"scan", TierMedium},
	{"analyze", TierMedium},
	{"view", TierLow},
	{"read", TierLow},
	{"list", TierLow},
	{"get", TierLow},
	{"status", TierLow},
}

// destructiveKeywords mark irreversible actions that are promoted two
// tiers regardless of environment.
var destructiveKeywords = []string{"destroy", "delete", "drop", "remove", "purge", "wipe"}

// complianceByEnv is the environment → required compliance set table.
var complianceByEnv = map[intent.Environment][]string{
	intent.EnvProduction: {
		"quality_gate_passed",
		"security_scan_passed",
		"approval_required",
		"backup_verified",
		"rollback_plan_ready",
		"monitoring_enabled",
	},
	intent.EnvStaging: {
		"quality_gate_passed",
		"tests_passed",
	},
	intent.EnvDevelopment: {
		"tests_passed",
	},
}

// Model classifies actions. It is stateless; all behavior comes from the
// tables above.
type Model struct{}

// NewModel returns the table-driven risk model.
func NewModel() *Model {
	return &Model{}
}

// Assess returns the risk tier for running an action in an environment.
//
// The base tier comes from the first matching action keyword (MEDIUM in
// production and LOW elsewhere when nothing matches). Destructive actions
// promote two tiers in any environment and may reach CRITICAL. All other
// actions promote one tier in production, capped at HIGH: CRITICAL is
// reserved for irreversible operations.
func (m *Model) Assess(action string, env intent.Environment) Tier {
	lower := strings.ToLower(action)

	tier, matched := baseTier(lower)
	if !matched {
		if env == intent.EnvProduction {
			tier = TierMedium
		} else {
			tier = TierLow
		}
	}

	if Destructive(lower) {
		return tier.Promote(2)
	}
	if env == intent.EnvProduction && tier < TierHigh {
		tier = tier.Promote(1)
	}
	return tier
}

// Destructive reports whether the action is irreversible.
func Destructive(action string) bool {
	lower := strings.ToLower(action)
	for _, kw := range destructiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Compliance returns the compliance requirements for an environment. The
// returned slice is a copy.
func (m *Model) Compliance(env intent.Environment) []string {
	reqs, ok := complianceByEnv[env]
	if !ok {
		reqs = complianceByEnv[intent.EnvDevelopment]
	}
	return append([]string(nil), reqs...)
}

func baseTier(action string) (Tier, bool) {
	for _, entry := range baseTiers {
		if strings.Contains(action, entry.keyword) {
			return entry.tier, true
		}
	}
	return TierLow, false
}
