package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/orchestd/internal/intent"
)

func TestAssess(t *testing.T) {
	m := NewModel()

	tests := []struct {
		name   string
		action string
		env    intent.Environment
		want   Tier
	}{
		{"view stays low in dev", "view_logs", intent.EnvDevelopment, TierLow},
		{"view promotes to medium in prod", "view_logs", intent.EnvProduction, TierMedium},
		{"build is medium in staging", "build_image", intent.EnvStaging, TierMedium},
		{"build promotes to high in prod", "build_image", intent.EnvProduction, TierHigh},
		{"deploy is high in staging", "apply_deployment", intent.EnvStaging, TierHigh},
		{"deploy caps at high in prod", "apply_deployment", intent.EnvProduction, TierHigh},
		{"scale caps at high in prod", "scale_replicas", intent.EnvProduction, TierHigh},
		{"delete is critical everywhere", "delete_namespace", intent.EnvDevelopment, TierCritical},
		{"destroy is critical in prod", "destroy_cluster", intent.EnvProduction, TierCritical},
		{"purge promotes two tiers", "purge_cache", intent.EnvDevelopment, TierHigh},
		{"purge in prod", "purge_cache", intent.EnvProduction, TierCritical},
		{"unknown defaults low in dev", "frobnicate", intent.EnvDevelopment, TierLow},
		{"unknown defaults medium in prod then promotes", "frobnicate", intent.EnvProduction, TierHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Assess(tt.action, tt.env))
		})
	}
}

// Production assessments never come out below the staging assessment of the
// same action.
func TestAssess_ProductionNeverBelowStaging(t *testing.T) {
	m := NewModel()

	actions := []string{
		"view_logs", "get_status", "build_image", "run_tests", "scan_code",
		"apply_deployment", "scale_replicas", "update_config",
		"delete_namespace", "destroy_cluster", "purge_cache", "frobnicate",
	}
	for _, action := range actions {
		prod := m.Assess(action, intent.EnvProduction)
		staging := m.Assess(action, intent.EnvStaging)
		assert.GreaterOrEqual(t, int(prod), int(staging), "action %q", action)
	}
}

func TestTier(t *testing.T) {
	assert.Equal(t, "LOW", TierLow.String())
	assert.Equal(t, "CRITICAL", TierCritical.String())
	assert.Equal(t, "UNKNOWN", Tier(42).String())

	assert.Equal(t, TierHigh, TierMedium.Promote(1))
	assert.Equal(t, TierCritical, TierHigh.Promote(2), "promotion saturates")
	assert.Equal(t, TierCritical, TierCritical.Promote(1))

	assert.Equal(t, TierHigh, Max(TierMedium, TierHigh))
	assert.Equal(t, TierHigh, Max(TierHigh, TierLow))

	text, err := TierHigh.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "HIGH", string(text))
}

func TestDestructive(t *testing.T) {
	assert.True(t, Destructive("delete_pod"))
	assert.True(t, Destructive("WIPE_DISK"))
	assert.False(t, Destructive("apply_deployment"))
}

func TestCompliance(t *testing.T) {
	m := NewModel()

	prod := m.Compliance(intent.EnvProduction)
	assert.Contains(t, prod, "approval_required")
	assert.Contains(t, prod, "backup_verified")
	assert.Contains(t, prod, "rollback_plan_ready")
	assert.Len(t, prod, 6)

	staging := m.Compliance(intent.EnvStaging)
	assert.Equal(t, []string{"quality_gate_passed", "tests_passed"}, staging)

	dev := m.Compliance(intent.EnvDevelopment)
	assert.Equal(t, []string{"tests_passed"}, dev)

	// Unknown environments fall back to the development set.
	assert.Equal(t, dev, m.Compliance(intent.Environment("qa")))

	// Callers get a copy.
	prod[0] = "mutated"
	assert.NotEqual(t, "mutated", m.Compliance(intent.EnvProduction)[0])
}
