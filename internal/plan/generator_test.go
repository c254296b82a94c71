package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestd/internal/capability"
	"github.com/fyrsmithlabs/orchestd/internal/intent"
	"github.com/fyrsmithlabs/orchestd/internal/risk"
)

// fullCatalog mirrors a typical discovery result across build, test, scan
// and deployment tool servers.
var fullCatalog = []capability.Capability{
	{ServerID: "jenkins", Action: "build_image", Description: "Build and push a container image"},
	{ServerID: "jenkins", Action: "run_tests", Description: "Run the test suite"},
	{ServerID: "sonarqube", Action: "scan_code", Description: "Run quality scan and security checks"},
	{ServerID: "kubernetes", Action: "apply_deployment", Description: "Apply a deployment manifest"},
	{ServerID: "kubernetes", Action: "scale_replicas", Description: "Scale a workload"},
	{ServerID: "kubernetes", Action: "rollback_deployment", Description: "Roll a deployment back to the previous revision"},
	{ServerID: "kubernetes", Action: "get_status", Description: "Get workload status"},
}

// minimalCatalog holds only build, test, scan and deploy actions.
var minimalCatalog = []capability.Capability{
	{ServerID: "jenkins", Action: "build_image"},
	{ServerID: "jenkins", Action: "run_tests"},
	{ServerID: "sonarqube", Action: "scan_code"},
	{ServerID: "kubernetes", Action: "apply_deployment"},
}

func deployIntent(env intent.Environment, urgency intent.Urgency) intent.Intent {
	return intent.Intent{
		Action:      "deploy",
		Target:      "app",
		Environment: env,
		Urgency:     urgency,
		Confidence:  1.0,
	}
}

func TestGenerate_ProductionDeploy(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)

	p, err := g.Generate(deployIntent(intent.EnvProduction, intent.UrgencyNormal), minimalCatalog)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingApproval, p.Status)
	assert.GreaterOrEqual(t, len(p.Steps), 7)
	assert.Equal(t, risk.TierHigh, p.OverallRisk)
	assert.Subset(t, p.ComplianceSet,
		[]string{"quality_gate_passed", "security_scan_passed", "approval_required"})
	assert.NoError(t, Validate(p.Steps))

	// Quality and security scans are siblings joining at the staging deploy.
	quality, ok := p.Step("quality_scan")
	require.True(t, ok)
	security, ok := p.Step("security_scan")
	require.True(t, ok)
	assert.Equal(t, []string{"test"}, quality.DependsOn)
	assert.Equal(t, []string{"test"}, security.DependsOn)

	deploy, ok := p.Step("staging_deploy")
	require.True(t, ok)
	assert.Contains(t, deploy.DependsOn, "quality_scan")
	assert.Contains(t, deploy.DependsOn, "security_scan")
	assert.True(t, deploy.Mutating)
	assert.NotEmpty(t, deploy.RollbackHint)
}

func TestGenerate_BackupPrecedesMutation(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)

	p, err := g.Generate(deployIntent(intent.EnvProduction, intent.UrgencyNormal), fullCatalog)
	require.NoError(t, err)

	backup, ok := p.Step(BackupStepName)
	require.True(t, ok, "plan with mutating steps must carry a snapshot step")
	assert.Equal(t, InternalServerID, backup.ServerID)

	for _, s := range p.Steps {
		if s.Mutating {
			assert.Contains(t, s.DependsOn, BackupStepName, "step %s", s.Name)
		}
	}
}

func TestGenerate_FastTrackIsSmaller(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)

	normal, err := g.Generate(deployIntent(intent.EnvProduction, intent.UrgencyNormal), fullCatalog)
	require.NoError(t, err)
	urgent, err := g.Generate(deployIntent(intent.EnvProduction, intent.UrgencyUrgent), fullCatalog)
	require.NoError(t, err)

	assert.Less(t, len(urgent.Steps), len(normal.Steps))

	_, ok := urgent.Step(BackupStepName)
	assert.True(t, ok, "fast track keeps the snapshot step")
	for _, s := range urgent.Steps {
		if s.Mutating {
			assert.NotEmpty(t, s.RollbackHint, "step %s", s.Name)
		}
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)
	it := deployIntent(intent.EnvProduction, intent.UrgencyNormal)

	a, err := g.Generate(it, fullCatalog)
	require.NoError(t, err)
	b, err := g.Generate(it, fullCatalog)
	require.NoError(t, err)

	require.Len(t, b.Steps, len(a.Steps))
	for i := range a.Steps {
		assert.Equal(t, a.Steps[i].Name, b.Steps[i].Name)
		assert.Equal(t, a.Steps[i].ServerID, b.Steps[i].ServerID)
		assert.Equal(t, a.Steps[i].Action, b.Steps[i].Action)
		assert.Equal(t, a.Steps[i].RiskTier, b.Steps[i].RiskTier)
		assert.Equal(t, a.Steps[i].DependsOn, b.Steps[i].DependsOn)
	}
}

func TestGenerate_Rollback(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)

	p, err := g.Generate(intent.Intent{
		Action:      "rollback",
		Environment: intent.EnvProduction,
		Confidence:  0.8,
	}, fullCatalog)
	require.NoError(t, err)

	step, ok := p.Step("deployment_rollback")
	require.True(t, ok)
	assert.Equal(t, "rollback_deployment", step.Action)
	assert.True(t, step.Mutating)
}

func TestGenerate_Errors(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)

	tests := []struct {
		name     string
		it       intent.Intent
		snapshot []capability.Capability
		kind     GenerationErrorKind
	}{
		{
			name:     "ambiguous intent",
			it:       intent.Intent{Confidence: 0},
			snapshot: fullCatalog,
			kind:     KindAmbiguousIntent,
		},
		{
			name:     "low confidence",
			it:       intent.Intent{Action: "deploy", Confidence: 0.3},
			snapshot: fullCatalog,
			kind:     KindAmbiguousIntent,
		},
		{
			name: "empty catalog",
			it:   deployIntent(intent.EnvProduction, intent.UrgencyNormal),
			kind: KindNoCapabilities,
		},
		{
			name: "unresolvable required step",
			it:   deployIntent(intent.EnvProduction, intent.UrgencyNormal),
			snapshot: []capability.Capability{
				{ServerID: "jenkins", Action: "build_image"},
			},
			kind: KindUnresolvableStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Generate(tt.it, tt.snapshot)
			require.Error(t, err)
			var genErr *GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, tt.kind, genErr.Kind)
		})
	}
}

func TestGenerate_OptionalStepDroppedRewiresDeps(t *testing.T) {
	g := NewGenerator(risk.NewModel(), nil)

	// minimalCatalog has no status capability, so staging_validation is
	// dropped and the canary deploy inherits its dependency.
	p, err := g.Generate(deployIntent(intent.EnvProduction, intent.UrgencyNormal), minimalCatalog)
	require.NoError(t, err)

	_, ok := p.Step("staging_validation")
	assert.False(t, ok)

	canary, ok := p.Step("production_deploy_canary")
	require.True(t, ok)
	assert.Contains(t, canary.DependsOn, "staging_deploy")
}
