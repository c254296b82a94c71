package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr string
	}{
		{
			name: "valid chain",
			steps: []Step{
				{ID: "1", Name: "build"},
				{ID: "2", Name: "test", DependsOn: []string{"build"}},
			},
		},
		{
			name: "valid diamond",
			steps: []Step{
				{ID: "1", Name: "test"},
				{ID: "2", Name: "quality_scan", DependsOn: []string{"test"}},
				{ID: "3", Name: "security_scan", DependsOn: []string{"test"}},
				{ID: "4", Name: "deploy", DependsOn: []string{"quality_scan", "security_scan"}},
			},
		},
		{
			name:    "missing name",
			steps:   []Step{{ID: "1"}},
			wantErr: "has no name",
		},
		{
			name: "duplicate name",
			steps: []Step{
				{ID: "1", Name: "build"},
				{ID: "2", Name: "build"},
			},
			wantErr: "duplicate step name",
		},
		{
			name: "unknown dependency",
			steps: []Step{
				{ID: "1", Name: "deploy", DependsOn: []string{"ghost"}},
			},
			wantErr: "unknown step",
		},
		{
			name: "self dependency",
			steps: []Step{
				{ID: "1", Name: "deploy", DependsOn: []string{"deploy"}},
			},
			wantErr: "depends on itself",
		},
		{
			name: "cycle",
			steps: []Step{
				{ID: "1", Name: "a", DependsOn: []string{"b"}},
				{ID: "2", Name: "b", DependsOn: []string{"a"}},
			},
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.steps)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTopologicalOrder(t *testing.T) {
	steps := []Step{
		{Name: "deploy", DependsOn: []string{"quality_scan", "security_scan"}},
		{Name: "security_scan", DependsOn: []string{"test"}},
		{Name: "quality_scan", DependsOn: []string{"test"}},
		{Name: "test", DependsOn: []string{"build"}},
		{Name: "build"},
	}

	order, err := TopologicalOrder(steps)
	require.NoError(t, err)
	require.Len(t, order, 5)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["build"], pos["test"])
	assert.Less(t, pos["test"], pos["quality_scan"])
	assert.Less(t, pos["test"], pos["security_scan"])
	assert.Less(t, pos["quality_scan"], pos["deploy"])
	assert.Less(t, pos["security_scan"], pos["deploy"])

	// Deterministic: same input, same order.
	again, err := TopologicalOrder(steps)
	require.NoError(t, err)
	assert.Equal(t, order, again)
}

func TestPlanClone(t *testing.T) {
	p := &Plan{
		ID: "p1",
		Steps: []Step{
			{Name: "deploy", DependsOn: []string{"build"}, Args: map[string]any{"target": "app"}},
		},
		ComplianceSet: []string{"tests_passed"},
	}

	c := p.Clone()
	c.Steps[0].DependsOn[0] = "mutated"
	c.Steps[0].Args["target"] = "mutated"
	c.ComplianceSet[0] = "mutated"

	assert.Equal(t, "build", p.Steps[0].DependsOn[0])
	assert.Equal(t, "app", p.Steps[0].Args["target"])
	assert.Equal(t, "tests_passed", p.ComplianceSet[0])
}
