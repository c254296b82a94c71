package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze(t *testing.T) {
	a := NewAnalyzer()

	tests := []struct {
		name    string
		command string
		want    Intent
	}{
		{
			name:    "production deploy with target",
			command: "deploy service checkout to production",
			want: Intent{
				Action:      "deploy",
				Target:      "checkout",
				Environment: EnvProduction,
				Urgency:     UrgencyNormal,
				Confidence:  1.0,
			},
		},
		{
			name:    "staging release",
			command: "release the app frontend to staging",
			want: Intent{
				Action:      "deploy",
				Target:      "frontend",
				Environment: EnvStaging,
				Urgency:     UrgencyNormal,
				Confidence:  1.0,
			},
		},
		{
			name:    "urgent hotfix",
			command: "hotfix deploy app payments to prod now",
			want: Intent{
				Action:      "deploy",
				Target:      "payments",
				Environment: EnvProduction,
				Urgency:     UrgencyUrgent,
				Confidence:  1.0,
			},
		},
		{
			name:    "rollback",
			command: "rollback production",
			want: Intent{
				Action:      "rollback",
				Environment: EnvProduction,
				Urgency:     UrgencyNormal,
				Confidence:  0.8,
			},
		},
		{
			name:    "quick scale without env",
			command: "scale service api quick",
			want: Intent{
				Action:      "scale",
				Target:      "api",
				Environment: EnvProduction, // conservative default
				Urgency:     UrgencyFast,
				Confidence:  0.8,
			},
		},
		{
			name:    "unrecognized",
			command: "make me a sandwich",
			want: Intent{
				Environment: EnvProduction,
				Urgency:     UrgencyNormal,
				Confidence:  0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(tt.command)
			assert.Equal(t, tt.want.Action, got.Action)
			assert.Equal(t, tt.want.Target, got.Target)
			assert.Equal(t, tt.want.Environment, got.Environment)
			assert.Equal(t, tt.want.Urgency, got.Urgency)
			assert.InDelta(t, tt.want.Confidence, got.Confidence, 0.001)
		})
	}
}

func TestAnalyze_WordBoundaries(t *testing.T) {
	a := NewAnalyzer()

	// "producer" must not match "prod"; "latest" must not match "test".
	got := a.Analyze("deploy app producer with latest image")
	assert.Equal(t, "deploy", got.Action)
	assert.Equal(t, EnvProduction, got.Environment)
	assert.Equal(t, 0.8, got.Confidence, "environment was defaulted, not detected")
}
