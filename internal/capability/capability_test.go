package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	id   string
	caps []Capability
	err  error
}

func (f *fakeSource) ServerID() string { return f.id }

func (f *fakeSource) ListActions(context.Context) ([]Capability, error) {
	return f.caps, f.err
}

func TestRegistry_Refresh_Wholesale(t *testing.T) {
	reg := NewRegistry(nil)
	assert.True(t, reg.Empty())

	ctx := context.Background()
	err := reg.Refresh(ctx, []Source{
		&fakeSource{id: "kubernetes", caps: []Capability{
			{ServerID: "kubernetes", Action: "apply_deployment"},
			{ServerID: "kubernetes", Action: "scale_deployment"},
		}},
		&fakeSource{id: "jenkins", caps: []Capability{
			{ServerID: "jenkins", Action: "trigger_build"},
		}},
	})
	require.NoError(t, err)
	assert.False(t, reg.Empty())
	assert.Len(t, reg.Snapshot(), 3)

	// A second refresh replaces the catalog entirely.
	err = reg.Refresh(ctx, []Source{
		&fakeSource{id: "docker", caps: []Capability{
			{ServerID: "docker", Action: "build_image"},
		}},
	})
	require.NoError(t, err)

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "build_image", snap[0].Action)
}

func TestRegistry_Refresh_SourceFailure(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.Refresh(context.Background(), []Source{
		&fakeSource{id: "broken", err: errors.New("connection refused")},
		&fakeSource{id: "jenkins", caps: []Capability{
			{ServerID: "jenkins", Action: "trigger_build"},
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	// The healthy source is still in the catalog.
	assert.Len(t, reg.Snapshot(), 1)
}

func TestRegistry_Snapshot_Deterministic(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Refresh(context.Background(), []Source{
		&fakeSource{id: "b", caps: []Capability{
			{ServerID: "b", Action: "z_action"},
			{ServerID: "b", Action: "a_action"},
		}},
		&fakeSource{id: "a", caps: []Capability{
			{ServerID: "a", Action: "m_action"},
		}},
	}))

	first := reg.Snapshot()
	second := reg.Snapshot()
	assert.Equal(t, first, second)
	assert.Equal(t, "m_action", first[0].Action, "server order is sorted")
	assert.Equal(t, "a_action", first[1].Action, "actions sorted within server")
}

func TestBestMatch_AffinityOrdering(t *testing.T) {
	snapshot := []Capability{
		{ServerID: "sonarqube", Action: "run_analysis", Description: "Run quality scan on a project"},
		{ServerID: "jenkins", Action: "build_job", Description: "Trigger a build job"},
		{ServerID: "docker", Action: "build", Description: "Build a container image"},
	}

	// Exact name match wins over substring.
	got, ok := BestMatch("build", snapshot)
	require.True(t, ok)
	assert.Equal(t, "docker", got.ServerID)

	// Name substring beats description match.
	got, ok = BestMatch("build_job", snapshot)
	require.True(t, ok)
	assert.Equal(t, "jenkins", got.ServerID)

	// Description-only match still resolves; underscores match prose.
	got, ok = BestMatch("quality_scan", snapshot)
	require.True(t, ok)
	assert.Equal(t, "sonarqube", got.ServerID)

	got, ok = BestMatch("scan", snapshot)
	require.True(t, ok)
	assert.Equal(t, "sonarqube", got.ServerID)

	_, ok = BestMatch("teleport", snapshot)
	assert.False(t, ok)
}
