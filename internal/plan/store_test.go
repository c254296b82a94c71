package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingPlan(id string) *Plan {
	return &Plan{
		ID:     id,
		Status: StatusPendingApproval,
		Steps:  []Step{{ID: id + "-s1", Name: "build"}},
	}
}

func TestStore_SingleActiveSlot(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Propose(pendingPlan("p1")))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "p1", active)

	err := s.Propose(pendingPlan("p2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActivePlan)

	// Approval releases the slot; a new plan can be proposed.
	require.NoError(t, s.Transition("p1", StatusPendingApproval, StatusApproved))
	_, ok = s.Active()
	assert.False(t, ok)
	require.NoError(t, s.Propose(pendingPlan("p2")))

	// Executing the approved plan needs the slot back, but p2 holds it.
	err = s.Transition("p1", StatusApproved, StatusExecuting)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActivePlan)

	require.NoError(t, s.Cancel("p2"))
	require.NoError(t, s.Transition("p1", StatusApproved, StatusExecuting))

	// Terminal status releases the slot again.
	require.NoError(t, s.Transition("p1", StatusExecuting, StatusCompleted))
	_, ok = s.Active()
	assert.False(t, ok)
}

func TestStore_TransitionCAS(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Propose(pendingPlan("p1")))
	require.NoError(t, s.Transition("p1", StatusPendingApproval, StatusApproved))
	require.NoError(t, s.Transition("p1", StatusApproved, StatusExecuting))

	// Only the first terminal transition wins.
	require.NoError(t, s.Transition("p1", StatusExecuting, StatusFailed))
	err := s.Transition("p1", StatusExecuting, StatusCompleted)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Recovery may mark a failed plan rolled back.
	require.NoError(t, s.Transition("p1", StatusFailed, StatusRolledBack))
}

func TestStore_InvalidEdges(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Propose(pendingPlan("p1")))

	err := s.Transition("p1", StatusPendingApproval, StatusExecuting)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.Transition("missing", StatusPendingApproval, StatusApproved)
	assert.ErrorIs(t, err, ErrPlanNotFound)

	err = s.Transition("p1", StatusApproved, StatusExecuting)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition, "wrong from status")
}

func TestStore_Cancel(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Propose(pendingPlan("p1")))
	require.NoError(t, s.Cancel("p1"))

	_, err := s.Get("p1")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, ok := s.Active()
	assert.False(t, ok)

	// Cancelling past approval is rejected.
	require.NoError(t, s.Propose(pendingPlan("p2")))
	require.NoError(t, s.Transition("p2", StatusPendingApproval, StatusApproved))
	err = s.Cancel("p2")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Propose(pendingPlan("p1")))

	got, err := s.Get("p1")
	require.NoError(t, err)
	got.Steps[0].Name = "mutated"

	again, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "build", again.Steps[0].Name)
}
