package plan

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrActivePlan indicates another plan already holds the single
	// active workflow slot.
	ErrActivePlan = errors.New("another plan is already active")

	// ErrPlanNotFound indicates the plan id is unknown to the store.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidTransition indicates the plan is not in the expected
	// status for the requested transition.
	ErrInvalidTransition = errors.New("invalid plan transition")
)

// validTransitions is the plan lifecycle state machine.
var validTransitions = map[Status][]Status{
	StatusPendingApproval: {StatusApproved},
	StatusApproved:        {StatusExecuting},
	StatusExecuting:       {StatusCompleted, StatusFailed},
	StatusFailed:          {StatusRolledBack},
}

// Store tracks plans and enforces the single active workflow invariant: at
// most one plan is PENDING_APPROVAL or EXECUTING at a time. All status
// changes go through compare-and-swap transitions, so concurrent approval
// and terminal races resolve to exactly one winner.
type Store struct {
	mu     sync.Mutex
	plans  map[string]*Plan
	active string
}

// NewStore creates an empty plan store.
func NewStore() *Store {
	return &Store{plans: make(map[string]*Plan)}
}

// Propose adds a plan in PENDING_APPROVAL status, occupying the active
// slot. Fails with ErrActivePlan when another plan holds the slot.
func (s *Store) Propose(p *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return fmt.Errorf("%w: %s", ErrActivePlan, s.active)
	}
	if _, exists := s.plans[p.ID]; exists {
		return fmt.Errorf("plan %s already stored", p.ID)
	}

	stored := p.Clone()
	stored.Status = StatusPendingApproval
	s.plans[p.ID] = stored
	s.active = p.ID
	return nil
}

// Get returns a copy of the plan.
func (s *Store) Get(id string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

// Active returns the id of the plan holding the active slot, if any.
func (s *Store) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// Transition moves the plan from one status to another. It fails with
// ErrInvalidTransition unless the plan is currently in from and the edge
// is part of the lifecycle; only the first caller of a terminal-causing
// transition succeeds.
func (s *Store) Transition(id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if p.Status != from {
		return fmt.Errorf("%w: plan %s is %s, not %s", ErrInvalidTransition, id, p.Status, from)
	}
	if !edgeAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	// The slot is held while a plan is PENDING_APPROVAL or EXECUTING.
	if occupiesSlot(to) {
		if s.active != "" && s.active != id {
			return fmt.Errorf("%w: %s", ErrActivePlan, s.active)
		}
		s.active = id
	} else if s.active == id {
		s.active = ""
	}

	p.Status = to
	return nil
}

// Cancel discards a PENDING_APPROVAL plan and releases the slot. Nothing
// has executed yet, so cancellation has no side effects beyond the store.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if p.Status != StatusPendingApproval {
		return fmt.Errorf("%w: cannot cancel plan in %s", ErrInvalidTransition, p.Status)
	}

	delete(s.plans, id)
	if s.active == id {
		s.active = ""
	}
	return nil
}

func edgeAllowed(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func occupiesSlot(st Status) bool {
	return st == StatusPendingApproval || st == StatusExecuting
}
