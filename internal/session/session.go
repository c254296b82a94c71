// Package session owns the orchestration lifecycle: one command becomes a
// pending plan, which is approved or cancelled, then executed under a
// role. The session holds the single active workflow slot through the plan
// store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/capability"
	"github.com/fyrsmithlabs/orchestd/internal/executor"
	"github.com/fyrsmithlabs/orchestd/internal/intent"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
	"github.com/fyrsmithlabs/orchestd/internal/plan"
)

// ErrNoReport indicates no execution has produced a report for the plan.
var ErrNoReport = errors.New("no execution report")

// Session drives plans from intent to terminal status.
type Session struct {
	logger    *logging.Logger
	analyzer  *intent.Analyzer
	generator *plan.Generator
	registry  *capability.Registry
	store     *plan.Store
	executor  *executor.Executor

	mu      sync.RWMutex
	reports map[string]*executor.Result
}

// New wires a session over shared components.
func New(analyzer *intent.Analyzer, generator *plan.Generator, registry *capability.Registry,
	store *plan.Store, exec *executor.Executor, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Session{
		logger:    logger.Named("session"),
		analyzer:  analyzer,
		generator: generator,
		registry:  registry,
		store:     store,
		executor:  exec,
		reports:   make(map[string]*executor.Result),
	}
}

// Propose analyzes a command and stores the generated plan pending
// approval. Fails when another plan holds the active slot.
func (s *Session) Propose(ctx context.Context, command string) (*plan.Plan, error) {
	it := s.analyzer.Analyze(command)
	s.logger.Debug(ctx, "intent analyzed",
		zap.String("action", it.Action),
		zap.String("environment", string(it.Environment)),
		zap.Float64("confidence", it.Confidence))

	p, err := s.generator.Generate(it, s.registry.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := s.store.Propose(p); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "plan proposed",
		zap.String("plan_id", p.ID),
		zap.Int("steps", len(p.Steps)),
		zap.Stringer("overall_risk", p.OverallRisk))
	return p, nil
}

// Approve marks a pending plan ready for execution and releases the
// active slot.
func (s *Session) Approve(ctx context.Context, planID string) error {
	if err := s.store.Transition(planID, plan.StatusPendingApproval, plan.StatusApproved); err != nil {
		return err
	}
	s.logger.Info(ctx, "plan approved", zap.String("plan_id", planID))
	return nil
}

// Cancel discards a pending plan. Nothing has executed, so this is a pure
// state transition.
func (s *Session) Cancel(ctx context.Context, planID string) error {
	if err := s.store.Cancel(planID); err != nil {
		return err
	}
	s.logger.Info(ctx, "plan cancelled", zap.String("plan_id", planID))
	return nil
}

// Execute runs an approved plan under the given role and retains the
// result for later report retrieval.
func (s *Session) Execute(ctx context.Context, planID, role string) (*executor.Result, error) {
	res, err := s.executor.Execute(ctx, planID, role)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.reports[planID] = res
	s.mu.Unlock()
	return res, nil
}

// Get returns the stored plan.
func (s *Session) Get(ctx context.Context, planID string) (*plan.Plan, error) {
	return s.store.Get(planID)
}

// Report returns the execution result of a plan's last run.
func (s *Session) Report(ctx context.Context, planID string) (*executor.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.reports[planID]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s", ErrNoReport, planID)
	}
	return res, nil
}

// RefreshCapabilities rediscovers the capability catalog from the given
// sources.
func (s *Session) RefreshCapabilities(ctx context.Context, sources []capability.Source) error {
	return s.registry.Refresh(ctx, sources)
}
