// Package executor runs approved plans: topological dispatch with bounded
// parallelism, per-step authorization, bounded retry, and recovery handoff
// on terminal failure.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/orchestd/internal/authz"
	"github.com/fyrsmithlabs/orchestd/internal/backup"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
	"github.com/fyrsmithlabs/orchestd/internal/plan"
	"github.com/fyrsmithlabs/orchestd/internal/recovery"
	"github.com/fyrsmithlabs/orchestd/internal/tool"
)

const instrumentationName = "github.com/fyrsmithlabs/orchestd/internal/executor"

// RecordStatus is the terminal state of one step's execution record.
type RecordStatus string

const (
	RecordNotStarted RecordStatus = "NOT_STARTED"
	RecordRunning    RecordStatus = "RUNNING"
	RecordSucceeded  RecordStatus = "SUCCEEDED"
	RecordFailed     RecordStatus = "FAILED"
	RecordSkipped    RecordStatus = "SKIPPED"
)

// ExecutionRecord is the append-only outcome slot for one step. Each slot
// is written by exactly one worker and never mutated after its terminal
// state.
type ExecutionRecord struct {
	StepID    string        `json:"step_id"`
	StepName  string        `json:"step_name"`
	Status    RecordStatus  `json:"status"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
}

// AuthorizationError is the terminal result of a step denial. The plan
// fails without retry and without recovery: the denied step never ran, so
// nothing was mutated past the gate.
type AuthorizationError struct {
	StepName string
	Role     string
	Reason   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("step %s denied for role %q: %s", e.StepName, e.Role, e.Reason)
}

// Result aggregates one execution pass.
type Result struct {
	PlanID     string              `json:"plan_id"`
	Status     plan.Status         `json:"status"`
	Records    []ExecutionRecord   `json:"records"`
	FailedStep string              `json:"failed_step,omitempty"`
	AuthzError *AuthorizationError `json:"-"`
	Recovery   *recovery.Report    `json:"recovery,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// Config bounds one execution pass.
type Config struct {
	// MaxWorkers bounds concurrently running steps.
	MaxWorkers int

	// StepTimeout bounds each tool invocation.
	StepTimeout time.Duration

	// MaxRetries bounds additional attempts for retryable steps.
	MaxRetries int

	// RetryBackoff is the base delay between attempts; it grows linearly
	// with the attempt number.
	RetryBackoff time.Duration
}

// NewDefaultConfig returns conservative execution bounds.
func NewDefaultConfig() Config {
	return Config{
		MaxWorkers:   4,
		StepTimeout:  2 * time.Minute,
		MaxRetries:   2,
		RetryBackoff: time.Second,
	}
}

// Executor dispatches approved plans.
type Executor struct {
	logger      *logging.Logger
	cfg         Config
	store       *plan.Store
	invoker     tool.Invoker
	gate        *authz.Authorizer
	capturer    backup.Capturer
	coordinator *recovery.Coordinator

	tracer       trace.Tracer
	stepsTotal   metric.Int64Counter
	planDuration metric.Float64Histogram
}

// New creates an executor.
func New(cfg Config, store *plan.Store, invoker tool.Invoker, gate *authz.Authorizer,
	capturer backup.Capturer, coordinator *recovery.Coordinator, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = NewDefaultConfig().MaxWorkers
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = NewDefaultConfig().StepTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = NewDefaultConfig().RetryBackoff
	}

	e := &Executor{
		logger:      logger.Named("executor"),
		cfg:         cfg,
		store:       store,
		invoker:     invoker,
		gate:        gate,
		capturer:    capturer,
		coordinator: coordinator,
		tracer:      otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if e.stepsTotal, err = meter.Int64Counter("orchestd.steps.total",
		metric.WithDescription("Steps dispatched by terminal status")); err != nil {
		e.logger.Underlying().Warn("failed to create metric", zap.Error(err))
	}
	if e.planDuration, err = meter.Float64Histogram("orchestd.plan.duration",
		metric.WithDescription("Plan execution duration"), metric.WithUnit("s")); err != nil {
		e.logger.Underlying().Warn("failed to create metric", zap.Error(err))
	}
	return e
}

// stepDone carries one finished step back to the scheduler.
type stepDone struct {
	name string
	rec  ExecutionRecord
}

// Execute runs an approved plan under the given role. It returns an error
// only when execution cannot start (unknown plan, wrong status); runtime
// failures are reported in the Result after recovery has run.
func (e *Executor) Execute(ctx context.Context, planID, role string) (*Result, error) {
	if err := e.store.Transition(planID, plan.StatusApproved, plan.StatusExecuting); err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	p, err := e.store.Get(planID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithPlanID(ctx, p.ID)
	ctx = logging.WithRole(ctx, role)
	ctx, span := e.tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(
			attribute.String("plan.id", p.ID),
			attribute.String("role", role),
			attribute.Int("steps", len(p.Steps))))
	defer span.End()

	start := time.Now()
	res := e.run(ctx, p, role)
	res.Duration = time.Since(start)

	if e.planDuration != nil {
		e.planDuration.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(attribute.String("status", string(res.Status))))
	}
	e.logger.Info(ctx, "execution finished",
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// run is the scheduler loop. It is the single writer of all records and of
// the plan's terminal transition: workers only report completions.
func (e *Executor) run(ctx context.Context, p *plan.Plan, role string) *Result {
	order, err := plan.TopologicalOrder(p.Steps)
	if err != nil {
		// Generation validates the graph, so this is a stored-state bug.
		e.failPlan(p.ID)
		return &Result{PlanID: p.ID, Status: plan.StatusFailed, FailedStep: "", Records: nil}
	}

	steps := make(map[string]plan.Step, len(p.Steps))
	records := make(map[string]*ExecutionRecord, len(p.Steps))
	for _, s := range p.Steps {
		s := s
		steps[s.Name] = s
		records[s.Name] = &ExecutionRecord{StepID: s.ID, StepName: s.Name, Status: RecordNotStarted}
	}

	var (
		g, gctx    = errgroup.WithContext(ctx)
		sem        = semaphore.NewWeighted(int64(e.cfg.MaxWorkers))
		results    = make(chan stepDone, len(p.Steps))
		dispatched = make(map[string]bool, len(p.Steps))
		succeeded  = make(map[string]bool, len(p.Steps))
		inflight   = 0
		aborted    = false

		failedStep *plan.Step
		failDetail string
		authzErr   *AuthorizationError
		captured   backup.Backup
	)

	for {
		if !aborted {
			for _, name := range order {
				if dispatched[name] || !depsSatisfied(steps[name], succeeded) {
					continue
				}
				step := steps[name]

				// Authorization runs immediately before dispatch, so a
				// permission-table reload takes effect on the next
				// undispatched step.
				if step.ServerID != plan.InternalServerID && e.gate != nil {
					if d := e.gate.Authorize(role, step.ServerID, step.Action); !d.Allowed {
						aborted = true
						authzErr = &AuthorizationError{StepName: step.Name, Role: role, Reason: d.Reason}
						rec := records[name]
						rec.Status = RecordFailed
						rec.Error = authzErr.Error()
						dispatched[name] = true
						e.countStep(ctx, RecordFailed)
						e.logger.Warn(ctx, "step denied",
							zap.String("step", step.Name), zap.String("reason", d.Reason))
						break
					}
				}

				// The pool is full; wait for a completion before
				// dispatching more.
				if !sem.TryAcquire(1) {
					break
				}
				dispatched[name] = true
				records[name].Status = RecordRunning
				inflight++

				g.Go(func() error {
					rec := e.runStep(gctx, p, step, &captured)
					sem.Release(1)
					results <- stepDone{name: step.Name, rec: rec}
					return nil
				})
			}
		}

		if inflight == 0 {
			break
		}

		done := <-results
		inflight--

		rec := records[done.name]
		*rec = done.rec
		if aborted && rec.Status == RecordSucceeded {
			// The plan already failed; a step that finished anyway is
			// recorded but its result is discarded for downstream
			// decisions.
			rec.Status = RecordSkipped
		}
		e.countStep(ctx, rec.Status)

		switch rec.Status {
		case RecordSucceeded:
			succeeded[done.name] = true
		case RecordFailed:
			if failedStep == nil {
				s := steps[done.name]
				failedStep = &s
				failDetail = rec.Error
			}
			aborted = true
		}
	}
	g.Wait()
	close(results)

	res := &Result{PlanID: p.ID, Records: orderedRecords(p, records)}

	switch {
	case authzErr != nil:
		res.Status = plan.StatusFailed
		res.AuthzError = authzErr
		res.FailedStep = authzErr.StepName
		e.failPlan(p.ID)

	case failedStep != nil:
		res.Status = plan.StatusFailed
		res.FailedStep = failedStep.Name
		e.failPlan(p.ID)
		if e.coordinator != nil {
			report := e.coordinator.Recover(ctx, p, *failedStep, failDetail, captured)
			res.Recovery = &report
			if report.Outcome == recovery.OutcomeRestored {
				if err := e.store.Transition(p.ID, plan.StatusFailed, plan.StatusRolledBack); err == nil {
					res.Status = plan.StatusRolledBack
				}
			}
		}

	default:
		res.Status = plan.StatusCompleted
		if err := e.store.Transition(p.ID, plan.StatusExecuting, plan.StatusCompleted); err != nil {
			res.Status = plan.StatusFailed
		}
	}
	return res
}

// runStep executes one step with bounded retries and returns its record.
func (e *Executor) runStep(ctx context.Context, p *plan.Plan, step plan.Step, captured *backup.Backup) ExecutionRecord {
	ctx = logging.WithStepID(ctx, step.ID)
	ctx, span := e.tracer.Start(ctx, "executor.step",
		trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.String("server.id", step.ServerID),
			attribute.String("action", step.Action)))
	defer span.End()

	rec := ExecutionRecord{StepID: step.ID, StepName: step.Name, StartedAt: time.Now().UTC()}

	maxAttempts := 1
	if step.Retryable {
		maxAttempts += e.cfg.MaxRetries
	}

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec.Attempts = attempt

		output, err := e.invokeStep(ctx, p, step, captured)
		if err == nil {
			rec.Status = RecordSucceeded
			rec.Output = output
			rec.Duration = time.Since(rec.StartedAt)
			return rec
		}
		lastErr = err.Error()
		e.logger.Warn(ctx, "step attempt failed",
			zap.String("step", step.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			rec.Status = RecordFailed
			rec.Error = ctx.Err().Error()
			rec.Duration = time.Since(rec.StartedAt)
			return rec
		case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	rec.Status = RecordFailed
	rec.Error = lastErr
	rec.Duration = time.Since(rec.StartedAt)
	return rec
}

// invokeStep dispatches one attempt. The synthetic snapshot step is served
// by the backup capturer; everything else goes through the tool boundary.
func (e *Executor) invokeStep(ctx context.Context, p *plan.Plan, step plan.Step, captured *backup.Backup) (string, error) {
	if step.ServerID == plan.InternalServerID {
		if e.capturer == nil {
			return "", fmt.Errorf("no backup capturer configured")
		}
		b, err := e.capturer.Capture(ctx, p.ID, backupRefs(p))
		if err != nil {
			return "", fmt.Errorf("capture backup: %w", err)
		}
		*captured = b
		return "backup " + b.ID, nil
	}

	result, err := e.invoker.Invoke(ctx, step.ServerID, step.Action, step.Args, e.cfg.StepTimeout)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("%s", result.ErrorDetail)
	}
	return result.Output, nil
}

// backupRefs derives the resource references to snapshot from the plan's
// mutating steps.
func backupRefs(p *plan.Plan) []backup.ResourceRef {
	var refs []backup.ResourceRef
	for _, s := range p.Steps {
		if !s.Mutating {
			continue
		}
		location := s.Name
		if target, ok := s.Args["target"].(string); ok && target != "" {
			location = target + "/" + s.Name
		}
		refs = append(refs, backup.ResourceRef{Kind: s.ServerID, Location: location})
	}
	return refs
}

func (e *Executor) failPlan(planID string) {
	// Only the first terminal-causing event wins the transition; a lost
	// race means another writer already settled the plan.
	_ = e.store.Transition(planID, plan.StatusExecuting, plan.StatusFailed)
}

func (e *Executor) countStep(ctx context.Context, status RecordStatus) {
	if e.stepsTotal != nil {
		e.stepsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
}

func depsSatisfied(step plan.Step, succeeded map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !succeeded[dep] {
			return false
		}
	}
	return true
}

func orderedRecords(p *plan.Plan, records map[string]*ExecutionRecord) []ExecutionRecord {
	out := make([]ExecutionRecord, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, *records[s.Name])
	}
	return out
}
