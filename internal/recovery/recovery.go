// Package recovery drives the zero-downtime recovery sequence after a step
// failure: eight strictly ordered phases from traffic isolation through
// notification.
//
// A phase failure is recorded and the sequence continues, so humans are
// always informed. The exception is the restore phase: if the snapshot
// cannot be reapplied the coordinator escalates immediately, marks user
// impact UNKNOWN, pages, and bypasses the remaining phases.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/archive"
	"github.com/fyrsmithlabs/orchestd/internal/backup"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
	"github.com/fyrsmithlabs/orchestd/internal/notify"
	"github.com/fyrsmithlabs/orchestd/internal/plan"
)

const instrumentationName = "github.com/fyrsmithlabs/orchestd/internal/recovery"

// Phase names in execution order.
const (
	PhaseTrafficIsolation = "traffic_isolation"
	PhaseRestore          = "restore"
	PhaseVerification     = "stability_verification"
	PhaseCleanup          = "resource_cleanup"
	PhaseRootCause        = "root_cause_analysis"
	PhaseRecommendations  = "recommendation_generation"
	PhaseArchival         = "archival"
	PhaseNotification     = "notification"
)

// PhaseStatus is the terminal state of one phase.
type PhaseStatus string

const (
	PhaseSucceeded PhaseStatus = "SUCCEEDED"
	PhaseFailed    PhaseStatus = "FAILED"
)

// UserImpact is the recovery's assessment of end-user visible disruption.
type UserImpact string

const (
	ImpactZero    UserImpact = "ZERO"
	ImpactPartial UserImpact = "PARTIAL"
	ImpactUnknown UserImpact = "UNKNOWN"
)

// Recovery outcomes reported to operators.
const (
	OutcomeRestored  = "restored"
	OutcomeDegraded  = "restored_unverified"
	OutcomeEscalated = "escalated"
)

// PhaseResult records one phase of the sequence.
type PhaseResult struct {
	Name     string        `json:"name"`
	Status   PhaseStatus   `json:"status"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// Report is the externally visible artifact of one recovery run.
type Report struct {
	PlanID          string           `json:"plan_id"`
	TriggerStep     string           `json:"trigger_step"`
	Phases          []PhaseResult    `json:"phases"`
	TotalDuration   time.Duration    `json:"total_duration"`
	UserImpact      UserImpact       `json:"user_impact"`
	Outcome         string           `json:"outcome"`
	RootCause       RootCause        `json:"root_cause"`
	Recommendations []Recommendation `json:"recommendations"`
}

// TrafficController stops live traffic from reaching the failed artifact.
type TrafficController interface {
	Isolate(ctx context.Context, planID, stepName string) error
}

// TrafficFunc adapts a function to the TrafficController interface.
type TrafficFunc func(ctx context.Context, planID, stepName string) error

func (f TrafficFunc) Isolate(ctx context.Context, planID, stepName string) error {
	return f(ctx, planID, stepName)
}

// HealthChecker reports whether the restored resources are healthy.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthFunc adapts a function to the HealthChecker interface.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) Check(ctx context.Context) error { return f(ctx) }

// Cleaner removes resources created by the failed attempt.
type Cleaner interface {
	Cleanup(ctx context.Context, planID string) error
}

// CleanupFunc adapts a function to the Cleaner interface.
type CleanupFunc func(ctx context.Context, planID string) error

func (f CleanupFunc) Cleanup(ctx context.Context, planID string) error { return f(ctx, planID) }

// Config bounds the recovery sequence.
type Config struct {
	// TotalBudget is the wall budget for the whole sequence.
	TotalBudget time.Duration

	// VerifyInterval is the poll interval of stability verification.
	VerifyInterval time.Duration

	// VerifyTimeout bounds the stability verification poll loop.
	VerifyTimeout time.Duration
}

// NewDefaultConfig targets sub-five-second recovery for a single-resource
// deployment failure.
func NewDefaultConfig() Config {
	return Config{
		TotalBudget:    5 * time.Second,
		VerifyInterval: 100 * time.Millisecond,
		VerifyTimeout:  2 * time.Second,
	}
}

// Coordinator runs the recovery sequence.
type Coordinator struct {
	logger   *logging.Logger
	cfg      Config
	capturer backup.Capturer
	archive  *archive.Store
	fanout   *notify.Fanout
	traffic  TrafficController
	health   HealthChecker
	cleaner  Cleaner

	tracer           trace.Tracer
	recoveriesTotal  metric.Int64Counter
	recoveryDuration metric.Float64Histogram
	phaseFailures    metric.Int64Counter
}

// NewCoordinator wires the recovery sequence. Traffic, health, and cleanup
// controllers are optional; absent controllers succeed trivially so the
// sequence still reaches analysis and notification.
func NewCoordinator(cfg Config, capturer backup.Capturer, archiveStore *archive.Store, fanout *notify.Fanout,
	traffic TrafficController, health HealthChecker, cleaner Cleaner, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = NewDefaultConfig().TotalBudget
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = NewDefaultConfig().VerifyInterval
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = NewDefaultConfig().VerifyTimeout
	}

	c := &Coordinator{
		logger:   logger.Named("recovery"),
		cfg:      cfg,
		capturer: capturer,
		archive:  archiveStore,
		fanout:   fanout,
		traffic:  traffic,
		health:   health,
		cleaner:  cleaner,
		tracer:   otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if c.recoveriesTotal, err = meter.Int64Counter("orchestd.recoveries.total",
		metric.WithDescription("Recovery sequences started")); err != nil {
		c.logger.Underlying().Warn("failed to create metric", zap.Error(err))
	}
	if c.recoveryDuration, err = meter.Float64Histogram("orchestd.recovery.duration",
		metric.WithDescription("Recovery sequence duration"), metric.WithUnit("s")); err != nil {
		c.logger.Underlying().Warn("failed to create metric", zap.Error(err))
	}
	if c.phaseFailures, err = meter.Int64Counter("orchestd.recovery.phase_failures",
		metric.WithDescription("Recovery phase failures")); err != nil {
		c.logger.Underlying().Warn("failed to create metric", zap.Error(err))
	}
	return c
}

// Recover runs the sequence for a failed step. It always returns a report;
// recovery-internal errors are recorded in phase results, never returned.
func (c *Coordinator) Recover(ctx context.Context, p *plan.Plan, failed plan.Step, errDetail string, b backup.Backup) Report {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalBudget)
	defer cancel()
	ctx = logging.WithPlanID(ctx, p.ID)

	ctx, span := c.tracer.Start(ctx, "recovery.recover",
		trace.WithAttributes(
			attribute.String("plan.id", p.ID),
			attribute.String("step.name", failed.Name)))
	defer span.End()

	if c.recoveriesTotal != nil {
		c.recoveriesTotal.Add(ctx, 1)
	}

	start := time.Now()
	report := Report{PlanID: p.ID, TriggerStep: failed.Name}

	// Phase 1: no new requests may reach the failed artifact.
	isolation := c.runPhase(ctx, &report, PhaseTrafficIsolation, func(ctx context.Context) (string, error) {
		if c.traffic == nil {
			return "no traffic controller configured", nil
		}
		return "routing to failed artifact stopped", c.traffic.Isolate(ctx, p.ID, failed.Name)
	})

	// Phase 2: reapply the snapshot. Failure here is fatal. A plan that
	// failed before its snapshot step never mutated anything, so there is
	// nothing to reapply.
	restore := c.runPhase(ctx, &report, PhaseRestore, func(ctx context.Context) (string, error) {
		if b.ID == "" {
			return "no mutations before failure, nothing to restore", nil
		}
		if c.capturer == nil {
			return "", fmt.Errorf("no backup capturer configured")
		}
		if err := c.capturer.Restore(ctx, b); err != nil {
			return "", err
		}
		return fmt.Sprintf("snapshot %s reapplied", b.ID), nil
	})
	if restore.Status == PhaseFailed {
		return c.escalate(ctx, &report, p, failed, errDetail, start)
	}

	// Phase 3: poll until health checks pass or the bound elapses. A
	// timeout does not stop the sequence but the impact can no longer be
	// vouched for.
	verified := c.runPhase(ctx, &report, PhaseVerification, func(ctx context.Context) (string, error) {
		return c.verifyStability(ctx)
	})

	// Phase 4: no orphaned state from the failed attempt.
	c.runPhase(ctx, &report, PhaseCleanup, func(ctx context.Context) (string, error) {
		if c.cleaner == nil {
			return "no cleaner configured", nil
		}
		return "failed attempt resources removed", c.cleaner.Cleanup(ctx, p.ID)
	})

	// Phase 5: classify the failure.
	c.runPhase(ctx, &report, PhaseRootCause, func(ctx context.Context) (string, error) {
		report.RootCause = Classify(failed, errDetail)
		return report.RootCause.LikelyCause, nil
	})

	// Phase 6: remediation list, never empty.
	c.runPhase(ctx, &report, PhaseRecommendations, func(ctx context.Context) (string, error) {
		report.Recommendations = Recommend(report.RootCause)
		return fmt.Sprintf("%d recommendations", len(report.Recommendations)), nil
	})

	switch {
	case verified.Status == PhaseFailed:
		report.UserImpact = ImpactUnknown
		report.Outcome = OutcomeDegraded
	case isolation.Status == PhaseFailed:
		report.UserImpact = ImpactPartial
		report.Outcome = OutcomeRestored
	default:
		report.UserImpact = ImpactZero
		report.Outcome = OutcomeRestored
	}

	// Phase 7: durable failure record.
	c.runPhase(ctx, &report, PhaseArchival, func(ctx context.Context) (string, error) {
		if c.archive == nil {
			return "", fmt.Errorf("no archive store configured")
		}
		entry, err := c.archive.Append(archive.Entry{
			PlanID:          p.ID,
			FailedStep:      failed.Name,
			ExecutionLog:    errDetail,
			RootCauseType:   report.RootCause.Type,
			RootCauseDetail: report.RootCause.LikelyCause,
			PostRestoreState: map[string]any{
				"outcome":     report.Outcome,
				"user_impact": string(report.UserImpact),
			},
		})
		if err != nil {
			return "", err
		}
		return "archived as " + entry.ID, nil
	})

	// Phase 8: humans are always informed.
	c.runPhase(ctx, &report, PhaseNotification, func(ctx context.Context) (string, error) {
		delivered := c.notify(ctx, &report, failed, verified.Status == PhaseFailed)
		return fmt.Sprintf("delivered to %d channels", delivered), nil
	})

	report.TotalDuration = time.Since(start)
	if c.recoveryDuration != nil {
		c.recoveryDuration.Record(ctx, report.TotalDuration.Seconds())
	}
	c.logger.Info(ctx, "recovery complete",
		zap.String("outcome", report.Outcome),
		zap.String("user_impact", string(report.UserImpact)),
		zap.Duration("total_duration", report.TotalDuration))
	return report
}

// escalate handles a failed restore: impact is unknown, paging is
// immediate, and the remaining phases are bypassed.
func (c *Coordinator) escalate(ctx context.Context, report *Report, p *plan.Plan, failed plan.Step, errDetail string, start time.Time) Report {
	report.UserImpact = ImpactUnknown
	report.Outcome = OutcomeEscalated
	report.RootCause = Classify(failed, errDetail)
	report.Recommendations = Recommend(report.RootCause)

	c.runPhase(ctx, report, PhaseNotification, func(ctx context.Context) (string, error) {
		delivered := c.notify(ctx, report, failed, true)
		return fmt.Sprintf("paged %d channels", delivered), nil
	})

	report.TotalDuration = time.Since(start)
	if c.recoveryDuration != nil {
		c.recoveryDuration.Record(ctx, report.TotalDuration.Seconds())
	}
	c.logger.Error(ctx, "recovery escalated: restore failed",
		zap.String("trigger_step", failed.Name),
		zap.Duration("total_duration", report.TotalDuration))
	return *report
}

// runPhase times one phase, records its result, and keeps the sequence
// moving on failure.
func (c *Coordinator) runPhase(ctx context.Context, report *Report, name string, fn func(ctx context.Context) (string, error)) PhaseResult {
	ctx, span := c.tracer.Start(ctx, "recovery."+name)
	defer span.End()

	start := time.Now()
	detail, err := fn(ctx)
	res := PhaseResult{
		Name:     name,
		Status:   PhaseSucceeded,
		Duration: time.Since(start),
		Detail:   detail,
	}
	if err != nil {
		res.Status = PhaseFailed
		res.Detail = err.Error()
		if c.phaseFailures != nil {
			c.phaseFailures.Add(ctx, 1)
		}
		c.logger.Warn(ctx, "recovery phase failed",
			zap.String("phase", name), zap.Error(err))
	}
	report.Phases = append(report.Phases, res)
	return res
}

// verifyStability polls the health checker until it passes or the verify
// timeout elapses.
func (c *Coordinator) verifyStability(ctx context.Context) (string, error) {
	if c.health == nil {
		return "no health checker configured", nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.VerifyInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		lastErr := c.health.Check(ctx)
		if lastErr == nil {
			return fmt.Sprintf("healthy after %d checks", attempts), nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("stability not reached after %d checks: %w", attempts, lastErr)
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) notify(ctx context.Context, report *Report, failed plan.Step, page bool) int {
	if c.fanout == nil {
		return 0
	}
	nextAction := ""
	if len(report.Recommendations) > 0 {
		nextAction = report.Recommendations[0].Action
	}
	return c.fanout.Send(ctx, notify.Message{
		PlanID:          report.PlanID,
		FailedStep:      failed.Name,
		RecoveryOutcome: report.Outcome,
		UserImpact:      string(report.UserImpact),
		RootCause:       report.RootCause.LikelyCause,
		NextAction:      nextAction,
		Page:            page,
	})
}
