package plan

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/capability"
	"github.com/fyrsmithlabs/orchestd/internal/intent"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
	"github.com/fyrsmithlabs/orchestd/internal/risk"
)

// BackupStepName is the synthetic snapshot step the generator inserts
// before the first state-mutating step of a plan.
const BackupStepName = "backup_snapshot"

// InternalServerID marks steps the executor serves itself rather than
// dispatching to a tool server.
const InternalServerID = "orchestd"

// defaultMinConfidence is the analyzer confidence below which generation
// rejects the intent as ambiguous.
const defaultMinConfidence = 0.5

// patternStep is one abstract step of a template, resolved against the
// capability catalog at generation time.
type patternStep struct {
	name string

	// match lists capability needles in preference order; the first one
	// that resolves wins.
	match []string

	dependsOn []string
	retryable bool
	mutating  bool

	// required steps fail generation when unresolvable; optional steps
	// are dropped and their dependents inherit their dependencies.
	required bool

	rollback string
	args     map[string]any
}

// pattern is a named step template for one (action, environment, urgency)
// shape.
type pattern struct {
	name  string
	steps []patternStep
}

// Generator turns intents into plans using pattern templates, the
// capability catalog, and the risk model.
type Generator struct {
	logger        *logging.Logger
	model         *risk.Model
	minConfidence float64
}

// NewGenerator creates a plan generator.
func NewGenerator(model *risk.Model, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{
		logger:        logger.Named("plan"),
		model:         model,
		minConfidence: defaultMinConfidence,
	}
}

// WithMinConfidence overrides the confidence floor. Values outside (0, 1]
// keep the default.
func (g *Generator) WithMinConfidence(min float64) *Generator {
	if min > 0 && min <= 1 {
		g.minConfidence = min
	}
	return g
}

// Generate produces a PENDING_APPROVAL plan for the intent from the given
// capability snapshot. Generation is deterministic for a fixed intent and
// snapshot: same step names, risk tiers, and edges (plan and step IDs are
// fresh each call).
func (g *Generator) Generate(it intent.Intent, snapshot []capability.Capability) (*Plan, error) {
	if it.Action == "" || it.Confidence < g.minConfidence {
		return nil, generationErrorf(KindAmbiguousIntent,
			"intent confidence %.2f below %.2f for command action %q", it.Confidence, g.minConfidence, it.Action)
	}
	if len(snapshot) == 0 {
		return nil, generationErrorf(KindNoCapabilities, "capability catalog is empty")
	}

	tmpl := selectPattern(it)

	steps, err := g.resolve(tmpl, it, snapshot)
	if err != nil {
		return nil, err
	}
	steps = insertBackupStep(steps)

	overall := risk.TierLow
	for _, s := range steps {
		overall = risk.Max(overall, s.RiskTier)
	}

	p := &Plan{
		ID:            uuid.NewString(),
		Intent:        it,
		Steps:         steps,
		OverallRisk:   overall,
		ComplianceSet: g.model.Compliance(it.Environment),
		Status:        StatusPendingApproval,
		CreatedAt:     time.Now().UTC(),
	}
	if err := Validate(p.Steps); err != nil {
		return nil, generationErrorf(KindUnresolvableStep, "pattern %s produced an invalid graph: %v", tmpl.name, err)
	}

	g.logger.Underlying().Info("plan generated",
		zap.String("plan_id", p.ID),
		zap.String("pattern", tmpl.name),
		zap.Int("steps", len(p.Steps)),
		zap.Stringer("overall_risk", p.OverallRisk))
	return p, nil
}

// resolve binds each pattern step to the best matching capability. Optional
// steps with no match are dropped; their dependents inherit their
// dependencies so the graph stays connected.
func (g *Generator) resolve(tmpl pattern, it intent.Intent, snapshot []capability.Capability) ([]Step, error) {
	var steps []Step
	dropped := make(map[string][]string)

	for _, ps := range tmpl.steps {
		cap, ok := resolveCapability(ps.match, snapshot)
		if !ok {
			if ps.required {
				return nil, generationErrorf(KindUnresolvableStep,
					"no capability satisfies required step %q of pattern %s", ps.name, tmpl.name)
			}
			dropped[ps.name] = expandDeps(ps.dependsOn, dropped)
			continue
		}

		step := Step{
			ID:           uuid.NewString(),
			Name:         ps.name,
			ServerID:     cap.ServerID,
			Action:       cap.Action,
			Args:         stepArgs(it, ps.args),
			RiskTier:     g.model.Assess(cap.Action, it.Environment),
			DependsOn:    expandDeps(ps.dependsOn, dropped),
			Retryable:    ps.retryable,
			Mutating:     ps.mutating,
			RollbackHint: ps.rollback,
		}
		if ps.mutating {
			step.Compliance = g.model.Compliance(it.Environment)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// insertBackupStep adds the snapshot step and makes every mutating step
// depend on it, so no external state changes before the backup exists. The
// snapshot inherits the first mutating step's dependencies: it runs right
// before the first mutation, and an earlier step failure leaves no backup
// behind because nothing was ever at risk.
func insertBackupStep(steps []Step) []Step {
	firstMutating := -1
	for i, s := range steps {
		if s.Mutating {
			firstMutating = i
			break
		}
	}
	if firstMutating < 0 {
		return steps
	}

	backup := Step{
		ID:        uuid.NewString(),
		Name:      BackupStepName,
		ServerID:  InternalServerID,
		Action:    "capture_backup",
		RiskTier:  risk.TierLow,
		DependsOn: append([]string(nil), steps[firstMutating].DependsOn...),
		Retryable: true,
	}
	out := append([]Step{backup}, steps...)
	for i := range out {
		if out[i].Mutating {
			out[i].DependsOn = append(out[i].DependsOn, BackupStepName)
			sort.Strings(out[i].DependsOn)
		}
	}
	return out
}

func resolveCapability(needles []string, snapshot []capability.Capability) (capability.Capability, bool) {
	for _, needle := range needles {
		if cap, ok := capability.BestMatch(needle, snapshot); ok {
			return cap, true
		}
	}
	return capability.Capability{}, false
}

// expandDeps replaces references to dropped steps with the dependencies
// those steps had, transitively.
func expandDeps(deps []string, dropped map[string][]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, dep := range deps {
		if inherited, ok := dropped[dep]; ok {
			for _, d := range inherited {
				if !seen[d] {
					seen[d] = true
					out = append(out, d)
				}
			}
			continue
		}
		if !seen[dep] {
			seen[dep] = true
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}

func stepArgs(it intent.Intent, extra map[string]any) map[string]any {
	args := map[string]any{
		"environment": string(it.Environment),
	}
	if it.Target != "" {
		args["target"] = it.Target
	}
	for k, v := range it.Params {
		args[k] = v
	}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

// selectPattern picks the template for the intent. Urgent deployments take
// the fast-track shape regardless of environment; it drops the staging
// rehearsal and scans but never the snapshot or rollback metadata.
func selectPattern(it intent.Intent) pattern {
	switch it.Action {
	case "deploy":
		if it.Urgency == intent.UrgencyUrgent {
			return fastTrackDeployPattern
		}
		switch it.Environment {
		case intent.EnvProduction:
			return productionDeployPattern
		case intent.EnvStaging:
			return stagingDeployPattern
		default:
			return devDeployPattern
		}
	case "rollback":
		return rollbackPattern
	case "scale":
		return scalePattern
	case "build":
		return buildPattern
	default: // "test"
		return testPattern
	}
}

var productionDeployPattern = pattern{
	name: "production_deploy",
	steps: []patternStep{
		{name: "build", match: []string{"build"}, retryable: true, required: true},
		{name: "test", match: []string{"test"}, dependsOn: []string{"build"}, retryable: true, required: true},
		{name: "quality_scan", match: []string{"quality_scan", "scan"}, dependsOn: []string{"test"},
			retryable: true, required: true, args: map[string]any{"profile": "quality"}},
		{name: "security_scan", match: []string{"security_scan", "scan"}, dependsOn: []string{"test"},
			retryable: true, required: true, args: map[string]any{"profile": "security"}},
		{name: "staging_deploy", match: []string{"deploy"}, dependsOn: []string{"quality_scan", "security_scan"},
			mutating: true, required: true,
			rollback: "redeploy the previous image tag to staging",
			args:     map[string]any{"stage": "staging"}},
		{name: "staging_validation", match: []string{"validate", "status"}, dependsOn: []string{"staging_deploy"},
			retryable: true},
		{name: "production_deploy_canary", match: []string{"deploy"}, dependsOn: []string{"staging_validation"},
			mutating: true, required: true,
			rollback: "shift traffic to the stable revision and scale the canary to zero",
			args:     map[string]any{"stage": "production", "strategy": "canary"}},
		{name: "production_monitor", match: []string{"monitor", "status"}, dependsOn: []string{"production_deploy_canary"},
			retryable: true},
		{name: "finalize", match: []string{"finalize", "tag"}, dependsOn: []string{"production_monitor"}},
	},
}

var stagingDeployPattern = pattern{
	name: "staging_deploy",
	steps: []patternStep{
		{name: "build", match: []string{"build"}, retryable: true, required: true},
		{name: "test", match: []string{"test"}, dependsOn: []string{"build"}, retryable: true, required: true},
		{name: "quality_scan", match: []string{"quality_scan", "scan"}, dependsOn: []string{"test"},
			retryable: true, required: true, args: map[string]any{"profile": "quality"}},
		{name: "staging_deploy", match: []string{"deploy"}, dependsOn: []string{"quality_scan"},
			mutating: true, required: true,
			rollback: "redeploy the previous image tag to staging",
			args:     map[string]any{"stage": "staging"}},
		{name: "validation", match: []string{"validate", "status"}, dependsOn: []string{"staging_deploy"},
			retryable: true},
	},
}

var devDeployPattern = pattern{
	name: "dev_deploy",
	steps: []patternStep{
		{name: "build", match: []string{"build"}, retryable: true, required: true},
		{name: "test", match: []string{"test"}, dependsOn: []string{"build"}, retryable: true, required: true},
		{name: "deploy", match: []string{"deploy"}, dependsOn: []string{"test"},
			mutating: true, required: true,
			rollback: "redeploy the previous image tag"},
	},
}

var fastTrackDeployPattern = pattern{
	name: "fast_track_deploy",
	steps: []patternStep{
		{name: "build", match: []string{"build"}, retryable: true, required: true},
		{name: "critical_tests", match: []string{"test"}, dependsOn: []string{"build"},
			retryable: true, required: true, args: map[string]any{"suite": "critical"}},
		{name: "production_deploy_blue_green", match: []string{"deploy"}, dependsOn: []string{"critical_tests"},
			mutating: true, required: true,
			rollback: "switch traffic back to the blue environment",
			args:     map[string]any{"strategy": "blue_green"}},
		{name: "immediate_validation", match: []string{"validate", "status"},
			dependsOn: []string{"production_deploy_blue_green"}, retryable: true},
		{name: "monitor", match: []string{"monitor", "status"}, dependsOn: []string{"immediate_validation"},
			retryable: true},
	},
}

var rollbackPattern = pattern{
	name: "rollback",
	steps: []patternStep{
		{name: "traffic_drain", match: []string{"drain", "traffic"}, mutating: true,
			rollback: "restore routing weights"},
		{name: "deployment_rollback", match: []string{"rollback", "deploy"}, dependsOn: []string{"traffic_drain"},
			mutating: true, required: true,
			rollback: "restore the pre-rollback snapshot"},
		{name: "validation", match: []string{"validate", "status"}, dependsOn: []string{"deployment_rollback"},
			retryable: true},
	},
}

var scalePattern = pattern{
	name: "scale",
	steps: []patternStep{
		{name: "scale_workload", match: []string{"scale"}, mutating: true, required: true,
			rollback: "scale back to the previous replica count"},
		{name: "verify_capacity", match: []string{"status", "get"}, dependsOn: []string{"scale_workload"},
			retryable: true},
	},
}

var buildPattern = pattern{
	name: "build",
	steps: []patternStep{
		{name: "build", match: []string{"build"}, retryable: true, required: true},
	},
}

var testPattern = pattern{
	name: "test",
	steps: []patternStep{
		{name: "build", match: []string{"build"}, retryable: true},
		{name: "test", match: []string{"test"}, dependsOn: []string{"build"}, retryable: true, required: true},
	},
}
