package recovery

import (
	"strings"

	"github.com/fyrsmithlabs/orchestd/internal/plan"
)

// RootCause is the classified explanation of a step failure.
type RootCause struct {
	Type               string   `json:"type"`
	Message            string   `json:"message"`
	LikelyCause        string   `json:"likely_cause"`
	AffectedComponents []string `json:"affected_components,omitempty"`
}

// Recommendation is one remediation action, ordered by priority.
type Recommendation struct {
	Priority  string `json:"priority"`
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
	Example   string `json:"example,omitempty"`
}

const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
)

const (
	causeStartup  = "container startup failure"
	causeMissing  = "missing configuration or dependency"
	causeAccess   = "access-control gap"
	causeNetwork  = "network connectivity"
	causeCapacity = "capacity exhaustion"
	causeUnknown  = "unknown, manual investigation required"
)

// failureTypes maps step-name keywords to the failure type, first match
// wins.
var failureTypes = []struct {
	keyword string
	ftype   string
}{
	{"deploy", "deployment_failure"},
	{"rollback", "deployment_failure"},
	{"build", "build_failure"},
	{"test", "test_failure"},
	{"quality", "quality_gate_failure"},
	{"security", "quality_gate_failure"},
}

// causeSignatures maps error-signature keywords to the likely cause, first
// match wins so classification is deterministic.
var causeSignatures = []struct {
	keyword string
	cause   string
}{
	{"crashloop", causeStartup},
	{"crash loop", causeStartup},
	{"crash", causeStartup},
	{"restarting", causeStartup},
	{"cannot find module", causeMissing},
	{"cannot find", causeMissing},
	{"not found", causeMissing},
	{"missing", causeMissing},
	{"no such", causeMissing},
	{"permission", causeAccess},
	{"denied", causeAccess},
	{"forbidden", causeAccess},
	{"unauthorized", causeAccess},
	{"rbac", causeAccess},
	{"timeout", causeNetwork},
	{"timed out", causeNetwork},
	{"connection", causeNetwork},
	{"unreachable", causeNetwork},
	{"oom", causeCapacity},
	{"out of memory", causeCapacity},
	{"memory", causeCapacity},
	{"evicted", causeCapacity},
}

// Classify derives the root cause from the failed step and its error
// detail. It is a pure function over its inputs.
func Classify(step plan.Step, errDetail string) RootCause {
	name := strings.ToLower(step.Name + " " + step.Action)
	ftype := "general_failure"
	for _, entry := range failureTypes {
		if strings.Contains(name, entry.keyword) {
			ftype = entry.ftype
			break
		}
	}

	detail := strings.ToLower(errDetail)
	cause := causeUnknown
	for _, entry := range causeSignatures {
		if strings.Contains(detail, entry.keyword) {
			cause = entry.cause
			break
		}
	}

	affected := []string{step.ServerID}
	if target, ok := step.Args["target"].(string); ok && target != "" {
		affected = append(affected, target)
	}

	return RootCause{
		Type:               ftype,
		Message:            errDetail,
		LikelyCause:        cause,
		AffectedComponents: affected,
	}
}

// Recommend maps a classified cause to an ordered remediation list. The
// list is never empty: even an unknown cause yields investigation steps.
func Recommend(cause RootCause) []Recommendation {
	switch cause.LikelyCause {
	case causeStartup:
		return []Recommendation{
			{
				Priority:  PriorityHigh,
				Action:    "inspect the container logs and fix the image entrypoint",
				Rationale: "the workload never reached a ready state",
				Example:   "kubectl logs deploy/<name> --previous",
			},
			{
				Priority:  PriorityMedium,
				Action:    "rebuild the image and re-run the plan",
				Rationale: "a corrected image needs a fresh rollout",
				Example:   "git push && orchctl propose \"deploy app to staging\"",
			},
		}
	case causeMissing:
		return []Recommendation{
			{
				Priority:  PriorityHigh,
				Action:    "create the missing configuration or dependency",
				Rationale: "the workload cannot start without it",
				Example:   "kubectl create configmap app-config --from-file=config.yaml",
			},
			{
				Priority:  PriorityMedium,
				Action:    "commit and push the fix, then re-run the plan",
				Rationale: "the fix must land in source control before redeploying",
				Example:   "git add . && git commit -m \"add missing config\" && git push",
			},
		}
	case causeAccess:
		return []Recommendation{
			{
				Priority:  PriorityHigh,
				Action:    "grant the service account the missing permission",
				Rationale: "the runtime rejected the operation",
				Example:   "kubectl create rolebinding app --clusterrole=edit --serviceaccount=default:app",
			},
			{
				Priority:  PriorityMedium,
				Action:    "re-run the plan after access is granted",
				Rationale: "the previous attempt stopped at the denied call",
			},
		}
	case causeNetwork:
		return []Recommendation{
			{
				Priority:  PriorityHigh,
				Action:    "check connectivity between the runner and the target endpoint",
				Rationale: "the invocation never completed",
				Example:   "kubectl get endpoints <service> && curl -m 5 <endpoint>/healthz",
			},
			{
				Priority:  PriorityMedium,
				Action:    "re-run the plan once the endpoint is reachable",
				Rationale: "the failure was transport-level, not a code defect",
			},
		}
	case causeCapacity:
		return []Recommendation{
			{
				Priority:  PriorityHigh,
				Action:    "raise the workload's resource limits or add cluster capacity",
				Rationale: "the runtime killed the workload for exceeding its budget",
				Example:   "kubectl set resources deploy/<name> --limits=memory=1Gi",
			},
			{
				Priority:  PriorityMedium,
				Action:    "profile memory usage before the next rollout",
				Rationale: "a leak will exhaust any limit eventually",
			},
		}
	default:
		return []Recommendation{
			{
				Priority:  PriorityMedium,
				Action:    "inspect the archived execution log for this plan",
				Rationale: "the failure signature matched no known cause",
				Example:   "orchctl report <plan-id>",
			},
			{
				Priority:  PriorityMedium,
				Action:    "re-run the plan after manual investigation",
				Rationale: "the failure may be transient",
			},
		}
	}
}
