// Package intent maps free-form operator commands to structured intents.
package intent

import (
	"strings"
)

// Environment is a deployment target environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Urgency is how fast the operator wants the action carried out.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyFast   Urgency = "fast"
	UrgencyUrgent Urgency = "urgent"
)

// Intent is the structured form of one operator command.
// Created once per command; never mutated.
type Intent struct {
	// Action is the recognized action keyword (deploy, rollback, scale,
	// build, test). Empty when no action was recognized.
	Action string `json:"action"`

	// Target is the application or service the action applies to.
	Target string `json:"target"`

	Environment Environment `json:"environment"`
	Urgency     Urgency     `json:"urgency"`

	// Params carries free parameters extracted from the command.
	Params map[string]string `json:"params,omitempty"`

	// Confidence is the analyzer's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// actionKeywords maps trigger words to the canonical action, in priority
// order: the first matching keyword decides, so "deploy and test" is a
// deploy.
var actionKeywords = []struct {
	keyword string
	action  string
}{
	{"deploy", "deploy"},
	{"deployment", "deploy"},
	{"release", "deploy"},
	{"ship", "deploy"},
	{"rollback", "rollback"},
	{"revert", "rollback"},
	{"scale", "scale"},
	{"scaling", "scale"},
	{"build", "build"},
	{"test", "test"},
}

// urgentKeywords mark a command as urgent.
var urgentKeywords = []string{"urgent", "emergency", "hotfix", "critical", "now", "asap"}

// targetMarkers precede the target name in a command
// ("deploy service checkout to production").
var targetMarkers = []string{"code", "app", "application", "service", "microservice"}

// Analyzer turns free-form commands into Intents.
type Analyzer struct {
	defaultEnv Environment
}

// NewAnalyzer creates an analyzer. The default environment applies when the
// command names none; production is the conservative default.
func NewAnalyzer() *Analyzer {
	return &Analyzer{defaultEnv: EnvProduction}
}

// Analyze extracts the structured intent from a command. It never fails;
// unrecognizable commands yield a zero-confidence Intent that plan
// generation rejects as ambiguous.
func (a *Analyzer) Analyze(command string) Intent {
	lower := strings.ToLower(command)
	words := strings.Fields(command)

	it := Intent{
		Environment: a.defaultEnv,
		Urgency:     UrgencyNormal,
		Params:      map[string]string{},
	}

	for _, kw := range actionKeywords {
		if containsWord(lower, kw.keyword) {
			it.Action = kw.action
			break
		}
	}

	envExplicit := false
	switch {
	case containsWord(lower, "prod") || containsWord(lower, "production"):
		it.Environment = EnvProduction
		envExplicit = true
	case containsWord(lower, "staging") || containsWord(lower, "stage"):
		it.Environment = EnvStaging
		envExplicit = true
	case containsWord(lower, "dev") || containsWord(lower, "development"):
		it.Environment = EnvDevelopment
		envExplicit = true
	}

	for _, kw := range urgentKeywords {
		if containsWord(lower, kw) {
			it.Urgency = UrgencyUrgent
			break
		}
	}
	if it.Urgency == UrgencyNormal && (containsWord(lower, "fast") || containsWord(lower, "quick")) {
		it.Urgency = UrgencyFast
	}

	for i, word := range words {
		for _, marker := range targetMarkers {
			if strings.EqualFold(word, marker) && i+1 < len(words) {
				it.Target = strings.Trim(words[i+1], ".,!?\"'")
				break
			}
		}
		if it.Target != "" {
			break
		}
	}

	it.Confidence = confidence(it, envExplicit)
	return it
}

// confidence scores how unambiguous the parsed intent is. An unrecognized
// action is always zero; explicit environment and target each add signal.
func confidence(it Intent, envExplicit bool) float64 {
	if it.Action == "" {
		return 0
	}
	score := 0.6
	if envExplicit {
		score += 0.2
	}
	if it.Target != "" {
		score += 0.2
	}
	return score
}

// containsWord reports whether s contains w as a whole word.
func containsWord(s, w string) bool {
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if field == w {
			return true
		}
	}
	return false
}
