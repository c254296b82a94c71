// Package authz decides whether a role may execute an action.
//
// Decisions come from a YAML permission table mapping action patterns to
// allowed roles. The table is default deny: an action with no matching
// rule is rejected for every role. The table reloads on file change, and
// each decision reads the table current at call time.
package authz

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/logging"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Rule grants roles the right to run actions matching a pattern. A
// pattern is an exact action name, or a prefix ending in "*"
// ("deploy*"). Server restricts the rule to one tool server; empty
// matches all servers.
type Rule struct {
	Server  string   `koanf:"server" json:"server,omitempty"`
	Pattern string   `koanf:"action" json:"action"`
	Roles   []string `koanf:"roles" json:"roles"`
}

func (r Rule) matches(serverID, action string) bool {
	if r.Server != "" && r.Server != serverID {
		return false
	}
	if suffix, ok := strings.CutSuffix(r.Pattern, "*"); ok {
		return strings.HasPrefix(action, suffix)
	}
	return r.Pattern == action
}

func (r Rule) permits(role string) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

type table struct {
	rules []Rule
}

// Authorizer evaluates role permissions against the loaded table.
type Authorizer struct {
	logger *logging.Logger
	path   string

	tab     atomic.Pointer[table]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAuthorizer loads the permission table from path. An empty path
// yields an authorizer with no rules, which denies everything. With
// watch set, the file is reloaded whenever it changes on disk; a reload
// that fails to parse keeps the previous table.
func NewAuthorizer(path string, watch bool, logger *logging.Logger) (*Authorizer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Authorizer{
		logger: logger.Named("authz"),
		path:   path,
	}
	a.tab.Store(&table{})

	if path == "" {
		return a, nil
	}
	if err := a.reload(); err != nil {
		return nil, err
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		// Watch the directory: editors and config managers replace the
		// file rather than writing it in place.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
		}
		a.watcher = watcher
		a.done = make(chan struct{})
		go a.watch()
	}
	return a, nil
}

// Close stops the file watcher if one is running.
func (a *Authorizer) Close() error {
	if a.watcher == nil {
		return nil
	}
	err := a.watcher.Close()
	<-a.done
	return err
}

// Authorize decides whether role may run action on serverID. The deny
// reason names the roles that would be allowed so operators can request
// the right access.
func (a *Authorizer) Authorize(role, serverID, action string) Decision {
	tab := a.tab.Load()

	var required []string
	for _, rule := range tab.rules {
		if !rule.matches(serverID, action) {
			continue
		}
		if rule.permits(role) {
			return Decision{Allowed: true}
		}
		required = append(required, rule.Roles...)
	}

	if len(required) == 0 {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("no rule permits %s/%s; default deny", serverID, action),
		}
	}
	sort.Strings(required)
	return Decision{
		Allowed: false,
		Reason: fmt.Sprintf("role %q not permitted for %s/%s; allowed roles: %s",
			role, serverID, action, strings.Join(dedup(required), ", ")),
	}
}

// Rules returns a copy of the current rule set.
func (a *Authorizer) Rules() []Rule {
	return append([]Rule(nil), a.tab.Load().rules...)
}

func (a *Authorizer) reload() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("read permissions file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return fmt.Errorf("parse permissions file: %w", err)
	}

	var parsed struct {
		Rules []Rule `koanf:"rules"`
	}
	if err := k.Unmarshal("", &parsed); err != nil {
		return fmt.Errorf("unmarshal permissions file: %w", err)
	}
	for i, rule := range parsed.Rules {
		if rule.Pattern == "" {
			return fmt.Errorf("rule %d: action pattern is required", i)
		}
		if len(rule.Roles) == 0 {
			return fmt.Errorf("rule %d (%s): at least one role is required", i, rule.Pattern)
		}
	}

	a.tab.Store(&table{rules: parsed.Rules})
	return nil
}

func (a *Authorizer) watch() {
	defer close(a.done)
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Name != a.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := a.reload(); err != nil {
				a.logger.Underlying().Warn("permission table reload failed, keeping previous table",
					zap.String("path", a.path), zap.Error(err))
				continue
			}
			a.logger.Underlying().Info("permission table reloaded",
				zap.String("path", a.path), zap.Int("rules", len(a.tab.Load().rules)))
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Underlying().Warn("permission table watcher error", zap.Error(err))
		}
	}
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
