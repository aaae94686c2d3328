// Package privacy suppresses messages according to named visibility
// modes. A mode is an ordered list of hide rules and may extend a parent
// mode, accumulating its rules recursively.
package privacy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memorylane/memorylane/internal/model"
)

// ProviderWildcard matches every provider in a hide rule.
const ProviderWildcard = "all"

type rawRule struct {
	Providers string `yaml:"providers"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
}

type rawMode struct {
	Extends string    `yaml:"extends"`
	Hide    []rawRule `yaml:"hide"`
}

type document struct {
	Modes map[string]rawMode `yaml:"modes"`
}

// Rule hides messages from a provider set inside an inclusive time
// window. Date-only bounds are widened to the full day.
type Rule struct {
	Providers []string
	Wildcard  bool
	From      time.Time
	To        time.Time
}

func (r Rule) matches(m model.Message) bool {
	if !r.Wildcard {
		found := false
		for _, p := range r.Providers {
			if strings.EqualFold(p, m.Provider) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	ts := m.Timestamp
	return !ts.Before(r.From) && !ts.After(r.To)
}

// Filter holds the resolved rule list for one active mode. Resolution
// happens once at construction.
type Filter struct {
	mode  string
	rules []Rule
}

// Load parses the modes file and resolves the given mode, following
// extends chains. A cycle in the extends graph is a fatal configuration
// error. A missing file yields a filter that hides nothing.
func Load(path, mode string) (*Filter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Filter{mode: mode}, nil
		}
		return nil, fmt.Errorf("read privacy modes: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse privacy modes: %w", err)
	}

	resolved, err := resolveModes(doc.Modes)
	if err != nil {
		return nil, err
	}

	rules, ok := resolved[mode]
	if !ok {
		return nil, fmt.Errorf("unknown privacy mode %q", mode)
	}
	return &Filter{mode: mode, rules: rules}, nil
}

// resolveModes flattens every mode's extends chain into one rule list per
// mode, detecting cycles.
func resolveModes(modes map[string]rawMode) (map[string][]Rule, error) {
	resolved := make(map[string][]Rule, len(modes))

	var resolve func(name string, stack map[string]bool) ([]Rule, error)
	resolve = func(name string, stack map[string]bool) ([]Rule, error) {
		if rules, ok := resolved[name]; ok {
			return rules, nil
		}
		if stack[name] {
			return nil, fmt.Errorf("cyclic mode inheritance: %s", name)
		}
		stack[name] = true
		defer delete(stack, name)

		def, ok := modes[name]
		if !ok {
			return nil, fmt.Errorf("privacy mode %q extends unknown mode", name)
		}

		var rules []Rule
		if def.Extends != "" {
			parent, err := resolve(def.Extends, stack)
			if err != nil {
				return nil, err
			}
			rules = append(rules, parent...)
		}
		for _, rr := range def.Hide {
			rule, err := parseRule(rr)
			if err != nil {
				return nil, fmt.Errorf("mode %q: %w", name, err)
			}
			rules = append(rules, rule)
		}

		resolved[name] = rules
		return rules, nil
	}

	for name := range modes {
		if _, err := resolve(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func parseRule(rr rawRule) (Rule, error) {
	rule := Rule{}

	providers := strings.TrimSpace(rr.Providers)
	if providers == "" || strings.EqualFold(providers, ProviderWildcard) {
		rule.Wildcard = true
	} else {
		for _, p := range strings.Split(providers, ",") {
			if p = strings.TrimSpace(p); p != "" {
				rule.Providers = append(rule.Providers, p)
			}
		}
	}

	from, err := parseBound(rr.From, false)
	if err != nil {
		return rule, fmt.Errorf("hide rule from: %w", err)
	}
	to, err := parseBound(rr.To, true)
	if err != nil {
		return rule, fmt.Errorf("hide rule to: %w", err)
	}
	if to.Before(from) {
		return rule, fmt.Errorf("hide rule window ends before it starts (%s > %s)", rr.From, rr.To)
	}
	rule.From, rule.To = from, to
	return rule, nil
}

// parseBound accepts a timestamp or a bare date; bare dates widen to
// 00:00:00 for the lower bound and 23:59:59 for the upper one.
func parseBound(s string, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty bound")
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		return d.End(), nil
	}
	return d.Start(), nil
}

// Mode returns the active mode name.
func (f *Filter) Mode() string { return f.mode }

// Hidden reports whether the message is suppressed under the active mode:
// any resolved rule whose provider set matches and whose inclusive window
// contains the timestamp hides it.
func (f *Filter) Hidden(m model.Message) bool {
	for _, rule := range f.rules {
		if rule.matches(m) {
			return true
		}
	}
	return false
}
