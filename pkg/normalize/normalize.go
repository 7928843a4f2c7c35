// Package normalize rewrites a parsed symbol table: it strips verbose prefixes
// from enum and bitmask member names and rebinds platform-specific integer
// typedefs to portable pointer-sized types.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
)

// Rule kinds reported in outcomes.
const (
	RuleEnum    = "enum"
	RuleBitflag = "bitflag"
	RuleTypedef = "typedef"
)

// Options configure a Normalizer.
type Options struct {
	Enums    []domain.PrefixRule
	Bitflags []domain.PrefixRule
	Typedefs []domain.TypedefRule
	// Strict turns rules that match nothing into errors.
	Strict bool
	Logger *slog.Logger
}

// Normalizer applies rewrite rules to a symbol table in place.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{opts: opts, logger: logger}
}

// StripPrefixes applies every enum and bitflag rule. Each rule only touches
// members of its own type; members without the prefix keep their name.
func (n *Normalizer) StripPrefixes(table *domain.SymbolTable) ([]domain.RuleOutcome, error) {
	var outcomes []domain.RuleOutcome
	apply := func(kind string, rules []domain.PrefixRule) error {
		for _, rule := range rules {
			outcome, err := n.strip(table, kind, rule)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	}

	if err := apply(RuleEnum, n.opts.Enums); err != nil {
		return outcomes, err
	}
	if err := apply(RuleBitflag, n.opts.Bitflags); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (n *Normalizer) strip(table *domain.SymbolTable, kind string, rule domain.PrefixRule) (domain.RuleOutcome, error) {
	outcome := domain.RuleOutcome{Rule: kind, Type: rule.Type}
	fail := func(format string, args ...any) (domain.RuleOutcome, error) {
		return outcome, &domain.GenerationError{
			Stage:  domain.StageNormalize,
			Symbol: rule.Type,
			Err:    fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidRule}, args...)...),
		}
	}

	d, ok := table.Lookup(rule.Type)
	if !ok {
		return n.missing(outcome, domain.StageNormalize, fmt.Sprintf("type %s not found", rule.Type))
	}
	if d.Kind != domain.KindEnum {
		return fail("%s is a %s, not an enum", rule.Type, d.Kind)
	}
	if rule.Prefix == "" {
		return fail("empty prefix")
	}

	names := make([]string, len(d.Enum.Members))
	seen := make(map[string]string, len(d.Enum.Members))
	for i, m := range d.Enum.Members {
		name := m.Name
		if stripped, found := strings.CutPrefix(m.Name, rule.Prefix); found {
			switch {
			case stripped == "":
				return fail("stripping %q from %s leaves an empty name", rule.Prefix, m.Name)
			case !isIdentifier(stripped):
				return fail("stripping %q from %s leaves %q, which is not a valid identifier", rule.Prefix, m.Name, stripped)
			}
			name = stripped
			outcome.Renamed++
		}
		if prev, dup := seen[name]; dup {
			return fail("%s and %s both become %s", prev, m.Name, name)
		}
		seen[name] = m.Name
		names[i] = name
	}

	if outcome.Renamed == 0 {
		return n.missing(outcome, domain.StageNormalize, fmt.Sprintf("no member of %s starts with %q", rule.Type, rule.Prefix))
	}
	for i := range d.Enum.Members {
		d.Enum.Members[i].Name = names[i]
	}

	n.logger.Debug("Stripped enum prefix", "type", rule.Type, "prefix", rule.Prefix, "renamed", outcome.Renamed)
	return outcome, nil
}

// CorrectTypedefs rebinds each configured typedef to its portable target.
// The typedef must resolve to an integer builtin of the target's signedness.
func (n *Normalizer) CorrectTypedefs(table *domain.SymbolTable) ([]domain.RuleOutcome, error) {
	var outcomes []domain.RuleOutcome
	for _, rule := range n.opts.Typedefs {
		outcome, err := n.correct(table, rule)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (n *Normalizer) correct(table *domain.SymbolTable, rule domain.TypedefRule) (domain.RuleOutcome, error) {
	outcome := domain.RuleOutcome{Rule: RuleTypedef, Type: rule.Name}
	fail := func(format string, args ...any) (domain.RuleOutcome, error) {
		return outcome, &domain.GenerationError{
			Stage:  domain.StageCorrect,
			Symbol: rule.Name,
			Err:    fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidRule}, args...)...),
		}
	}

	if !rule.Target.Valid() {
		return fail("unknown target %q", rule.Target)
	}
	d, ok := table.Lookup(rule.Name)
	if !ok {
		return n.missing(outcome, domain.StageCorrect, fmt.Sprintf("typedef %s not found", rule.Name))
	}
	if d.Kind != domain.KindTypedef {
		return fail("%s is a %s, not a typedef", rule.Name, d.Kind)
	}

	builtin, b, ok := table.UnderlyingBuiltin(d.Typedef.Type)
	switch {
	case !ok || !b.Integer:
		return fail("%s (%s) is not an integer type", rule.Name, d.Typedef.Type)
	case b.Signed != rule.Target.Signed():
		return fail("%s is %s (%s) but %s is %s", rule.Name, signedness(b.Signed), builtin, rule.Target, signedness(rule.Target.Signed()))
	case b.Bits != 0 && b.Bits < 32:
		return fail("%s (%s) is narrower than a pointer", rule.Name, builtin)
	}

	d.Typedef.Portable = rule.Target
	outcome.Renamed = 1
	n.logger.Debug("Corrected typedef", "name", rule.Name, "from", builtin, "to", rule.Target)
	return outcome, nil
}

// missing reports a rule that matched nothing: an error in strict mode, a warning otherwise.
func (n *Normalizer) missing(outcome domain.RuleOutcome, stage domain.Stage, detail string) (domain.RuleOutcome, error) {
	outcome.Missing = true
	if n.opts.Strict {
		return outcome, &domain.GenerationError{
			Stage:  stage,
			Symbol: outcome.Type,
			Err:    fmt.Errorf("%w: %s", domain.ErrMissingMatch, detail),
		}
	}
	n.logger.Warn("Rule matched nothing", "rule", outcome.Rule, "type", outcome.Type, "detail", detail)
	return outcome, nil
}

func signedness(signed bool) string {
	if signed {
		return "signed"
	}
	return "unsigned"
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
