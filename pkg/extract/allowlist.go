package extract

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Allowlist decides which declarations reach the generated bindings.
type Allowlist struct {
	functions []glob.Glob
	types     []glob.Glob
	vars      []glob.Glob
}

// NewAllowlist compiles glob patterns for functions, types and variables.
func NewAllowlist(functions, types, vars []string) (*Allowlist, error) {
	var err error
	a := &Allowlist{}
	if a.functions, err = compileAll(functions); err != nil {
		return nil, err
	}
	if a.types, err = compileAll(types); err != nil {
		return nil, err
	}
	if a.vars, err = compileAll(vars); err != nil {
		return nil, err
	}
	return a, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Function reports whether a function prototype is allow-listed.
func (a *Allowlist) Function(name string) bool { return matchAny(a.functions, name) }

// Type reports whether a typedef, struct or enum is allow-listed.
func (a *Allowlist) Type(name string) bool { return matchAny(a.types, name) }

// Var reports whether a macro constant or global variable is allow-listed.
func (a *Allowlist) Var(name string) bool { return matchAny(a.vars, name) }

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
