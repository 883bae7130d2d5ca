// Package suppress drops violations matching user-configured
// expressions before they become diagnostics.
package suppress

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/wudi/speclint/internal/diag"
	"go.uber.org/zap"
)

// Env is the expression environment, bound per violation. Path carries
// the key's path locator when the violation's key has one.
type Env struct {
	RuleID   int
	RuleSlug string
	Severity string
	Message  string
	Path     string
}

type rule struct {
	src     string
	program *vm.Program
}

// Filter holds compiled suppression expressions.
type Filter struct {
	rules  []rule
	logger *zap.Logger
}

// New compiles the expressions against the typed environment. Config
// validation already syntax-checks them; compiling here additionally
// rejects unknown identifiers and non-boolean results.
func New(exprs []string, logger *zap.Logger) (*Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filter{logger: logger}
	for _, src := range exprs {
		program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("suppress expression %q: %w", src, err)
		}
		f.rules = append(f.rules, rule{src: src, program: program})
	}
	return f, nil
}

// Empty reports whether the filter would never match.
func (f *Filter) Empty() bool {
	return f == nil || len(f.rules) == 0
}

// Match reports whether any expression matches the violation. Runtime
// evaluation failures count as no match.
func (f *Filter) Match(v diag.Violation, path string) bool {
	if f == nil {
		return false
	}
	env := Env{
		RuleID:   v.RuleID,
		RuleSlug: v.RuleSlug,
		Severity: string(v.Severity),
		Message:  v.Message,
		Path:     path,
	}
	for _, r := range f.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			f.logger.Debug("suppress expression failed",
				zap.String("expression", r.src),
				zap.Error(err),
			)
			continue
		}
		if matched, _ := out.(bool); matched {
			return true
		}
	}
	return false
}
