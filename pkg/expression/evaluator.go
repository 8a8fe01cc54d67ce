// Package expression evaluates entry-criteria gate expressions against the
// execution context using expr-lang.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Error indicates a malformed expression. Distinct from a false evaluation:
// a criterion that compiles but references unset parameters simply does not
// hold, while a criterion that cannot compile is a step-level error.
type Error struct {
	Expression string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid expression %q: %v", e.Expression, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Evaluator compiles and runs gate expressions. Compiled programs are cached
// by expression text, so scenarios that loop or re-run steps pay the compile
// cost once.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs a single boolean expression against the given parameters.
// Unknown parameter references resolve to nil, which compares unequal to
// every value except nil itself; ordering comparisons against nil fail at
// runtime and are reported as a false evaluation, not an error. Malformed
// syntax returns *Error.
func (ev *Evaluator) Evaluate(expression string, params map[string]interface{}) (bool, error) {
	program, err := ev.compile(expression)
	if err != nil {
		return false, &Error{Expression: expression, Err: err}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	output, err := expr.Run(program, params)
	if err != nil {
		// Runtime failure means the criterion cannot hold with the current
		// context (e.g. ordering comparison against an unset parameter).
		return false, nil
	}
	result, ok := output.(bool)
	if !ok {
		return false, &Error{Expression: expression, Err: fmt.Errorf("expression did not return bool (got %T: %v)", output, output)}
	}
	return result, nil
}

// EvaluateAll AND-combines a list of expressions: every expression must be
// true. Evaluation short-circuits on the first false result. Any malformed
// expression aborts with *Error.
func (ev *Evaluator) EvaluateAll(expressions []string, params map[string]interface{}) (bool, error) {
	for _, e := range expressions {
		ok, err := ev.Evaluate(e, params)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (ev *Evaluator) compile(expression string) (*vm.Program, error) {
	ev.mu.RLock()
	program, ok := ev.cache[expression]
	ev.mu.RUnlock()
	if ok {
		return program, nil
	}

	// No expr.AsBool here: with undefined variables allowed the result type
	// is dynamic, and AsBool would turn a non-bool result into a runtime
	// error indistinguishable from a failed nil comparison. The bool check
	// happens after Run instead, so it can be reported as *Error.
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	ev.mu.Lock()
	ev.cache[expression] = program
	ev.mu.Unlock()
	return program, nil
}
