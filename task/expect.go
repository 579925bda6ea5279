package task

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// expectation evaluates a boolean expression against a task's output
// data. A false result classifies the execution as a logical failure,
// which the engine may retry per policy.
type expectation struct {
	expression string
	program    *vm.Program
}

// newExpectation compiles the optional "expect" parameter. Returns nil
// when the parameter is absent.
func newExpectation(params map[string]any) (*expectation, error) {
	expression := stringParam(params, "expect")
	if expression == "" {
		return nil, nil
	}

	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: expect %q: %v", ErrInvalidParameters, expression, err)
	}
	return &expectation{expression: expression, program: program}, nil
}

// Check evaluates the expectation over data. The returned reason is set
// when the expectation does not hold.
func (e *expectation) Check(data map[string]any) (bool, string, error) {
	out, err := expr.Run(e.program, data)
	if err != nil {
		return false, "", fmt.Errorf("expect %q: %w", e.expression, err)
	}
	ok, _ := out.(bool)
	if !ok {
		return false, fmt.Sprintf("expectation %q not met", e.expression), nil
	}
	return true, "", nil
}
