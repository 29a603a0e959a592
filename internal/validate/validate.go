// Package validate defines the opaque validator capability (C4) the core
// consumes at job submission and, optionally, after a handler returns.
// The core never imports a schema library directly; it only calls this
// one-method interface (spec §4.3, §9 "Validator capability as a dynamic
// object").
package validate

// Issue is one path/message pair describing why a value failed
// validation.
type Issue struct {
	Path    string
	Message string
}

// Result is the outcome of Validate: either the (possibly coerced) value
// on success, or a non-empty list of issues on failure.
type Result struct {
	OK     bool
	Value  any
	Issues []Issue
}

// Validator is implemented by host-supplied schema adapters. The core only
// ever calls Validate; it is free to wrap any schema library.
type Validator interface {
	Validate(value any) Result
}

// Func adapts a plain function to the Validator interface.
type Func func(value any) Result

func (f Func) Validate(value any) Result { return f(value) }

// Accept is the no-op validator used when a queue/handler declares none:
// any value passes through unchanged.
var Accept Validator = Func(func(value any) Result {
	return Result{OK: true, Value: value}
})
