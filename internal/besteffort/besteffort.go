// Package besteffort runs secondary steps of an operation whose failure must
// not undo or fail the primary step. Failures are logged and kept as warnings
// so callers can report partial success.
package besteffort

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Warning describes one secondary step that failed.
type Warning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// Result collects the outcome of secondary steps. The zero value is ready to
// use; a nil *Result discards warnings but still logs.
type Result struct {
	warnings []Warning
	err      error
}

// Do runs fn as the named secondary step. Errors and panics are recorded,
// never returned.
func (r *Result) Do(ctx context.Context, step string, fn func(ctx context.Context) error) {
	err := run(ctx, fn)
	if err == nil {
		return
	}

	log.Warn().Err(err).Str("step", step).Msg("Secondary step failed")
	if r == nil {
		return
	}
	r.warnings = append(r.warnings, Warning{Step: step, Message: err.Error()})
	r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", step, err))
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// OK reports whether every secondary step succeeded.
func (r *Result) OK() bool {
	return r == nil || len(r.warnings) == 0
}

// Warnings returns the recorded warnings in the order they occurred.
func (r *Result) Warnings() []Warning {
	if r == nil {
		return nil
	}
	return append([]Warning(nil), r.warnings...)
}

// Err returns all recorded failures combined, or nil.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	return r.err
}

// Fields adds "warnings" to a response body when any step failed.
func (r *Result) Fields(fields map[string]any) map[string]any {
	if fields == nil {
		fields = map[string]any{}
	}
	if !r.OK() {
		fields["warnings"] = r.Warnings()
	}
	return fields
}
