package cli

import (
	"fmt"
	"io"

	"github.com/hupe1980/pixcache/exception"
)

// IO carries command output. Warnings collected during a command are
// printed to stderr once it finishes.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Out returns the stdout writer.
func (o *IO) Out() io.Writer { return o.out }

// Err returns the stderr writer.
func (o *IO) Err() io.Writer { return o.errOut }

// Warn records a warning.
func (o *IO) Warn(msg string) {
	o.warnings = append(o.warnings, msg)
}

// WarnAll records the warnings held by exc.
func (o *IO) WarnAll(exc *exception.Collector) {
	for _, w := range exc.Warnings() {
		o.Warn(w.Message())
	}
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints the collected warnings and reports whether there were any.
func (o *IO) Finish() bool {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
	had := len(o.warnings) > 0
	o.warnings = nil
	return had
}
