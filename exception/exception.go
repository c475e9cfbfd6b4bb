package exception

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// Error kinds.
var (
	ErrResourceLimit = errors.New("resource limit exceeded")
	ErrCache         = errors.New("cache error")
	ErrOption        = errors.New("option error")
	ErrImage         = errors.New("image error")
)

// Severity orders exceptions. Values at or above ErrorSeverity are fatal to
// the current operation.
type Severity int

const (
	UndefinedSeverity  Severity = 0
	WarningSeverity    Severity = 300
	ErrorSeverity      Severity = 400
	FatalErrorSeverity Severity = 700
)

func (s Severity) String() string {
	switch {
	case s >= FatalErrorSeverity:
		return "fatal"
	case s >= ErrorSeverity:
		return "error"
	case s >= WarningSeverity:
		return "warning"
	default:
		return "undefined"
	}
}

// Error is a classified exception.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind        error
	Severity    Severity
	Reason      string
	Description string
	cause       error
}

// New returns an error-severity exception of the given kind.
func New(kind error, reason, description string) *Error {
	return &Error{Kind: kind, Severity: ErrorSeverity, Reason: reason, Description: description}
}

// Wrap is New with an underlying cause.
func Wrap(kind error, reason, description string, cause error) *Error {
	e := New(kind, reason, description)
	e.cause = cause
	return e
}

// Warning returns a warning-severity exception of the given kind.
func Warning(kind error, reason, description string) *Error {
	return &Error{Kind: kind, Severity: WarningSeverity, Reason: reason, Description: description}
}

// Error renders the kind and severity followed by Message, e.g.
// "image warning: search metric is unreliable for constant-color images `NCC'".
func (e *Error) Error() string {
	msg := e.Message()
	if e.Kind != nil {
		kind := e.Kind.Error()
		if e.Severity < ErrorSeverity {
			kind = strings.TrimSuffix(kind, " error") + " " + e.Severity.String()
		}
		msg = kind + ": " + msg
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Message is the readable form of the reason and the description.
func (e *Error) Message() string {
	msg, ok := messages[e.Reason]
	if !ok {
		msg = words(e.Reason)
	}
	if e.Description != "" {
		msg += fmt.Sprintf(" `%s'", e.Description)
	}
	return msg
}

var messages = map[string]string{
	"SearchMetricUnreliable":         "search metric is unreliable for constant-color images",
	"SubimageSearchMetricUnreliable": "subimage search metric is unreliable for equal-size images",
}

// words splits a CamelCase reason into lower case words.
func words(reason string) string {
	var b strings.Builder
	for i, r := range reason {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte(' ')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error { return e.cause }

// Collector accumulates exceptions in the order they were raised.
// It is safe for concurrent use. A nil *Collector discards everything.
type Collector struct {
	mu      sync.Mutex
	entries []*Error
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records e.
func (c *Collector) Add(e *Error) {
	if c == nil || e == nil {
		return
	}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Warn records a warning of the given kind.
func (c *Collector) Warn(kind error, reason, description string) {
	c.Add(Warning(kind, reason, description))
}

// Entries returns a copy of everything recorded so far.
func (c *Collector) Entries() []*Error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Warnings returns the entries below ErrorSeverity.
func (c *Collector) Warnings() []*Error {
	var out []*Error
	for _, e := range c.Entries() {
		if e.Severity < ErrorSeverity {
			out = append(out, e)
		}
	}
	return out
}

// Severity returns the highest severity recorded.
func (c *Collector) Severity() Severity {
	s := UndefinedSeverity
	for _, e := range c.Entries() {
		s = max(s, e.Severity)
	}
	return s
}

// Len returns the number of recorded entries.
func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries.
func (c *Collector) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}
