package pipeline

import (
	"fmt"
	"strings"
)

// Severity ranks report entries. Only Error blocks export.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*s = Info
	case "warning":
		*s = Warning
	case "error":
		*s = Error
	default:
		return fmt.Errorf("pipeline: unknown severity %q", text)
	}
	return nil
}

// Entry is a single finding.
type Entry struct {
	Severity Severity `json:"severity"`
	Node     string   `json:"node,omitempty"`
	Sample   string   `json:"sample,omitempty"`
	Cache    string   `json:"cache,omitempty"`
	Message  string   `json:"message"`
}

func (e Entry) String() string {
	var loc []string
	for _, part := range []string{e.Node, e.Sample, e.Cache} {
		if part != "" {
			loc = append(loc, part)
		}
	}
	if len(loc) == 0 {
		return fmt.Sprintf("%s: %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Severity, strings.Join(loc, "/"), e.Message)
}

// Report aggregates validity findings.
type Report struct {
	Entries []Entry `json:"entries"`
}

// Add appends an entry.
func (r *Report) Add(sev Severity, sample, cache, format string, args ...any) {
	r.Entries = append(r.Entries, Entry{
		Severity: sev,
		Sample:   sample,
		Cache:    cache,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Merge appends other's entries, stamping node on entries without one.
func (r *Report) Merge(node string, other Report) {
	for _, e := range other.Entries {
		if e.Node == "" {
			e.Node = node
		}
		r.Entries = append(r.Entries, e)
	}
}

// HasErrors reports whether any entry has Error severity.
func (r Report) HasErrors() bool {
	for _, e := range r.Entries {
		if e.Severity == Error {
			return true
		}
	}
	return false
}

// Filter returns the entries of the given severity.
func (r Report) Filter(sev Severity) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

// Err returns nil when the report has no errors, otherwise an error wrapping
// ErrInvalidPipeline that lists them.
func (r Report) Err() error {
	errs := r.Filter(Error)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return fmt.Errorf("%w: %s", ErrInvalidPipeline, strings.Join(msgs, "; "))
}
