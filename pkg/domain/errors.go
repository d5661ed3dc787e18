package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrInvalidRecord marks saves rejected by record validation.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrDestroyRejected marks destroys refused by the gapless policy.
	ErrDestroyRejected = errors.New("destroy rejected")
	// ErrNotFound marks lookups of missing periods.
	ErrNotFound = errors.New("not found")
	// ErrUnknownKind marks operations on unregistered period kinds.
	ErrUnknownKind = errors.New("unknown period kind")
)

// InvalidRecordError carries the field violations that blocked a save.
type InvalidRecordError struct {
	Kind       Kind
	ID         string
	Violations []Violation
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", kindLabel(e.Kind), e.ID, describeViolations(e.Violations))
}

// Is lets errors.Is(err, ErrInvalidRecord) match.
func (e *InvalidRecordError) Is(target error) bool { return target == ErrInvalidRecord }

// Fields lists the fields with violations, in order of appearance.
func (e *InvalidRecordError) Fields() []string {
	seen := make(map[string]struct{}, len(e.Violations))
	var out []string
	for _, v := range e.Violations {
		if _, ok := seen[v.Field]; ok {
			continue
		}
		seen[v.Field] = struct{}{}
		out = append(out, v.Field)
	}
	return out
}

// DestroyRejectedError reports a refused destroy. The record is unchanged.
type DestroyRejectedError struct {
	Kind       Kind
	ID         string
	Violations []Violation
}

func (e *DestroyRejectedError) Error() string {
	return fmt.Sprintf("cannot destroy %s %q: %s", kindLabel(e.Kind), e.ID, describeViolations(e.Violations))
}

// Is lets errors.Is(err, ErrDestroyRejected) match.
func (e *DestroyRejectedError) Is(target error) bool { return target == ErrDestroyRejected }

// NotFoundError reports a missing period.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", kindLabel(e.Kind), e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RuleViolationError is returned when blocking violations are present at commit.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules: " + describeViolations(e.Result.Violations)
}

func kindLabel(k Kind) string {
	if k == "" {
		return "period"
	}
	return string(k)
}

func describeViolations(vs []Violation) string {
	if len(vs) == 0 {
		return "no details"
	}
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		if v.Field != "" {
			parts = append(parts, v.Field+": "+v.Message)
			continue
		}
		parts = append(parts, v.Message)
	}
	return strings.Join(parts, "; ")
}
