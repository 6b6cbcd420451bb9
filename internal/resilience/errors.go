package resilience

import (
	"context"
	"errors"
	"strings"
)

// Class is the error taxonomy, orthogonal to pipeline stage.
type Class string

const (
	ClassTransient        Class = "transient"
	ClassProvider         Class = "provider"
	ClassTool             Class = "tool"
	ClassPolicy           Class = "policy"
	ClassApprovalRejected Class = "approval_rejected"
	ClassCancelled        Class = "cancelled"
	ClassUnknown          Class = "unknown"
)

// permanentError marks an error that must never be retried, whatever its
// class's policy says.
type permanentError struct {
	class Class
	err   error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error  { return p.err }

// Permanent wraps err so Classify always reports class and IsPermanent
// reports true, regardless of substring heuristics.
func Permanent(class Class, err error) error {
	return &permanentError{class: class, err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Classify determines err's Class. Structured classification (via
// Permanent/errors.As) is preferred; substring inspection of the error
// message is the fallback.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var p *permanentError
	if errors.As(err, &p) {
		return p.class
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "circuit") && strings.Contains(msg, "open"):
		return ClassProvider
	case strings.Contains(msg, "cancel"):
		return ClassCancelled
	case strings.Contains(msg, "denied"), strings.Contains(msg, "policy"), strings.Contains(msg, "blocked"):
		return ClassPolicy
	case strings.Contains(msg, "approval"):
		return ClassApprovalRejected
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "connection"):
		return ClassTransient
	case strings.Contains(msg, "tool"), strings.Contains(msg, "exit"), strings.Contains(msg, "file"):
		return ClassTool
	default:
		return ClassUnknown
	}
}
