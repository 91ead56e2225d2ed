// Package tryonerr defines the typed failures a try-on generation can surface.
package tryonerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. A Kind is itself an error so callers can write
// errors.Is(err, tryonerr.NoFaceDetected).
type Kind string

const (
	InvalidGeometry         Kind = "InvalidGeometry"
	NoFaceDetected          Kind = "NoFaceDetected"
	SynthesisFailed         Kind = "SynthesisFailed"
	IdentityRejected        Kind = "IdentityRejected"
	VerificationUnavailable Kind = "VerificationUnavailable"
	GarmentNotApplied       Kind = "GarmentNotApplied"
	// PresetNotFound is recovered inside the composer and never returned by
	// the pipeline; it exists for catalog lookups.
	PresetNotFound Kind = "PresetNotFound"
)

func (k Kind) Error() string { return string(k) }

// Error is a typed pipeline failure with diagnostics.
type Error struct {
	Kind       Kind
	Stage      string
	Reason     string
	Attempts   int
	Similarity float64
	Alignment  float64
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" [" + e.Stage + "]")
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " (attempts=%d similarity=%.3f alignment=%.3f)", e.Attempts, e.Similarity, e.Alignment)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// New creates an error without a cause.
func New(kind Kind, stage, reason string) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Rejected builds a terminal verification failure carrying the last scores.
func Rejected(kind Kind, reason string, attempts int, similarity, alignment float64) *Error {
	return &Error{
		Kind:       kind,
		Stage:      "verify",
		Reason:     reason,
		Attempts:   attempts,
		Similarity: similarity,
		Alignment:  alignment,
	}
}

// KindOf extracts the kind of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	var k Kind
	if errors.As(err, &k) {
		return k, true
	}
	return "", false
}

// As returns the typed error inside err.
func As(err error) (*Error, bool) {
	var te *Error
	ok := errors.As(err, &te)
	return te, ok
}
