// Package verify decides whether a generated image keeps the source
// identity and carries the garment, and drives bounded regeneration.
package verify

import (
	"fmt"

	"quel-tryon-server/modules/tryon/tryonerr"
)

// Mode selects the acceptance threshold.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeNormal Mode = "normal"
)

// State of one verification.
type State string

const (
	StatePending  State = "PENDING"
	StateAccepted State = "ACCEPTED"
	StateRetry    State = "RETRY"
	StateRejected State = "REJECTED"
)

const (
	StrictThreshold = 0.92
	NormalThreshold = 0.85
	// Floor is the similarity below which an output is rejected outright.
	Floor = 0.75

	MaxRetries  = 2
	MaxAttempts = MaxRetries + 1
)

// ParseMode maps a config value; anything but "strict" is normal.
func ParseMode(s string) Mode {
	if Mode(s) == ModeStrict {
		return ModeStrict
	}
	return ModeNormal
}

// Threshold for the mode.
func (m Mode) Threshold() float64 {
	if m == ModeStrict {
		return StrictThreshold
	}
	return NormalThreshold
}

// Scores measured on one generated image.
type Scores struct {
	FaceFound      bool    `json:"faceFound"`
	Similarity     float64 `json:"similarity"`
	Alignment      float64 `json:"alignment"`
	GarmentApplied bool    `json:"garmentApplied"`
	GarmentReason  string  `json:"garmentReason,omitempty"`
}

// Verdict is the outcome of Classify. Kind names the failure behind a RETRY
// or REJECTED verdict.
type Verdict struct {
	State  State         `json:"state"`
	Kind   tryonerr.Kind `json:"kind,omitempty"`
	Reason string        `json:"reason"`
}

// Classify is the pure transition out of PENDING for attempt (1-based).
func Classify(mode Mode, s Scores, attempt int) Verdict {
	threshold := mode.Threshold()
	exhausted := attempt >= MaxAttempts

	switch {
	case !s.FaceFound:
		return Verdict{State: StateRejected, Kind: tryonerr.NoFaceDetected,
			Reason: "no face detected in generated image"}

	case s.Similarity < Floor:
		return Verdict{State: StateRejected, Kind: tryonerr.IdentityRejected,
			Reason: fmt.Sprintf("similarity %.3f below floor %.2f", s.Similarity, Floor)}

	case s.Similarity < threshold:
		reason := fmt.Sprintf("similarity %.3f below %s threshold %.2f", s.Similarity, mode, threshold)
		if exhausted {
			return Verdict{State: StateRejected, Kind: tryonerr.IdentityRejected, Reason: reason + ", retries exhausted"}
		}
		return Verdict{State: StateRetry, Kind: tryonerr.IdentityRejected, Reason: reason}

	case !s.GarmentApplied:
		reason := "garment not applied"
		if s.GarmentReason != "" {
			reason += ": " + s.GarmentReason
		}
		if exhausted {
			return Verdict{State: StateRejected, Kind: tryonerr.GarmentNotApplied, Reason: reason + ", retries exhausted"}
		}
		return Verdict{State: StateRetry, Kind: tryonerr.GarmentNotApplied, Reason: reason}
	}

	return Verdict{State: StateAccepted,
		Reason: fmt.Sprintf("similarity %.3f meets %s threshold %.2f", s.Similarity, mode, threshold)}
}

// Severity grades how far an output is from acceptable.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityCritical Severity = "critical"
)

// Result is the per-attempt verification summary reported to callers.
type Result struct {
	SimilarityScore   float64  `json:"similarityScore"`
	AlignmentScore    float64  `json:"alignmentScore"`
	Passed            bool     `json:"passed"`
	ViolationSeverity Severity `json:"violationSeverity"`
	ShouldRetry       bool     `json:"shouldRetry"`
}

// Summarize pairs scores with their verdict.
func Summarize(s Scores, v Verdict) Result {
	r := Result{
		SimilarityScore: s.Similarity,
		AlignmentScore:  s.Alignment,
		Passed:          v.State == StateAccepted,
		ShouldRetry:     v.State == StateRetry,
	}
	switch {
	case r.Passed:
		r.ViolationSeverity = SeverityNone
	case !s.FaceFound || s.Similarity < Floor:
		r.ViolationSeverity = SeverityCritical
	default:
		r.ViolationSeverity = SeverityMinor
	}
	return r
}
