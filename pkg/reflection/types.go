// Package reflection enforces the Two Hands principle: the system's perception
// of the other person (Hand 1) can only be combined with the user's own
// perspective (Hand 2) after the user has explicitly supplied it.
//
// A Gate starts WAITING with a perception attached and moves to PASSED exactly
// once, when a valid Reflection is received. Nothing in this package generates
// the user's perspective; it can only wait for it.
package reflection

import (
	"errors"
	"strings"
	"time"
)

// State is the lifecycle state of a Gate.
type State string

const (
	StateWaiting State = "WAITING"
	StatePassed  State = "PASSED"
)

// Reflection field keys accepted by ReceiveReflection.
const (
	FieldObservation = "observation"
	FieldResonance   = "resonance"
	FieldIntention   = "intention"
	FieldContext     = "context"
)

// requiredFields is ordered; validation messages list fields in this order.
var requiredFields = []string{FieldObservation, FieldResonance, FieldIntention}

var (
	// ErrReflectionRequired is returned when combined output is requested before
	// the gate has passed. It is a control-flow signal meaning "ask the user first",
	// not a fault.
	ErrReflectionRequired = errors.New("cannot access combined context without user reflection. " +
		"The system can inform both hands, but cannot close them together. " +
		"That is where the human lives.")

	// ErrReflectionAlreadyRecorded is returned when a second reflection is
	// submitted to a gate that has already passed.
	ErrReflectionAlreadyRecorded = errors.New("reflection already recorded for this gate")
)

// ValidationError reports malformed reflection input. Every offending field is
// listed, not just the first one found.
type ValidationError struct {
	Missing []string
	Empty   []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required reflection fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Empty) > 0 {
		parts = append(parts, "empty reflection fields not allowed: "+strings.Join(e.Empty, ", "))
	}
	return strings.Join(parts, "; ")
}

// Fields returns every field named by the error.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Missing)+len(e.Empty))
	out = append(out, e.Missing...)
	return append(out, e.Empty...)
}

// Reflection is the user's authentic perspective after seeing the analysis.
type Reflection struct {
	Observation string    `json:"observation"`
	Resonance   string    `json:"resonance"`
	Intention   string    `json:"intention"`
	Context     *string   `json:"context,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}

// CombinedContext holds both hands. It is only obtainable from a passed gate
// and is rebuilt on every access.
type CombinedContext[P any] struct {
	SystemPerception P          `json:"system_perception"`
	UserPerspective  Reflection `json:"user_perspective"`
	GatePassedAt     time.Time  `json:"gate_passed_at"`
}

// Snapshot is the serializable state of a gate, used by persistence layers to
// reconstruct a gate across sessions.
type Snapshot[P any] struct {
	ID         string      `json:"id,omitempty"`
	Perception P           `json:"perception"`
	Reflection *Reflection `json:"reflection,omitempty"`
	Passed     bool        `json:"passed"`
	CreatedAt  time.Time   `json:"created_at"`
	PassedAt   *time.Time  `json:"passed_at,omitempty"`
}
