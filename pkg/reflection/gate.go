package reflection

import (
	"fmt"
	"strings"
	"time"
)

// Renderer turns a perception into the text embedded in prompts.
type Renderer[P any] func(P) string

// Gate holds Hand 1 and waits for Hand 2. A Gate belongs to exactly one user
// interaction and must not be mutated concurrently; it holds no lock.
type Gate[P any] struct {
	ID string

	perception P
	reflection *Reflection
	passed     bool
	createdAt  time.Time
	passedAt   *time.Time

	render Renderer[P]
	clock  func() time.Time
}

// Option configures a Gate at construction.
type Option[P any] func(*Gate[P])

// WithID sets the external correlation id.
func WithID[P any](id string) Option[P] {
	return func(g *Gate[P]) { g.ID = id }
}

// WithRenderer overrides how the perception is rendered into prompts.
func WithRenderer[P any](r Renderer[P]) Option[P] {
	return func(g *Gate[P]) {
		if r != nil {
			g.render = r
		}
	}
}

// WithClock overrides the clock for deterministic testing.
func WithClock[P any](clock func() time.Time) Option[P] {
	return func(g *Gate[P]) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// New creates a gate in the WAITING state holding the system's perception.
func New[P any](perception P, opts ...Option[P]) *Gate[P] {
	g := &Gate[P]{
		perception: perception,
		render:     func(p P) string { return fmt.Sprint(p) },
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	g.createdAt = g.clock()
	return g
}

// Restore rebuilds a gate from a snapshot. The snapshot's state is taken as-is.
func Restore[P any](s Snapshot[P], opts ...Option[P]) *Gate[P] {
	g := New(s.Perception, opts...)
	g.ID = s.ID
	g.createdAt = s.CreatedAt
	if s.Passed && s.Reflection != nil {
		r := *s.Reflection
		g.reflection = &r
		g.passed = true
		at := r.CreatedAt
		if s.PassedAt != nil {
			at = *s.PassedAt
		}
		g.passedAt = &at
	}
	return g
}

// Snapshot returns the serializable state of the gate.
func (g *Gate[P]) Snapshot() Snapshot[P] {
	s := Snapshot[P]{
		ID:         g.ID,
		Perception: g.perception,
		Passed:     g.passed,
		CreatedAt:  g.createdAt,
	}
	if g.reflection != nil {
		r := *g.reflection
		s.Reflection = &r
	}
	if g.passedAt != nil {
		at := *g.passedAt
		s.PassedAt = &at
	}
	return s
}

// Perception returns Hand 1.
func (g *Gate[P]) Perception() P { return g.perception }

// CreatedAt returns when the gate was created.
func (g *Gate[P]) CreatedAt() time.Time { return g.createdAt }

// PassedAt returns when the gate passed, or nil while waiting.
func (g *Gate[P]) PassedAt() *time.Time {
	if g.passedAt == nil {
		return nil
	}
	at := *g.passedAt
	return &at
}

// State reports WAITING or PASSED.
func (g *Gate[P]) State() State {
	if g.CanProceed() {
		return StatePassed
	}
	return StateWaiting
}

// CanProceed reports whether the user has supplied their reflection.
func (g *Gate[P]) CanProceed() bool {
	return g.passed && g.reflection != nil
}

// PromptReflection returns open-ended prompts inviting the user's truth,
// not confirmation of the system's analysis.
func (g *Gate[P]) PromptReflection() []string {
	return []string{
		promptObservation,
		promptResonance,
		promptIntention,
		promptIntent,
	}
}

// PromptReflectionStructured returns the prompts keyed for API responses.
func (g *Gate[P]) PromptReflectionStructured() map[string]string {
	return StructuredPrompts()
}

// StructuredPrompts is PromptReflectionStructured without a gate.
func StructuredPrompts() map[string]string {
	return map[string]string{
		"observation_prompt": promptObservation,
		"resonance_prompt":   promptResonance,
		"intention_prompt":   promptIntention,
	}
}

// ReceiveReflection records Hand 2. This is the only way through the gate.
// A gate accepts exactly one reflection; later submissions are rejected with
// ErrReflectionAlreadyRecorded and leave the stored reflection untouched.
func (g *Gate[P]) ReceiveReflection(input map[string]string) error {
	if g.CanProceed() {
		return ErrReflectionAlreadyRecorded
	}

	verr := &ValidationError{}
	for _, field := range requiredFields {
		v, ok := input[field]
		if !ok {
			verr.Missing = append(verr.Missing, field)
			continue
		}
		if strings.TrimSpace(v) == "" {
			verr.Empty = append(verr.Empty, field)
		}
	}
	if len(verr.Missing) > 0 || len(verr.Empty) > 0 {
		return verr
	}

	now := g.clock()
	r := &Reflection{
		Observation: strings.TrimSpace(input[FieldObservation]),
		Resonance:   strings.TrimSpace(input[FieldResonance]),
		Intention:   strings.TrimSpace(input[FieldIntention]),
		CreatedAt:   now,
	}
	if c := strings.TrimSpace(input[FieldContext]); c != "" {
		r.Context = &c
	}

	g.reflection = r
	g.passed = true
	g.passedAt = &now
	return nil
}

// CombinedContext returns both hands, or ErrReflectionRequired while waiting.
func (g *Gate[P]) CombinedContext() (CombinedContext[P], error) {
	cc, ok := g.TryCombinedContext()
	if !ok {
		return CombinedContext[P]{}, ErrReflectionRequired
	}
	return cc, nil
}

// TryCombinedContext is the comma-ok form of CombinedContext.
func (g *Gate[P]) TryCombinedContext() (CombinedContext[P], bool) {
	if !g.CanProceed() {
		return CombinedContext[P]{}, false
	}
	r := *g.reflection
	if g.reflection.Context != nil {
		c := *g.reflection.Context
		r.Context = &c
	}
	return CombinedContext[P]{
		SystemPerception: g.perception,
		UserPerspective:  r,
		GatePassedAt:     *g.passedAt,
	}, true
}

// CoCreationPrompt renders the prompt that integrates both hands.
func (g *Gate[P]) CoCreationPrompt() (string, error) {
	cc, err := g.CombinedContext()
	if err != nil {
		return "", err
	}
	return renderCoCreation(g.render(cc.SystemPerception), cc.UserPerspective), nil
}

// String implements fmt.Stringer.
func (g *Gate[P]) String() string {
	return fmt.Sprintf("ReflectionGate(id=%s, status=%s)", g.ID, g.State())
}
