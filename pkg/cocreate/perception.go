package cocreate

import (
	"time"

	"github.com/Mindburn-Labs/roseglass/pkg/reflection"
)

// Perception is Hand 1: the stored analysis a gate holds.
type Perception struct {
	AnalysisID string `json:"analysis_id"`
	Analysis   string `json:"analysis"`
	Model      string `json:"model"`
}

func renderPerception(p Perception) string { return p.Analysis }

// Gate is a reflection gate over a stored analysis.
type Gate = reflection.Gate[Perception]

// GateView is the client-facing state of a gate.
type GateView struct {
	ID         string                 `json:"gate_id"`
	AnalysisID string                 `json:"analysis_id"`
	State      reflection.State       `json:"state"`
	CanProceed bool                   `json:"can_proceed"`
	Prompts    map[string]string      `json:"prompts,omitempty"`
	Reflection *reflection.Reflection `json:"reflection,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	PassedAt   *time.Time             `json:"passed_at,omitempty"`
}

func viewOf(g *Gate) *GateView {
	v := &GateView{
		ID:         g.ID,
		AnalysisID: g.Perception().AnalysisID,
		State:      g.State(),
		CanProceed: g.CanProceed(),
		CreatedAt:  g.CreatedAt(),
	}
	if g.CanProceed() {
		if cc, ok := g.TryCombinedContext(); ok {
			r := cc.UserPerspective
			v.Reflection = &r
		}
		v.PassedAt = g.PassedAt()
	} else {
		v.Prompts = g.PromptReflectionStructured()
	}
	return v
}
