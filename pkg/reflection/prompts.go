package reflection

import "strings"

const (
	promptObservation = "What do you observe about them? What stands out?"
	promptResonance   = "What resonates with your own experience?"
	promptIntention   = "What do you want to express or share in your response?"
	promptIntent      = "What is your intent in this interaction?"
)

// Section headers of the co-creation prompt. Downstream consumers may parse
// loosely on these, so they must not change.
const (
	HeaderPerception  = "## System Perception (Hand 1)"
	HeaderPerspective = "## User Perspective (Hand 2)"
	HeaderTask        = "## Co-Creation Task"
	LabelObserved     = "**What they observed:**"
	LabelResonates    = "**What resonates for them:**"
	LabelShare        = "**What they want to share:**"
	LabelAdditional   = "**Additional context:**"
)

const coCreationTask = `Based on BOTH the system's perception AND the user's authentic input, help articulate a message that:

1. **Calibrates to the other person's communication style** (from the analysis)
2. **Expresses what's genuinely true for the user** (from their reflection)
3. **Creates space for real connection** (not just engagement)

The message should feel like the user - you're helping them articulate, not generating something artificial.

Format as a quoted message they can send directly.
`

func renderCoCreation(perception string, r Reflection) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(HeaderPerception + "\n\n")
	b.WriteString(perception + "\n\n")
	b.WriteString(HeaderPerspective + "\n\n")
	b.WriteString(LabelObserved + " " + r.Observation + "\n\n")
	b.WriteString(LabelResonates + " " + r.Resonance + "\n\n")
	b.WriteString(LabelShare + " " + r.Intention + "\n\n")
	if r.Context != nil {
		b.WriteString(LabelAdditional + " " + *r.Context + "\n\n")
	}
	b.WriteString(HeaderTask + "\n\n")
	b.WriteString(coCreationTask)
	return b.String()
}
