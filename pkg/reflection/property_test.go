//go:build property
// +build property

package reflection_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/roseglass/pkg/reflection"
)

// TestWhitespaceReflectionNeverPasses verifies a gate cannot pass on
// whitespace-only input in any required field.
func TestWhitespaceReflectionNeverPasses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	whitespace := gen.IntRange(0, 12).Map(func(n int) string {
		return strings.Repeat(" \t\n\r"[n%4:n%4+1], n)
	})

	properties.Property("whitespace-only observation is rejected", prop.ForAll(
		func(blank, resonance, intention string) bool {
			g := reflection.New("perception")
			err := g.ReceiveReflection(map[string]string{
				reflection.FieldObservation: blank,
				reflection.FieldResonance:   "r" + resonance,
				reflection.FieldIntention:   "i" + intention,
			})
			var verr *reflection.ValidationError
			return errors.As(err, &verr) && !g.CanProceed() && g.State() == reflection.StateWaiting
		},
		whitespace,
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestPassedGateAlwaysYieldsContext verifies PASSED implies a combined
// context whose fields are the trimmed input.
func TestPassedGateAlwaysYieldsContext(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("passed implies combined context", prop.ForAll(
		func(obs, res, intent string) bool {
			g := reflection.New(42)
			err := g.ReceiveReflection(map[string]string{
				reflection.FieldObservation: " o" + obs + " ",
				reflection.FieldResonance:   "r" + res,
				reflection.FieldIntention:   "i" + intent + "\n",
			})
			if err != nil {
				return false
			}
			cc, cerr := g.CombinedContext()
			return cerr == nil &&
				g.State() == reflection.StatePassed &&
				cc.SystemPerception == 42 &&
				cc.UserPerspective.Observation == "o"+obs &&
				cc.UserPerspective.Intention == "i"+intent
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
