package llm

import "strings"

// Sampling parameters for the two call kinds.
const (
	AnalysisMaxTokens   = 2500
	CoCreationMaxTokens = 1500
	DefaultTemperature  = 1.0
)

const conversationSeparator = "\n---\n**CONVERSATION SCREENSHOTS FOLLOW:**\n"

// DetectMediaType identifies an image format from the first bytes of its
// base64 encoding. Unrecognised data is assumed to be PNG.
func DetectMediaType(b64 string) string {
	switch {
	case strings.HasPrefix(b64, "/9j/"):
		return "image/jpeg"
	case strings.HasPrefix(b64, "iVBORw"):
		return "image/png"
	case strings.HasPrefix(b64, "R0lGOD"):
		return "image/gif"
	case strings.HasPrefix(b64, "UklGR"):
		return "image/webp"
	default:
		return "image/png"
	}
}

// BuildAnalysisContent assembles the analysis message: profile images, then
// conversation images behind a separator, then the request text.
func BuildAnalysisContent(profile, conversation []string, userContext string) []ContentPart {
	parts := make([]ContentPart, 0, len(profile)+len(conversation)+2)
	for _, img := range profile {
		parts = append(parts, ImagePart(img))
	}
	if len(conversation) > 0 {
		parts = append(parts, TextPart(conversationSeparator))
		for _, img := range conversation {
			parts = append(parts, ImagePart(img))
		}
	}
	parts = append(parts, TextPart(AnalysisRequest(userContext, len(conversation) > 0)))
	return parts
}

// AnalysisRequest renders the instruction text that follows the images.
func AnalysisRequest(userContext string, hasConversation bool) string {
	var b strings.Builder
	b.WriteString("Analyze this dating profile through the Rose Glass framework.\n\n")
	if userContext = strings.TrimSpace(userContext); userContext != "" {
		b.WriteString("**User Context:** " + userContext + "\n\n")
	}
	b.WriteString(analysisItems)
	if hasConversation {
		b.WriteString(conversationItems)
	}
	b.WriteString(analysisReminders)
	return b.String()
}

const analysisItems = `Provide:

1. **Dimension Analysis Table** - Ψ, ρ, q, f with readings (0.0-1.0) and translations

2. **Key Translation** - What are they actually filtering for? (2-3 sentences)

3. **The Tell** - The ONE element that reveals the most about them

4. **Suggested Opener** - Calibrated to their specific communication style, formatted as a quoted message
`

const conversationItems = `
5. **Conversation Analysis** - Investment level, trajectory, red/green flags

6. **Next Move** - Clear recommendation on what to do/send next
`

const analysisReminders = `

Remember:
- Translation, not judgment
- Multiple valid interpretations exist
- Match their energy level in the opener
- Be specific, reference actual profile elements
- Never comment on physical appearance`
