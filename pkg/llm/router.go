package llm

// Router decides which model serves a request.
type Router struct {
	defaultModel string
	premiumModel string
}

func NewRouter(defaultModel, premiumModel string) *Router {
	if premiumModel == "" {
		premiumModel = defaultModel
	}
	return &Router{defaultModel: defaultModel, premiumModel: premiumModel}
}

// Model returns the premium model when asked for, otherwise the default.
func (r *Router) Model(premium bool) string {
	if premium {
		return r.premiumModel
	}
	return r.defaultModel
}

// AnalysisRequest builds the Phase 1 request.
func (r *Router) AnalysisRequest(profile, conversation []string, userContext string, premium bool) Request {
	return Request{
		Model:       r.Model(premium),
		System:      SystemPrompt,
		MaxTokens:   AnalysisMaxTokens,
		Temperature: DefaultTemperature,
		Content:     BuildAnalysisContent(profile, conversation, userContext),
	}
}

// CoCreationRequest builds the Phase 2 request from a rendered co-creation
// prompt. Co-creation always uses the default model.
func (r *Router) CoCreationRequest(prompt string) Request {
	return Request{
		Model:       r.defaultModel,
		System:      CoCreationSystemPrompt,
		MaxTokens:   CoCreationMaxTokens,
		Temperature: DefaultTemperature,
		Content:     []ContentPart{TextPart(prompt)},
	}
}
