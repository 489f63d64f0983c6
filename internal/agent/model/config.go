package model

// ================ Config ================
type ConversationConfig struct {
	TTL   string `envconfig:"CONVERSATION_TTL" default:"24h"`
	Tools struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"10"`
	}
}

// AgentModelConfig configures the tool-calling conversation model.
type AgentModelConfig struct {
	Model       string  `envconfig:"AGENT_MODEL" default:"gpt-4o"`
	MaxTokens   int     `envconfig:"AGENT_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"AGENT_TEMPERATURE" default:"0"`
}

// MatcherModelConfig configures the structured-output model used for product
// matching. Defaults to the agent model settings.
type MatcherModelConfig struct {
	Model       string  `envconfig:"MATCHER_MODEL" default:"gpt-4o"`
	MaxTokens   int     `envconfig:"MATCHER_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"MATCHER_TEMPERATURE" default:"0"`
}
