package nodes

import (
	"context"
	"fmt"
	"strings"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/model"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey        string
	BaseURL       string
	AgentConfig   *model.AgentModelConfig
	MatcherConfig *model.MatcherModelConfig
}

// ChatModels holds the tool-calling agent model and the structured-output
// matcher model.
type ChatModels struct {
	Agent            einomodel.ToolCallingChatModel
	Matcher          einomodel.ToolCallingChatModel
	AgentModelName   string
	MatcherModelName string
}

// NewChatModels creates both chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.AgentConfig == nil || config.MatcherConfig == nil {
		return nil, fmt.Errorf("model configs are not properly initialized")
	}

	agent, err := newOpenAIModel(ctx, config, config.AgentConfig.Model, config.AgentConfig.MaxTokens, config.AgentConfig.Temperature)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating agent model")
		return nil, fmt.Errorf("error creating agent model: %w", err)
	}

	matcher, err := newOpenAIModel(ctx, config, config.MatcherConfig.Model, config.MatcherConfig.MaxTokens, config.MatcherConfig.Temperature)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating matcher model")
		return nil, fmt.Errorf("error creating matcher model: %w", err)
	}

	return &ChatModels{
		Agent:            agent,
		Matcher:          matcher,
		AgentModelName:   config.AgentConfig.Model,
		MatcherModelName: config.MatcherConfig.Model,
	}, nil
}

func newOpenAIModel(ctx context.Context, config ChatModelConfig, name string, maxTokens int, temperature float32) (einomodel.ToolCallingChatModel, error) {
	conf := &openaimodel.ChatModelConfig{
		APIKey:      strings.TrimSpace(config.APIKey),
		Model:       strings.TrimSpace(name),
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
	if config.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	return openaimodel.NewChatModel(ctx, conf)
}

// BindToolsToAgentModel binds tools to the agent chat model.
func (cm *ChatModels) BindToolsToAgentModel(ctx context.Context, tools []*schema.ToolInfo) error {
	bound, err := cm.Agent.WithTools(tools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return fmt.Errorf("failed to bind tools: %w", err)
	}
	cm.Agent = bound

	logx.Debug().Msg("Successfully bound tools to agent model")
	return nil
}

// NewAgentChatModelNode returns the agent chat model for use as a graph node.
func NewAgentChatModelNode(chatModel einomodel.ToolCallingChatModel) einomodel.ToolCallingChatModel {
	return chatModel
}
