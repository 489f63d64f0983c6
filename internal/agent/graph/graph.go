package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/conversations"
	"github.com/zohlar/agent-server/internal/agent/graph/nodes"
	"github.com/zohlar/agent-server/internal/agent/graph/observers"
	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	"github.com/zohlar/agent-server/internal/agent/model"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// Runner is a thin wrapper to execute the compiled graph with the public ChatInput.
type Runner interface {
	Invoke(ctx context.Context, in model.ChatInput) (*model.TurnResult, error)
}

// Config holds everything needed to compose the full agent graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs ChatModels,
// the tool registry, the product matcher, and the MessagesManager.
type Config struct {
	APIKey           string
	BaseURL          string
	AgentModel       model.AgentModelConfig
	MatcherModel     model.MatcherModelConfig
	Conversation     model.ConversationConfig
	ConversationRepo model.ConversationRepository
	SessionStore     model.PurchaseSessionStore
	SolarAPI         tools.SolarAPI
	WebSearch        tools.WebSearcher
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModels      *nodes.ChatModels
	MessagesManager *conversations.MessagesManager
	Registry        *tools.Registry
	Matcher         *nodes.ProductMatcher
	SolarAPI        tools.SolarAPI
	ToolMaxCalls    int
}

// GraphBuilder handles the construction of the agent conversation graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.ChatInput, *model.TurnResult]
}

type graphRunner struct {
	runnable compose.Runnable[model.ChatInput, *model.TurnResult]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.ChatInput) (*model.TurnResult, error) {
	return r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildAgentGraph composes the models, tools, matcher, and persistence into a
// compiled graph and returns a Runner.
func BuildAgentGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.SessionStore == nil {
		return nil, fmt.Errorf("purchase session store is nil")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		AgentConfig:   &cfg.AgentModel,
		MatcherConfig: &cfg.MatcherModel,
	})
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewRegistry(cfg.SolarAPI, cfg.WebSearch)
	if err != nil {
		return nil, err
	}

	matcher, err := nodes.NewProductMatcher(cms.Matcher, cms.MatcherModelName, cfg.WebSearch, cfg.SolarAPI)
	if err != nil {
		return nil, err
	}

	mm := conversations.NewMessagesManager(cfg.ConversationRepo, cfg.SessionStore)

	runnable, err := BuildGraph(ctx, &GraphConfig{
		ChatModels:      cms,
		MessagesManager: mm,
		Registry:        registry,
		Matcher:         matcher,
		SolarAPI:        cfg.SolarAPI,
		ToolMaxCalls:    cfg.Conversation.Tools.MaxCalls,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Agent graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled agent graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.ChatInput, *model.TurnResult], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Agent == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.MessagesManager == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}
	if config.Registry == nil || config.Matcher == nil || config.SolarAPI == nil {
		return nil, fmt.Errorf("tool registry/matcher is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.ChatInput, *model.TurnResult](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// setupTools configures business tools and binds them to the agent model
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	businessTools := b.config.Registry.QueryTools()
	toolInfos, err := tools.GetToolInfos(ctx, businessTools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return fmt.Errorf("failed to get tool infos: %w", err)
	}

	if err := b.config.ChatModels.BindToolsToAgentModel(ctx, toolInfos); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to agent model")
		return fmt.Errorf("failed to bind tools to agent model: %w", err)
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools: businessTools,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Gracefully handle hallucinated or malformed tool calls (e.g., empty name)
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			// Best-effort sanitize string arguments; never fail hard here
			var m map[string]any
			if err := json.Unmarshal([]byte(arguments), &m); err != nil {
				return arguments, nil
			}
			for k, v := range m {
				if s, ok := v.(string); ok {
					m[k] = strings.TrimSpace(s)
				}
			}
			out, err := json.Marshal(m)
			if err != nil {
				return arguments, nil
			}
			return string(out), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler(b.config.ToolMaxCalls)),
	)

	return nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	b.graph.AddLambdaNode(nodes.NodeIngestTurn,
		nodes.NewIngestTurnNode(b.config.MessagesManager),
		compose.WithStatePreHandler(nodes.NewIngestTurnPreHandler()),
	)

	b.graph.AddChatModelNode(nodes.NodeAgent,
		nodes.NewAgentChatModelNode(b.config.ChatModels.Agent),
		compose.WithStatePreHandler(nodes.NewAgentChatModelPreHandler(b.config.ToolMaxCalls)),
		compose.WithStatePostHandler(nodes.NewAgentChatModelPostHandler(b.config.ChatModels.AgentModelName)),
	)

	b.graph.AddLambdaNode(nodes.NodePreparePurchase,
		nodes.NewPreparePurchaseNode(b.config.Matcher, b.config.SolarAPI),
	)

	b.graph.AddLambdaNode(nodes.NodeFindSuitableProduct,
		nodes.NewFindSuitableProductNode(b.config.Matcher),
	)

	b.graph.AddLambdaNode(nodes.NodePurchaseApproval,
		nodes.NewPurchaseApprovalNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeAwaitApproval,
		nodes.NewAwaitApprovalNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeExecutePurchase,
		nodes.NewExecutePurchaseNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeRejoinAgent,
		nodes.NewRejoinAgentNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeFinalizeReply,
		nodes.NewFinalizeReplyNode(b.config.MessagesManager),
	)
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeIngestTurn},
		{nodes.NodeToolExecutor, nodes.NodeAgent},
		{nodes.NodeFindSuitableProduct, nodes.NodeAgent},
		{nodes.NodeRejoinAgent, nodes.NodeAgent},
		{nodes.NodePreparePurchase, nodes.NodePurchaseApproval},
		{nodes.NodeAwaitApproval, nodes.NodeFinalizeReply},
		{nodes.NodeExecutePurchase, nodes.NodeFinalizeReply},
		{nodes.NodeFinalizeReply, compose.END},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	entryBranch := compose.NewGraphBranch(
		func(ctx context.Context, in []*schema.Message) (string, error) {
			var phase model.Phase
			err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
				phase = s.Phase
				return nil
			})
			if err != nil {
				return "", err
			}
			next := RouteAtEntry(phase)
			logx.Debug().Str("phase", string(phase)).Str("next", next).Msg("Entry routing")
			return next, nil
		},
		map[string]bool{
			nodes.NodeAgent:            true,
			nodes.NodePurchaseApproval: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeIngestTurn, entryBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding entry branch")
		return fmt.Errorf("error adding entry branch: %w", err)
	}

	agentBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *schema.Message) (string, error) {
			var (
				pending      *model.PurchaseIntent
				outcome      model.ApprovalOutcome
				limitReached bool
			)
			err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
				pending = s.PendingIntent
				outcome = s.ApprovalOutcome
				limitReached = s.ToolCallLimitReached
				return nil
			})
			if err != nil {
				return "", err
			}
			next := RouteAfterAgent(in, pending, outcome, limitReached)
			logx.Debug().Str("next", next).Msg("Agent routing")
			return next, nil
		},
		map[string]bool{
			nodes.NodeFinalizeReply:       true,
			nodes.NodeExecutePurchase:     true,
			nodes.NodePreparePurchase:     true,
			nodes.NodeFindSuitableProduct: true,
			nodes.NodeToolExecutor:        true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeAgent, agentBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding agent branch")
		return fmt.Errorf("error adding agent branch: %w", err)
	}

	approvalBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *schema.Message) (string, error) {
			var outcome model.ApprovalOutcome
			err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
				outcome = s.ApprovalOutcome
				return nil
			})
			if err != nil {
				return "", err
			}
			next := RouteAfterApproval(outcome)
			logx.Debug().Str("outcome", string(outcome)).Str("next", next).Msg("Approval routing")
			return next, nil
		},
		map[string]bool{
			nodes.NodeExecutePurchase: true,
			nodes.NodeRejoinAgent:     true,
			nodes.NodeAwaitApproval:   true,
			nodes.NodeFinalizeReply:   true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodePurchaseApproval, approvalBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding approval branch")
		return fmt.Errorf("error adding approval branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.ChatInput, *model.TurnResult], error) {
	// Limit total run steps to avoid infinite loops in branching or tool retries
	maxSteps := 10 + b.config.ToolMaxCalls*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
