package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/zohlar/agent-server/internal/agent/graph"
	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	"github.com/zohlar/agent-server/internal/agent/model"
	"github.com/zohlar/agent-server/internal/agent/repo"
	"github.com/zohlar/agent-server/internal/core"
	"github.com/zohlar/agent-server/internal/solarapi"
	logx "github.com/zohlar/agent-server/pkg/logger"
	pkgredis "github.com/zohlar/agent-server/pkg/redis"
)

// AppConfig defines all configurable parameters for the agent server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	BaseURL string `envconfig:"OPENAI_BASE_URL"`

	// External services
	SolarAPI solarapi.Config
	Serp     tools.SerpConfig

	// Agent configs
	Agent        model.AgentModelConfig
	Matcher      model.MatcherModelConfig
	Conversation model.ConversationConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	rdb, err := envCfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	fmt.Println("Connected to Redis successfully")

	ttl, err := time.ParseDuration(envCfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", envCfg.Conversation.TTL, err)
	}

	solarClient, err := solarapi.NewClient(envCfg.SolarAPI)
	if err != nil {
		log.Fatalf("Failed to initialise solar company API client: %v", err)
	}

	searcher, err := tools.NewSerpWebSearcher(envCfg.Serp)
	if err != nil {
		log.Fatalf("Failed to initialise web searcher: %v", err)
	}

	cfg := graph.Config{
		APIKey:           envCfg.APIKey,
		BaseURL:          envCfg.BaseURL,
		AgentModel:       envCfg.Agent,
		MatcherModel:     envCfg.Matcher,
		Conversation:     envCfg.Conversation,
		ConversationRepo: repo.NewRedisConversationRepository(rdb, ttl),
		SessionStore:     repo.NewRedisPurchaseSessionStore(rdb, ttl),
		SolarAPI:         solarClient,
		WebSearch:        searcher,
	}

	runner, err := graph.BuildAgentGraph(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}

	testQueries := []struct {
		description string
		query       string
	}{
		{
			description: "Browse the catalog",
			query:       "Hi! What solar panels do you have available?",
		},
		{
			description: "Ask about savings",
			query:       "I live in Austin, TX and use about 900 kWh a month. What could I save with a 6 kW setup?",
		},
		{
			description: "Start a purchase",
			query:       "Great, I'd like to buy two units of the SunPower X22.",
		},
		{
			description: "Approve the purchase",
			query:       `{"approve": true}`,
		},
	}

	conversationID := "demo-conversation-1"

	for i, test := range testQueries {
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Query: %q\n", test.query)
		fmt.Println("Processing...")

		result, err := runner.Invoke(ctx, model.ChatInput{
			ConversationID: conversationID,
			Query:          test.query,
		})
		if err != nil {
			log.Fatalf("Failed to invoke graph for test %d: %v", i+1, err)
		}

		if result.NeedsApproval {
			fmt.Printf("Approval required: %s\n", result.Reply)
			if result.PendingPurchase != nil {
				fmt.Printf("Pending: %d unit(s) of %s at max $%v/unit\n",
					result.PendingPurchase.Quantity,
					result.PendingPurchase.ProductID,
					result.PendingPurchase.MaxPurchasePrice,
				)
			}
		} else {
			fmt.Printf("Response %d: %s\n", i+1, result.Reply)
		}
		fmt.Println("────────────────────────────────────────────────")

		// slight delay between turns for readability
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("All conversation turns completed.")
}
