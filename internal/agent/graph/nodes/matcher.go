package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/parsers"
	"github.com/zohlar/agent-server/internal/agent/graph/prompts"
	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	appmodel "github.com/zohlar/agent-server/internal/agent/model"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// ProductMatcher resolves a described product to a concrete catalog entry.
// Pipeline: derive a short search query from the description and recent
// assistant context, look the product up on the web, then have the matcher
// model pick the closest catalog entry as strict structured output.
type ProductMatcher struct {
	chatModel model.BaseChatModel
	modelName string
	search    tools.WebSearcher
	api       tools.SolarAPI
}

func NewProductMatcher(chatModel model.BaseChatModel, modelName string, search tools.WebSearcher, api tools.SolarAPI) (*ProductMatcher, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("matcher chat model is required")
	}
	if search == nil {
		return nil, fmt.Errorf("web searcher is required")
	}
	if api == nil {
		return nil, fmt.Errorf("solar api client is required")
	}
	return &ProductMatcher{
		chatModel: chatModel,
		modelName: modelName,
		search:    search,
		api:       api,
	}, nil
}

// Match finds the catalog product best resembling the described one. A
// failure at any stage means no match; the caller decides how to recover.
func (pm *ProductMatcher) Match(ctx context.Context, productName, assistantContext string) (*appmodel.ProductMatch, error) {
	query, err := pm.deriveSearchQuery(ctx, productName, assistantContext)
	if err != nil {
		return nil, fmt.Errorf("derive search query: %w", err)
	}

	target := productName
	if summary, err := pm.search.Search(ctx, query); err != nil {
		// The web lookup only enriches the target description; fall back to
		// the raw product name.
		logx.Warn().Err(err).Str("query", query).Msg("Web search failed - matching on the raw description")
	} else if strings.TrimSpace(summary) != "" {
		target = summary
	}

	list, err := pm.api.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch product list: %w", err)
	}
	if len(list.Products) == 0 {
		return nil, fmt.Errorf("product catalog is empty")
	}
	listJSON, err := json.MarshalIndent(list.Products, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal product list: %w", err)
	}

	matchPrompt, err := prompts.RenderProductMatch(ctx, target, string(listJSON))
	if err != nil {
		return nil, err
	}
	resp, err := pm.generate(ctx, matchPrompt)
	if err != nil {
		return nil, fmt.Errorf("product match model call: %w", err)
	}

	match, err := parsers.ParseProductMatch(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse product match: %w", err)
	}

	logx.Debug().
		Str("product_name", productName).
		Str("matched_product_id", match.ProductID).
		Str("matched_product_name", match.ProductName).
		Msg("Product matched")
	return match, nil
}

func (pm *ProductMatcher) deriveSearchQuery(ctx context.Context, productName, assistantContext string) (string, error) {
	contextText := productName
	if strings.TrimSpace(assistantContext) != "" {
		contextText = assistantContext + "\n" + productName
	}
	queryPrompt, err := prompts.RenderSearchQuery(ctx, contextText)
	if err != nil {
		return "", err
	}
	resp, err := pm.generate(ctx, queryPrompt)
	if err != nil {
		return "", err
	}
	query := strings.TrimSpace(resp.Content)
	if query == "" {
		query = productName
	}
	return query, nil
}

func (pm *ProductMatcher) generate(ctx context.Context, userPrompt string) (*schema.Message, error) {
	resp, err := pm.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(userPrompt)})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("model returned no message")
	}
	pm.accumulateUsage(ctx, resp)
	return resp, nil
}

// accumulateUsage folds the call's cost into graph state when running inside
// a graph; standalone use (tests) has no state and is skipped.
func (pm *ProductMatcher) accumulateUsage(ctx context.Context, msg *schema.Message) {
	if !appmodel.CostEnabled() || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	pricing := appmodel.ResolvePricing(pm.modelName)
	inC, outC, totalC := appmodel.ComputeCost(msg.ResponseMeta.Usage, pricing)
	logx.Debug().
		Str("model", pm.modelName).
		Int("prompt_tokens", msg.ResponseMeta.Usage.PromptTokens).
		Int("completion_tokens", msg.ResponseMeta.Usage.CompletionTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
	_ = compose.ProcessState(ctx, func(_ context.Context, s *appmodel.AppState) error {
		s.TotalCostUSD += totalC
		return nil
	})
}
