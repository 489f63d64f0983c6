package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	g "github.com/serpapi/google-search-results-golang"

	logx "github.com/zohlar/agent-server/pkg/logger"
)

// SerpConfig holds SerpAPI settings for the web_search tool.
type SerpConfig struct {
	APIKey     string `envconfig:"SERPAPI_API_KEY" required:"true"`
	Country    string `envconfig:"SERPAPI_COUNTRY" default:"us"`
	Language   string `envconfig:"SERPAPI_LANGUAGE" default:"en"`
	MaxResults int    `envconfig:"SERPAPI_MAX_RESULTS" default:"1"`
}

// SerpWebSearcher runs Google searches through SerpAPI and summarizes the
// top organic results as plain text.
type SerpWebSearcher struct {
	cfg SerpConfig
}

func NewSerpWebSearcher(cfg SerpConfig) (*SerpWebSearcher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("serpapi api key is required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 1
	}
	return &SerpWebSearcher{cfg: cfg}, nil
}

func (s *SerpWebSearcher) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("search query is empty")
	}

	parameter := map[string]string{
		"engine": "google",
		"q":      query,
		"gl":     s.cfg.Country,
		"hl":     s.cfg.Language,
	}

	search := g.NewGoogleSearch(parameter, s.cfg.APIKey)
	data, err := search.GetJSON()
	if err != nil {
		return "", fmt.Errorf("serpapi search: %w", err)
	}

	results, ok := data["organic_results"].([]any)
	if !ok || len(results) == 0 {
		return "", fmt.Errorf("serpapi search: no results for %q", query)
	}

	var sb strings.Builder
	count := 0
	for _, raw := range results {
		if count >= s.cfg.MaxResults {
			break
		}
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title, _ := entry["title"].(string)
		snippet, _ := entry["snippet"].(string)
		if title == "" && snippet == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(title + ": " + snippet))
		count++
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("serpapi search: no usable results for %q", query)
	}
	return sb.String(), nil
}

var _ WebSearcher = (*SerpWebSearcher)(nil)

type WebSearchInput struct {
	Query string `json:"query"`
}

type WebSearchOutput struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r *Registry) createWebSearchTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWebSearch,
			Desc: "Searches the web for up-to-date information about solar products, manufacturers, or market context.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     schema.String,
					Desc:     "The search query.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *WebSearchInput) (*WebSearchOutput, error) {
			result, err := r.search.Search(ctx, in.Query)
			if err != nil {
				logx.Warn().Err(err).Str("query", in.Query).Msg("error running web search")
				return &WebSearchOutput{Error: fmt.Sprintf("An error occurred while searching the web: %v", err)}, nil
			}
			return &WebSearchOutput{Result: result}, nil
		},
	)
}
