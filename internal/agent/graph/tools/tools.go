package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/solarapi"
)

// Tool names. The graph routes purchase_product and find_suitable_product
// before generic dispatch; everything else is executed by the tools node.
const (
	ToolProductList              = "product_list"
	ToolProductDetails           = "product_details"
	ToolProductPricing           = "product_pricing"
	ToolInstallationAvailability = "installation_availability"
	ToolSavingsEstimates         = "savings_estimates"
	ToolSolarIncentives          = "solar_incentives"
	ToolPurchaseProduct          = "purchase_product"
	ToolFindSuitableProduct      = "find_suitable_product"
	ToolWebSearch                = "web_search"
)

// SolarAPI is the slice of the solar company API the tools depend on.
// *solarapi.Client satisfies it; tests substitute fakes.
type SolarAPI interface {
	ListProducts(ctx context.Context) (*solarapi.ProductListResponse, error)
	ProductDetails(ctx context.Context, productName string) (*solarapi.ProductDetailsResponse, error)
	Pricing(ctx context.Context, productID string) (*solarapi.PricingResponse, error)
	InstallationAvailability(ctx context.Context, zipCode, preferredDate string) (*solarapi.InstallationAvailabilityResponse, error)
	SavingsEstimates(ctx context.Context, location string, usage, panelCapacity float64) (*solarapi.SavingsEstimatesResponse, error)
	Incentives(ctx context.Context, state string) (*solarapi.IncentivesResponse, error)
	PriceSnapshot(ctx context.Context, productID string) (*solarapi.SnapshotResponse, error)
}

var _ SolarAPI = (*solarapi.Client)(nil)

// WebSearcher runs an external web search and returns a short text summary of
// the top result.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Registry assembles the fixed tool set over the solar company API and the
// web search backend. Tools convert every failure into a descriptive error
// payload so the conversation can continue; they never fail the graph run.
type Registry struct {
	api    SolarAPI
	search WebSearcher
}

func NewRegistry(api SolarAPI, search WebSearcher) (*Registry, error) {
	if api == nil {
		return nil, fmt.Errorf("solar api client is required")
	}
	if search == nil {
		return nil, fmt.Errorf("web searcher is required")
	}
	return &Registry{api: api, search: search}, nil
}

// QueryTools returns every registered tool, including purchase_product and
// find_suitable_product. The full list is bound to the model so it can emit
// the corresponding tool calls; the graph intercepts the purchase ones.
func (r *Registry) QueryTools() []tool.BaseTool {
	return []tool.BaseTool{
		r.createProductListTool(),
		r.createProductDetailsTool(),
		r.createProductPricingTool(),
		r.createInstallationAvailabilityTool(),
		r.createSavingsEstimatesTool(),
		r.createIncentivesTool(),
		createPurchaseProductTool(),
		createFindSuitableProductTool(),
		r.createWebSearchTool(),
	}
}

// GetToolInfos resolves the ToolInfo of each tool for model binding.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
