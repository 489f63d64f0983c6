package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/solarapi"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// ===================================
// Product List Tool
// ===================================

type ProductListInput struct{}

type ProductListOutput struct {
	Products []solarapi.ProductDetails `json:"products,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

func (r *Registry) createProductListTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolProductList,
			Desc: "Fetches a list of all available solar products. The output includes an array of products with details such as name, manufacturer, efficiency, and other relevant specifications. Use this tool when a user is browsing for suitable products, doesn't name a specific product, or only gives an example.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ *ProductListInput) (*ProductListOutput, error) {
			resp, err := r.api.ListProducts(ctx)
			if err != nil {
				logx.Warn().Err(err).Msg("error fetching product list")
				return &ProductListOutput{Error: fmt.Sprintf("An error occurred while fetching product list: %v", err)}, nil
			}
			return &ProductListOutput{Products: resp.Products}, nil
		},
	)
}

// ===================================
// Product Details Tool
// ===================================

type ProductDetailsInput struct {
	ProductName string `json:"productName"`
}

type ProductDetailsOutput struct {
	ProductDetails *solarapi.ProductDetails `json:"product_details,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

func (r *Registry) createProductDetailsTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolProductDetails,
			Desc: "Fetches details about a specific solar product. The output includes key information such as product specifications, manufacturer, and performance ratings. Use this tool when a user wants to make a purchase or learn more about a particular solar product.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"productName": {
					Type:     schema.String,
					Desc:     "The name of the solar product.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ProductDetailsInput) (*ProductDetailsOutput, error) {
			if in.ProductName == "" {
				return &ProductDetailsOutput{Error: "productName is required"}, nil
			}
			resp, err := r.api.ProductDetails(ctx, in.ProductName)
			if err != nil {
				logx.Warn().Err(err).Str("productName", in.ProductName).Msg("error fetching product details")
				return &ProductDetailsOutput{Error: fmt.Sprintf("An error occurred while fetching product details: %v", err)}, nil
			}
			return &ProductDetailsOutput{ProductDetails: &resp.ProductDetails}, nil
		},
	)
}

// ===================================
// Product Pricing Tool
// ===================================

type ProductPricingInput struct {
	ProductID string `json:"productId"`
}

type ProductPricingOutput struct {
	Pricing *solarapi.Pricing `json:"pricing,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (r *Registry) createProductPricingTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolProductPricing,
			Desc: "Retrieves pricing information for a specific solar product, including base cost and available financing options.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"productId": {
					Type:     schema.String,
					Desc:     "The ID of the solar product.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ProductPricingInput) (*ProductPricingOutput, error) {
			if in.ProductID == "" {
				return &ProductPricingOutput{Error: "productId is required"}, nil
			}
			resp, err := r.api.Pricing(ctx, in.ProductID)
			if err != nil {
				logx.Warn().Err(err).Str("productId", in.ProductID).Msg("error fetching product pricing")
				return &ProductPricingOutput{Error: fmt.Sprintf("An error occurred while fetching product pricing: %v", err)}, nil
			}
			return &ProductPricingOutput{Pricing: &resp.Pricing}, nil
		},
	)
}
