package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// PurchaseArgs are the arguments of a purchase_product tool call. Every field
// is optional on the wire; the intent resolver fills the gaps.
type PurchaseArgs struct {
	ProductID        string  `json:"productId,omitempty"`
	ProductName      string  `json:"productName,omitempty"`
	Quantity         int     `json:"quantity,omitempty"`
	MaxPurchasePrice float64 `json:"maxPurchasePrice,omitempty"`
}

// ParsePurchaseArgs decodes the raw JSON arguments of a purchase_product
// tool call.
func ParsePurchaseArgs(arguments string) (*PurchaseArgs, error) {
	var args PurchaseArgs
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("parse purchase_product arguments: %w", err)
		}
	}
	args.ProductID = strings.TrimSpace(args.ProductID)
	args.ProductName = strings.TrimSpace(args.ProductName)
	if args.Quantity < 0 {
		return nil, fmt.Errorf("purchase_product quantity must be positive, got %d", args.Quantity)
	}
	if args.MaxPurchasePrice < 0 {
		return nil, fmt.Errorf("purchase_product maxPurchasePrice must be positive, got %v", args.MaxPurchasePrice)
	}
	return &args, nil
}

type PurchaseProductOutput struct {
	Confirmation string `json:"confirmation"`
}

// createPurchaseProductTool registers the purchase entry point the model can
// call. The graph intercepts the call before generic dispatch and runs the
// intent resolution flow; this invocation only serves as a safety net if the
// call ever reaches the generic tools node.
func createPurchaseProductTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolPurchaseProduct,
			Desc: "This tool should be called when a user wants to purchase a solar product.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"productId": {
					Type: schema.String,
					Desc: "The ID of the solar product.",
				},
				"productName": {
					Type: schema.String,
					Desc: "The name of the solar product. This field should be populated if you do not know the product ID.",
				},
				"quantity": {
					Type: schema.Integer,
					Desc: "The quantity of the product to purchase. Defaults to 1.",
				},
				"maxPurchasePrice": {
					Type: schema.Number,
					Desc: "The max price at which to purchase the product. Defaults to the current price.",
				},
			}),
		},
		func(ctx context.Context, in *PurchaseArgs) (*PurchaseProductOutput, error) {
			quantity := in.Quantity
			if quantity == 0 {
				quantity = 1
			}
			price := "the current price"
			if in.MaxPurchasePrice > 0 {
				price = fmt.Sprintf("$%v per unit", in.MaxPurchasePrice)
			}
			subject := in.ProductID
			if subject == "" {
				subject = in.ProductName
			}
			return &PurchaseProductOutput{
				Confirmation: fmt.Sprintf("Please confirm that you want to purchase %d unit(s) of %s at %s.", quantity, subject, price),
			}, nil
		},
	)
}

type FindSuitableProductInput struct {
	ProductName string `json:"productName"`
}

type FindSuitableProductOutput struct {
	Note string `json:"note"`
}

// createFindSuitableProductTool registers the product-matching entry point.
// Like purchase_product it is intercepted by graph routing; the registered
// invocation is a fallback only.
func createFindSuitableProductTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolFindSuitableProduct,
			Desc: "Finds the catalog product that best matches a product the user described by name or example, when the exact product ID is unknown.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"productName": {
					Type:     schema.String,
					Desc:     "The product name or description given by the user.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *FindSuitableProductInput) (*FindSuitableProductOutput, error) {
			return &FindSuitableProductOutput{
				Note: fmt.Sprintf("Product matching for %q is handled by the conversation flow.", in.ProductName),
			}, nil
		},
	)
}
