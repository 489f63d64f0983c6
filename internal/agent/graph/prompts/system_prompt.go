package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/tools"
)

//go:embed template/system_prompt.txt
var coreSystemPrompt string

// RenderSystem renders the fixed system instructions for the agent model and
// triggers prompt callbacks.
func RenderSystem(ctx context.Context) (string, error) {
	// Render via Eino prompt component (Go template) to both format and emit callbacks
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(coreSystemPrompt),
	)
	vars := map[string]any{
		"ProductListTool":         tools.ToolProductList,
		"ProductDetailsTool":      tools.ToolProductDetails,
		"PurchaseProductTool":     tools.ToolPurchaseProduct,
		"FindSuitableProductTool": tools.ToolFindSuitableProduct,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
