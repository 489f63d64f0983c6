package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/match_prompt.txt
var matchPrompt string

const searchQueryPrompt = "Given the following context, create a search query to find a suitable solar panel (less than 10 words). Respond with the query only.\n\n{context}"

// RenderSearchQuery renders the prompt asking the model to derive a short
// web-search query from assistant context.
func RenderSearchQuery(ctx context.Context, assistantContext string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.UserMessage(searchQueryPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"context": assistantContext,
	})
	if err != nil {
		return "", fmt.Errorf("search query prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("search query prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// RenderProductMatch renders the structured-output prompt that asks the model
// to pick the catalog entry best matching the target example product.
func RenderProductMatch(ctx context.Context, target, productList string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.UserMessage(matchPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"target":       target,
		"product_list": productList,
	})
	if err != nil {
		return "", fmt.Errorf("product match prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("product match prompt render: empty result")
	}
	return msgs[0].Content, nil
}
