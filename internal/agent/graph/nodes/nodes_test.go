package nodes

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/model"
)

func awaitingSession() *model.PurchaseSession {
	return &model.PurchaseSession{
		ConversationID: "conv-1",
		Phase:          model.PhaseAwaitingApproval,
		PendingIntent: &model.PurchaseIntent{
			ProductID: "SP-X22", Quantity: 1, MaxPurchasePrice: 899.99,
		},
		PendingToolCallID: "call-1",
	}
}

func TestBuildIncomingTurn(t *testing.T) {
	t.Parallel()

	// only a real decision answers the pending call
	turn := buildIncomingTurn(awaitingSession(), `{"approve": false}`)
	if turn.Role != schema.Tool {
		t.Fatalf("decision payload must become a tool turn, got role %s", turn.Role)
	}
	if turn.ToolCallID != "call-1" {
		t.Fatalf("decision turn must answer the pending call, got %q", turn.ToolCallID)
	}

	cases := []struct {
		name  string
		query string
	}{
		{"json without approve key", `{"note":"just asking"}`},
		{"approve is not a boolean", `{"approve":"yes"}`},
		{"plain text", "hello? are you there?"},
		{"malformed json", `{"approve": tr`},
	}
	for _, tc := range cases {
		turn := buildIncomingTurn(awaitingSession(), tc.query)
		if turn.Role != schema.User {
			t.Fatalf("%s: non-decision must stay a user turn, got role %s", tc.name, turn.Role)
		}
		if turn.ToolCallID != "" {
			t.Fatalf("%s: non-decision must not consume the pending call", tc.name)
		}
	}

	// an idle conversation never produces tool turns
	turn = buildIncomingTurn(model.NewPurchaseSession("conv-1"), `{"approve": true}`)
	if turn.Role != schema.User {
		t.Fatalf("idle conversation must keep the text as a user turn, got role %s", turn.Role)
	}
}

func TestAgentPreHandlerBackfillsToolCallIDsByPosition(t *testing.T) {
	t.Parallel()

	state := &model.AppState{
		History: []*schema.Message{
			schema.UserMessage("compare pricing and incentives"),
			{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "call-a", Type: "function", Function: schema.FunctionCall{Name: "product_pricing", Arguments: "{}"}},
					{ID: "call-b", Type: "function", Function: schema.FunctionCall{Name: "solar_incentives", Arguments: "{}"}},
				},
			},
		},
	}
	in := []*schema.Message{
		schema.ToolMessage(`{"pricing":{}}`, ""),
		schema.ToolMessage(`{"incentives":{}}`, ""),
	}

	handler := NewAgentChatModelPreHandler(DefaultMaxToolCalls)
	if _, err := handler(context.Background(), in, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if in[0].ToolCallID != "call-a" {
		t.Fatalf("first result must answer the first call, got %q", in[0].ToolCallID)
	}
	if in[1].ToolCallID != "call-b" {
		t.Fatalf("second result must answer the second call, got %q", in[1].ToolCallID)
	}
}

func TestAgentPreHandlerKeepsExistingToolCallIDs(t *testing.T) {
	t.Parallel()

	state := &model.AppState{
		History: []*schema.Message{
			{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "call-a", Type: "function", Function: schema.FunctionCall{Name: "product_list", Arguments: "{}"}},
				},
			},
		},
	}
	in := []*schema.Message{schema.ToolMessage(`{"products":[]}`, "call-a")}

	handler := NewAgentChatModelPreHandler(DefaultMaxToolCalls)
	if _, err := handler(context.Background(), in, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in[0].ToolCallID != "call-a" {
		t.Fatalf("populated tool_call_id must be left alone, got %q", in[0].ToolCallID)
	}
}
