package graph

import (
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/nodes"
	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	"github.com/zohlar/agent-server/internal/agent/model"
)

func assistantWithCalls(names ...string) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant}
	for _, name := range names {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:       "call_" + name,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: "{}"},
		})
	}
	return msg
}

func TestRouteAtEntry(t *testing.T) {
	t.Parallel()

	if got := RouteAtEntry(model.PhaseIdle); got != nodes.NodeAgent {
		t.Fatalf("idle phase must route to agent, got %s", got)
	}
	if got := RouteAtEntry(model.PhaseAwaitingApproval); got != nodes.NodePurchaseApproval {
		t.Fatalf("awaiting phase must route to approval, got %s", got)
	}
}

func TestRouteAfterAgentFinalReply(t *testing.T) {
	t.Parallel()

	reply := schema.AssistantMessage("Here are our products.", nil)
	if got := RouteAfterAgent(reply, nil, model.OutcomeNone, false); got != nodes.NodeFinalizeReply {
		t.Fatalf("tool-less reply must finalize, got %s", got)
	}
	if got := RouteAfterAgent(nil, nil, model.OutcomeNone, false); got != nodes.NodeFinalizeReply {
		t.Fatalf("nil output must finalize, got %s", got)
	}
}

func TestRouteAfterAgentToolLimit(t *testing.T) {
	t.Parallel()

	out := assistantWithCalls(tools.ToolProductList)
	if got := RouteAfterAgent(out, nil, model.OutcomeNone, true); got != nodes.NodeFinalizeReply {
		t.Fatalf("spent tool budget must finalize, got %s", got)
	}
}

func TestRouteAfterAgentPurchasePriority(t *testing.T) {
	t.Parallel()

	// purchase_product wins over generic calls in the same turn
	out := assistantWithCalls(tools.ToolProductList, tools.ToolPurchaseProduct)
	if got := RouteAfterAgent(out, nil, model.OutcomeNone, false); got != nodes.NodePreparePurchase {
		t.Fatalf("purchase call must route to resolver, got %s", got)
	}

	out = assistantWithCalls(tools.ToolFindSuitableProduct)
	if got := RouteAfterAgent(out, nil, model.OutcomeNone, false); got != nodes.NodeFindSuitableProduct {
		t.Fatalf("matcher call must route to matcher node, got %s", got)
	}

	out = assistantWithCalls(tools.ToolProductList, tools.ToolSolarIncentives)
	if got := RouteAfterAgent(out, nil, model.OutcomeNone, false); got != nodes.NodeToolExecutor {
		t.Fatalf("generic calls must route to tools, got %s", got)
	}
}

func TestRouteAfterAgentApprovedIntentGuard(t *testing.T) {
	t.Parallel()

	intent := &model.PurchaseIntent{ProductID: "SP-X22", Quantity: 1, MaxPurchasePrice: 899.99}
	out := assistantWithCalls(tools.ToolPurchaseProduct)

	// An approved, still-pending intent executes instead of resolving again.
	if got := RouteAfterAgent(out, intent, model.OutcomeApproved, false); got != nodes.NodeExecutePurchase {
		t.Fatalf("approved intent must execute, got %s", got)
	}

	// Without approval the executor stays unreachable from the agent.
	if got := RouteAfterAgent(out, intent, model.OutcomePending, false); got == nodes.NodeExecutePurchase {
		t.Fatal("unapproved intent must not reach the executor")
	}
	if got := RouteAfterAgent(out, intent, model.OutcomeNone, false); got == nodes.NodeExecutePurchase {
		t.Fatal("intent without a decision must not reach the executor")
	}
}

func TestRouteAfterApproval(t *testing.T) {
	t.Parallel()

	cases := map[model.ApprovalOutcome]string{
		model.OutcomeApproved: nodes.NodeExecutePurchase,
		model.OutcomeRejected: nodes.NodeRejoinAgent,
		model.OutcomePending:  nodes.NodeAwaitApproval,
		model.OutcomeNone:     nodes.NodeFinalizeReply,
	}
	for outcome, want := range cases {
		if got := RouteAfterApproval(outcome); got != want {
			t.Fatalf("outcome %s: expected %s, got %s", outcome, want, got)
		}
	}
}
