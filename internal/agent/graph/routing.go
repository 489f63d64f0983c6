package graph

import (
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/nodes"
	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	"github.com/zohlar/agent-server/internal/agent/model"
)

// Routing is kept as pure functions over the turn and the purchase state so
// each decision is independently testable. The graph branch conditions only
// gather the inputs and delegate here.

// RouteAtEntry decides where a freshly ingested turn goes. A conversation
// suspended for approval re-enters through the approval gate; everything else
// goes to the agent model.
func RouteAtEntry(phase model.Phase) string {
	if phase == model.PhaseAwaitingApproval {
		return nodes.NodePurchaseApproval
	}
	return nodes.NodeAgent
}

// RouteAfterAgent implements the priority routing of the agent's output:
//  1. no further tool calls (or the tool budget is spent) - the reply is final
//  2. an approved intent is still pending - execute it instead of resolving again
//  3. a purchase_product call - resolve the purchase intent
//  4. a find_suitable_product call - run the product matcher
//  5. anything else - generic tool dispatch
func RouteAfterAgent(out *schema.Message, pendingIntent *model.PurchaseIntent, outcome model.ApprovalOutcome, limitReached bool) string {
	if out == nil || out.Role != schema.Assistant || len(out.ToolCalls) == 0 {
		return nodes.NodeFinalizeReply
	}
	if limitReached {
		return nodes.NodeFinalizeReply
	}
	if pendingIntent != nil && pendingIntent.Validate() == nil && outcome == model.OutcomeApproved {
		return nodes.NodeExecutePurchase
	}
	if hasToolCall(out, tools.ToolPurchaseProduct) {
		return nodes.NodePreparePurchase
	}
	if hasToolCall(out, tools.ToolFindSuitableProduct) {
		return nodes.NodeFindSuitableProduct
	}
	return nodes.NodeToolExecutor
}

// RouteAfterApproval maps the approval gate's outcome onto the next node.
// An approval executes, a rejection rejoins the agent so the model can react,
// an undecided pending purchase suspends, and the no-intent case carries the
// clarification reply out as-is.
func RouteAfterApproval(outcome model.ApprovalOutcome) string {
	switch outcome {
	case model.OutcomeApproved:
		return nodes.NodeExecutePurchase
	case model.OutcomeRejected:
		return nodes.NodeRejoinAgent
	case model.OutcomePending:
		return nodes.NodeAwaitApproval
	default:
		return nodes.NodeFinalizeReply
	}
}

func hasToolCall(msg *schema.Message, name string) bool {
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == name {
			return true
		}
	}
	return false
}
