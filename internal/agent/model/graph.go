package model

import (
	"github.com/cloudwego/eino/schema"
)

// AppState stores per-invocation state for the Eino graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
//   - For persistence across invocations use the repositories (conversation
//     history and purchase session), never AppState itself.
type AppState struct {
	ConversationID string
	History        []*schema.Message // mutated only inside Eino state handlers
	PersistedCount int               // messages already stored in redis; everything past this index is written back at finalize

	// Purchase flow state, seeded from the persisted PurchaseSession at
	// ingest and written back before the run ends.
	Phase             Phase
	PendingIntent     *PurchaseIntent
	PendingToolCallID string
	SuitableProduct   *ProductMatch

	// Set by the approval gate for the routing that follows it.
	ApprovalOutcome ApprovalOutcome

	// Set when the run suspends for human approval; finalization turns it
	// into the NeedsApproval result.
	AwaitingApproval bool
	ApprovalPrompt   string

	ToolCallCount        int  // maintained in handlers (reset/increment)
	ToolCallLimitReached bool // set when tool call limit is exceeded
	ToolCallIDSeq        int  // local sequence to synthesize tool_call_id when provider omits

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// ChatInput is one external invocation of the agent: a conversation id plus
// the new turn's text. While a purchase approval is pending the text is
// interpreted as the approval payload.
type ChatInput struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

// TurnResult is what one graph run returns to the caller: either a terminal
// assistant reply, or a suspension that needs an explicit approval decision
// before the conversation can continue.
type TurnResult struct {
	ConversationID  string          `json:"conversation_id"`
	Reply           string          `json:"reply"`
	NeedsApproval   bool            `json:"needs_approval"`
	PendingPurchase *PurchaseIntent `json:"pending_purchase,omitempty"`
}
