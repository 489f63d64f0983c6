package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/conversations"
	"github.com/zohlar/agent-server/internal/agent/graph/prompts"
	"github.com/zohlar/agent-server/internal/agent/model"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// Graph node names.
const (
	NodeIngestTurn          = "ingest_turn"
	NodeAgent               = "agent"
	NodeToolExecutor        = "tools"
	NodePreparePurchase     = "prepare_purchase_details"
	NodePurchaseApproval    = "purchase_approval"
	NodeAwaitApproval       = "await_approval"
	NodeExecutePurchase     = "execute_purchase"
	NodeFindSuitableProduct = "find_suitable_product"
	NodeRejoinAgent         = "rejoin_agent"
	NodeFinalizeReply       = "finalize_reply"
)

// NewIngestTurnPreHandler creates the pre-handler for the IngestTurn node
func NewIngestTurnPreHandler() func(context.Context, model.ChatInput, *model.AppState) (model.ChatInput, error) {
	return func(ctx context.Context, in model.ChatInput, s *model.AppState) (model.ChatInput, error) {
		if s.ConversationID == "" {
			s.ConversationID = in.ConversationID
		}
		// Reset per-invocation bookkeeping
		s.ToolCallCount = 0
		s.ToolCallLimitReached = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		s.AwaitingApproval = false
		s.ApprovalPrompt = ""
		s.ApprovalOutcome = model.OutcomeNone
		return in, nil
	}
}

// NewIngestTurnNode creates the node that loads the persisted conversation
// state and folds the incoming turn into it. While a purchase approval is
// pending, an incoming decision payload becomes the tool-result turn
// answering the pending purchase call; any other text stays a regular user
// turn.
func NewIngestTurnNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.ChatInput) ([]*schema.Message, error) {
		if strings.TrimSpace(input.ConversationID) == "" {
			return nil, model.ErrInvalidSessionID
		}

		history, session, err := mm.LoadState(ctx, input.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("error loading conversation state: %w", err)
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.History = history
			s.PersistedCount = len(history)
			s.Phase = session.Phase
			s.PendingIntent = session.PendingIntent
			s.PendingToolCallID = session.PendingToolCallID
			s.SuitableProduct = session.SuitableProduct

			s.History = append(s.History, buildIncomingTurn(session, input.Query))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		logx.Debug().
			Str("conversation_id", input.ConversationID).
			Str("phase", string(session.Phase)).
			Int("history_len", len(history)).
			Msg("Turn ingested")

		// The agent pre-handler works off state history; downstream nodes
		// receive nothing to append.
		return []*schema.Message{}, nil
	})
}

// buildIncomingTurn shapes the new turn. The pending call may only ever be
// answered by a real decision: JSON-shaped text without an "approve" boolean
// stays a user turn, so the suspension repeats without consuming the call.
func buildIncomingTurn(session *model.PurchaseSession, query string) *schema.Message {
	if session.Phase == model.PhaseAwaitingApproval && session.PendingToolCallID != "" {
		if _, ok := parseDecisionPayload(strings.TrimSpace(query)); ok {
			return schema.ToolMessage(strings.TrimSpace(query), session.PendingToolCallID)
		}
	}
	return schema.UserMessage(query)
}

// NewAgentChatModelPreHandler creates the pre-handler for the Agent node
func NewAgentChatModelPreHandler(maxToolCalls int) func(context.Context, []*schema.Message, *model.AppState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
		// Ensure tool results carry tool_call_id; some providers reject the
		// request otherwise. The tools node emits results in request order,
		// so the k-th result answers the k-th call of the latest assistant
		// turn; results past that turn's calls are left alone.
		var lastCalls []schema.ToolCall
		for i := len(state.History) - 1; i >= 0; i-- {
			msg := state.History[i]
			if msg != nil && msg.Role == schema.Assistant && len(msg.ToolCalls) > 0 {
				lastCalls = msg.ToolCalls
				break
			}
		}
		toolIdx := 0
		for _, m := range in {
			if m == nil || m.Role != schema.Tool {
				continue
			}
			if strings.TrimSpace(m.ToolCallID) == "" && toolIdx < len(lastCalls) {
				if id := strings.TrimSpace(lastCalls[toolIdx].ID); id != "" {
					m.ToolCallID = id
				}
			}
			toolIdx++
		}

		state.History = append(state.History, in...)

		if checkAndMarkToolLimit(state, maxToolCalls) {
			maxToolCalls = normalizeMaxToolCalls(maxToolCalls)
			wrapUp := &schema.Message{
				Role: schema.System,
				Content: fmt.Sprintf(
					"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
						"Please synthesize a helpful response using the information you've already gathered. "+
						"Acknowledge any limitations in your response if you couldn't complete all necessary tool calls.",
					maxToolCalls,
				),
			}
			state.History = append(state.History, wrapUp)
		}

		systemPrompt, err := prompts.RenderSystem(ctx)
		if err != nil {
			return nil, fmt.Errorf("render system prompt: %w", err)
		}

		logx.Debug().Msg("AI thinking...")

		messages := make([]*schema.Message, 0, len(state.History)+1)
		messages = append(messages, schema.SystemMessage(systemPrompt))
		messages = append(messages, state.History...)
		return messages, nil
	}
}

// NewAgentChatModelPostHandler creates the post-handler for the Agent node
func NewAgentChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		// Compute usage cost if available
		if model.CostEnabled() && out != nil && out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			pricing := model.ResolvePricing(modelName)
			inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost"] = map[string]any{
				"currency":          "USD",
				"model":             modelName,
				"prompt_tokens":     out.ResponseMeta.Usage.PromptTokens,
				"completion_tokens": out.ResponseMeta.Usage.CompletionTokens,
				"total_tokens":      out.ResponseMeta.Usage.TotalTokens,
				"input_cost":        inC,
				"output_cost":       outC,
				"total_cost":        totalC,
			}
			logx.Debug().
				Str("conversation_id", state.ConversationID).
				Str("node", NodeAgent).
				Str("model", modelName).
				Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
				Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
				Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
				Float64("input_cost_usd", inC).
				Float64("output_cost_usd", outC).
				Float64("total_cost_usd", totalC).
				Msg("LLM usage")

			state.TotalCostUSD += totalC
			out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
		}

		// Normalize tool calls: some providers may omit tool_call IDs.
		if out != nil && len(out.ToolCalls) > 0 {
			for i := range out.ToolCalls {
				if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
					state.ToolCallIDSeq++
					out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
				}
			}
		}

		state.History = append(state.History, out)

		if out != nil && len(out.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		} else {
			logx.Debug().Msg("AI response ready")
		}

		return out, nil
	}
}

// NewToolExecutorPreHandler creates the pre-handler for ToolExecutor node
func NewToolExecutorPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.AppState) (*schema.Message, error) {
		exceeded := incrementToolCallAndCheck(state, maxToolCalls)

		logx.Debug().
			Int("tool_call_count", state.ToolCallCount).
			Str("conversation_id", state.ConversationID).
			Msg("Tool execution attempt")

		if exceeded {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", normalizeMaxToolCalls(maxToolCalls)).
				Str("conversation_id", state.ConversationID).
				Msg("Tool call limit exceeded - flagging and continuing")
		}

		return in, nil
	}
}

// NewRejoinAgentNode adapts the approval gate's output back into the agent's
// input shape. The rejection turn is already part of state history, so nothing
// new is handed to the agent pre-handler.
func NewRejoinAgentNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) ([]*schema.Message, error) {
		return []*schema.Message{}, nil
	})
}

// NewAwaitApprovalNode creates the node that suspends the run for a human
// decision. The pending intent is left untouched so a repeated invocation
// re-issues the same request.
func NewAwaitApprovalNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		var prompt string
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			if err := s.PendingIntent.Validate(); err != nil {
				return fmt.Errorf("awaiting approval without a valid intent: %w", err)
			}
			if s.ApprovalPrompt == "" {
				s.ApprovalPrompt = buildApprovalPrompt(s.PendingIntent)
			}
			s.AwaitingApproval = true
			prompt = s.ApprovalPrompt

			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("product_id", s.PendingIntent.ProductID).
				Msg("Suspending for purchase approval")
			return nil
		})
		if err != nil {
			return nil, err
		}
		// Not appended to history: the request is re-issued on every
		// invocation until a decision arrives.
		return schema.AssistantMessage(prompt, nil), nil
	})
}

func buildApprovalPrompt(intent *model.PurchaseIntent) string {
	return fmt.Sprintf(
		"Please confirm the purchase of %d unit(s) of %s at $%s/unit. Reply with {\"approve\": true} or {\"approve\": false}.",
		intent.Quantity, intent.ProductID, formatPrice(intent.MaxPurchasePrice),
	)
}

// NewFinalizeReplyNode creates the terminal node: it persists the new history
// entries plus the purchase session and shapes the run's TurnResult.
func NewFinalizeReplyNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*model.TurnResult, error) {
		var result *model.TurnResult
		err := compose.ProcessState(ctx, func(stateCtx context.Context, s *model.AppState) error {
			reply := ""
			if in != nil {
				reply = in.Content
			}
			result = &model.TurnResult{
				ConversationID: s.ConversationID,
				Reply:          reply,
				NeedsApproval:  s.AwaitingApproval,
			}
			if s.AwaitingApproval {
				result.PendingPurchase = s.PendingIntent
				if s.ApprovalPrompt != "" {
					result.Reply = s.ApprovalPrompt
				}
			}

			if err := mm.PersistNewMessages(stateCtx, s.ConversationID, s.History, s.PersistedCount); err != nil {
				return fmt.Errorf("persist conversation history: %w", err)
			}
			session := &model.PurchaseSession{
				ConversationID:    s.ConversationID,
				Phase:             s.Phase,
				PendingIntent:     s.PendingIntent,
				PendingToolCallID: s.PendingToolCallID,
				SuitableProduct:   s.SuitableProduct,
			}
			if err := mm.PersistSession(stateCtx, session); err != nil {
				return fmt.Errorf("persist purchase session: %w", err)
			}

			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("phase", string(s.Phase)).
				Bool("needs_approval", s.AwaitingApproval).
				Float64("total_cost_usd", s.TotalCostUSD).
				Msg("Turn finalized")
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}
