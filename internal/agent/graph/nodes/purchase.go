package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	"github.com/zohlar/agent-server/internal/agent/model"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// NewPreparePurchaseNode creates the purchase intent resolver. It takes the
// assistant turn carrying a purchase_product call and fills the gaps: product
// identity via the product matcher, price ceiling via the live price
// snapshot, quantity defaulting to one. A request that cannot be resolved
// produces a clarification turn instead of an intent.
func NewPreparePurchaseNode(matcher *ProductMatcher, api tools.SolarAPI) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) ([]*schema.Message, error) {
		if in == nil || in.Role != schema.Assistant || len(in.ToolCalls) == 0 {
			return nil, fmt.Errorf("purchase preparation requires an assistant turn with tool calls")
		}

		var purchaseCall *schema.ToolCall
		for i := range in.ToolCalls {
			if in.ToolCalls[i].Function.Name == tools.ToolPurchaseProduct {
				purchaseCall = &in.ToolCalls[i]
				break
			}
		}
		if purchaseCall == nil {
			return nil, fmt.Errorf("purchase preparation requires a %s tool call", tools.ToolPurchaseProduct)
		}

		args, err := tools.ParsePurchaseArgs(purchaseCall.Function.Arguments)
		if err != nil {
			logx.Warn().Err(err).Msg("Unreadable purchase arguments")
			return clarify(ctx, in, "I could not read the purchase request. Please restate the product, quantity, and maximum price.")
		}

		productID := args.ProductID
		var match *model.ProductMatch
		if productID == "" {
			if args.ProductName == "" {
				return clarify(ctx, in, "I need to know which product you want to purchase. Please provide the product name or ID.")
			}
			match, err = matcher.Match(ctx, args.ProductName, recentAssistantContext(ctx))
			if err != nil {
				logx.Warn().Err(err).Str("product_name", args.ProductName).Msg("Product match failed")
				return clarify(ctx, in, fmt.Sprintf("I could not identify a catalog product matching %q. Could you name the exact product, or share more details about it?", args.ProductName))
			}
			productID = match.ProductID
		}

		price := args.MaxPurchasePrice
		if price <= 0 {
			snap, err := api.PriceSnapshot(ctx, productID)
			if err != nil {
				logx.Warn().Err(err).Str("product_id", productID).Msg("Price snapshot failed")
				return clarify(ctx, in, fmt.Sprintf("I could not fetch the current price for %s. Please specify the maximum price you are willing to pay per unit.", productID))
			}
			price = snap.Snapshot.Price
		}

		quantity := args.Quantity
		if quantity == 0 {
			quantity = 1
		}

		intent := &model.PurchaseIntent{
			ProductID:        productID,
			Quantity:         quantity,
			MaxPurchasePrice: price,
		}
		if err := intent.Validate(); err != nil {
			logx.Warn().Err(err).Msg("Resolved intent failed validation")
			return clarify(ctx, in, "The purchase request is incomplete. Please provide the product, quantity, and maximum price.")
		}

		// Answer sibling tool calls now; the purchase call itself is answered
		// by the approval decision turn.
		deferred := answerSiblingCalls(in, purchaseCall.ID)

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			s.History = append(s.History, deferred...)
			s.PendingIntent = intent
			s.Phase = model.PhaseAwaitingApproval
			s.PendingToolCallID = purchaseCall.ID
			if match != nil {
				s.SuitableProduct = match
			}
			s.ApprovalPrompt = buildApprovalPrompt(intent)

			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("product_id", intent.ProductID).
				Int("quantity", intent.Quantity).
				Float64("max_purchase_price", intent.MaxPurchasePrice).
				Msg("Purchase intent resolved")
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		return deferred, nil
	})
}

// NewFindSuitableProductNode creates the node that resolves find_suitable_product
// calls through the product matcher and hands the results back to the agent
// as tool-result turns.
func NewFindSuitableProductNode(matcher *ProductMatcher) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) ([]*schema.Message, error) {
		if in == nil || in.Role != schema.Assistant || len(in.ToolCalls) == 0 {
			return nil, fmt.Errorf("product matching requires an assistant turn with tool calls")
		}

		results := make([]*schema.Message, 0, len(in.ToolCalls))
		for _, tc := range in.ToolCalls {
			if tc.Function.Name != tools.ToolFindSuitableProduct {
				results = append(results, deferredResult(tc.ID))
				continue
			}

			var args struct {
				ProductName string `json:"productName"`
			}
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil || strings.TrimSpace(args.ProductName) == "" {
				results = append(results, errorResult(tc.ID, "a productName argument is required"))
				continue
			}

			match, err := matcher.Match(ctx, args.ProductName, recentAssistantContext(ctx))
			if err != nil {
				logx.Warn().Err(err).Str("product_name", args.ProductName).Msg("Product match failed")
				results = append(results, errorResult(tc.ID, fmt.Sprintf("no catalog product matching %q could be identified", args.ProductName)))
				continue
			}

			payload, err := json.Marshal(match)
			if err != nil {
				return nil, fmt.Errorf("marshal product match: %w", err)
			}
			results = append(results, schema.ToolMessage(string(payload), tc.ID))

			stateErr := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
				s.SuitableProduct = match
				return nil
			})
			if stateErr != nil {
				return nil, fmt.Errorf("failed to access state: %w", stateErr)
			}
		}

		// The agent pre-handler folds these into history.
		return results, nil
	})
}

// NewPurchaseApprovalNode creates the approval gate. It inspects the latest
// turn against the pending purchase and records the outcome for routing. A
// rejection clears the pending intent together with its phase tag so the
// stale intent can never execute later.
func NewPurchaseApprovalNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in []*schema.Message) (*schema.Message, error) {
		var out *schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			outcome := model.OutcomeNone
			if s.PendingIntent != nil {
				outcome = model.OutcomePending
				if decision, ok := decisionFromTurn(lastMessage(s.History), s.PendingToolCallID); ok {
					if decision.Approve {
						outcome = model.OutcomeApproved
					} else {
						outcome = model.OutcomeRejected
					}
				}
			}
			s.ApprovalOutcome = outcome

			if outcome == model.OutcomeRejected {
				s.Phase = model.PhaseIdle
				s.PendingIntent = nil
				s.PendingToolCallID = ""
				s.ApprovalPrompt = ""
				logx.Debug().
					Str("conversation_id", s.ConversationID).
					Msg("Purchase rejected - pending intent cleared")
			} else {
				logx.Debug().
					Str("conversation_id", s.ConversationID).
					Str("outcome", string(outcome)).
					Msg("Approval gate evaluated")
			}

			out = lastMessage(s.History)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return out, nil
	})
}

// decisionFromTurn reports whether the turn is the decision answering the
// pending purchase call, and if so what it decided.
func decisionFromTurn(turn *schema.Message, pendingToolCallID string) (model.ApprovalDecision, bool) {
	if turn == nil || turn.Role != schema.Tool || pendingToolCallID == "" || turn.ToolCallID != pendingToolCallID {
		return model.ApprovalDecision{}, false
	}
	return parseDecisionPayload(turn.Content)
}

// parseDecisionPayload decodes an approval decision. Only a JSON object
// carrying an "approve" boolean counts; anything else is not a decision.
func parseDecisionPayload(content string) (model.ApprovalDecision, bool) {
	var decision model.ApprovalDecision
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return decision, false
	}
	if _, ok := raw["approve"]; !ok {
		return decision, false
	}
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return decision, false
	}
	return decision, true
}

// NewExecutePurchaseNode creates the purchase executor. It requires a fully
// resolved, approved intent; anything else is a structural violation that
// aborts the run. Execution synthesizes the purchase tool-call exchange,
// appends the confirmation, and clears the pending purchase.
func NewExecutePurchaseNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		var confirmation *schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			if err := s.PendingIntent.Validate(); err != nil {
				return fmt.Errorf("purchase execution without a resolved intent: %w", err)
			}
			if s.ApprovalOutcome != model.OutcomeApproved {
				return fmt.Errorf("purchase execution without approval (outcome %q)", s.ApprovalOutcome)
			}
			intent := s.PendingIntent

			argsJSON, err := json.Marshal(map[string]any{
				"productId":        intent.ProductID,
				"quantity":         intent.Quantity,
				"maxPurchasePrice": intent.MaxPurchasePrice,
			})
			if err != nil {
				return fmt.Errorf("marshal purchase arguments: %w", err)
			}

			s.ToolCallIDSeq++
			callID := fmt.Sprintf("call_%d", s.ToolCallIDSeq)

			text := fmt.Sprintf("Successfully purchased %d unit(s) of %s at $%s/unit.",
				intent.Quantity, intent.ProductID, formatPrice(intent.MaxPurchasePrice))

			callTurn := &schema.Message{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{{
					ID:   callID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tools.ToolPurchaseProduct,
						Arguments: string(argsJSON),
					},
				}},
			}
			resultTurn := schema.ToolMessage(text, callID)
			confirmation = schema.AssistantMessage(text, nil)

			s.History = append(s.History, callTurn, resultTurn, confirmation)

			s.Phase = model.PhaseIdle
			s.PendingIntent = nil
			s.PendingToolCallID = ""
			s.ApprovalOutcome = model.OutcomeNone
			s.ApprovalPrompt = ""
			s.AwaitingApproval = false

			logx.Info().
				Str("conversation_id", s.ConversationID).
				Str("product_id", intent.ProductID).
				Int("quantity", intent.Quantity).
				Float64("max_purchase_price", intent.MaxPurchasePrice).
				Msg("Purchase executed")
			return nil
		})
		if err != nil {
			return nil, err
		}
		return confirmation, nil
	})
}

// ===== helpers =====

// clarify answers every tool call of the turn with an error payload, appends
// an assistant clarification, and leaves the purchase state untouched except
// that no intent is recorded.
func clarify(ctx context.Context, call *schema.Message, reason string) ([]*schema.Message, error) {
	payload, err := json.Marshal(map[string]string{"error": reason})
	if err != nil {
		return nil, fmt.Errorf("marshal clarification payload: %w", err)
	}

	msgs := make([]*schema.Message, 0, len(call.ToolCalls)+1)
	for _, tc := range call.ToolCalls {
		msgs = append(msgs, schema.ToolMessage(string(payload), tc.ID))
	}
	msgs = append(msgs, schema.AssistantMessage(reason, nil))

	stateErr := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
		s.History = append(s.History, msgs...)
		s.ApprovalOutcome = model.OutcomeNone
		return nil
	})
	if stateErr != nil {
		return nil, fmt.Errorf("failed to access state: %w", stateErr)
	}
	return msgs, nil
}

// answerSiblingCalls produces deferral results for every tool call except the
// one being resolved, so the provider sees each call answered.
func answerSiblingCalls(call *schema.Message, resolvedID string) []*schema.Message {
	var msgs []*schema.Message
	for _, tc := range call.ToolCalls {
		if tc.ID == resolvedID {
			continue
		}
		msgs = append(msgs, deferredResult(tc.ID))
	}
	return msgs
}

func deferredResult(toolCallID string) *schema.Message {
	return schema.ToolMessage(`{"status":"deferred","note":"deferred while a purchase is being confirmed"}`, toolCallID)
}

func errorResult(toolCallID, reason string) *schema.Message {
	payload, err := json.Marshal(map[string]string{"error": reason})
	if err != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	return schema.ToolMessage(string(payload), toolCallID)
}

func lastMessage(history []*schema.Message) *schema.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil {
			return history[i]
		}
	}
	return nil
}

// recentAssistantContext joins the content of the latest assistant turns to
// give the matcher conversational grounding for its search query.
func recentAssistantContext(ctx context.Context) string {
	var parts []string
	_ = compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
		for i := len(s.History) - 1; i >= 0 && len(parts) < 3; i-- {
			m := s.History[i]
			if m == nil || m.Role != schema.Assistant {
				continue
			}
			if content := strings.TrimSpace(m.Content); content != "" {
				parts = append(parts, content)
			}
		}
		return nil
	})
	// restore chronological order
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "\n")
}
