package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zohlar/agent-server/internal/agent/graph/conversations"
	"github.com/zohlar/agent-server/internal/agent/graph/nodes"
	"github.com/zohlar/agent-server/internal/agent/graph/tools"
	"github.com/zohlar/agent-server/internal/agent/model"
	"github.com/zohlar/agent-server/internal/solarapi"
)

// ===== scripted chat model =====

// scriptedChatModel returns canned messages in order and fails when invoked
// past its script, which doubles as an assertion that a node was not reached.
type scriptedChatModel struct {
	mu     sync.Mutex
	script []*schema.Message
	calls  int
}

func (m *scriptedChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls >= len(m.script) {
		return nil, fmt.Errorf("unexpected model call %d (script has %d entries)", m.calls+1, len(m.script))
	}
	out := m.script[m.calls]
	m.calls++
	return out, nil
}

func (m *scriptedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *scriptedChatModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

func assistantText(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

func assistantCall(id, name, arguments string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: arguments},
		}},
	}
}

// ===== in-memory persistence =====

type memoryRepo struct {
	mu       sync.Mutex
	messages map[string][]*schema.Message
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{messages: map[string][]*schema.Message{}}
}

func (r *memoryRepo) AddMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	return r.AddMessages(ctx, conversationID, []*schema.Message{message})
}

func (r *memoryRepo) AddMessages(ctx context.Context, conversationID string, messages []*schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[conversationID] = append(r.messages[conversationID], messages...)
	return nil
}

func (r *memoryRepo) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.messages[conversationID]
	msgs := make([]*schema.Message, len(stored))
	copy(msgs, stored)
	return &model.ConversationHistory{ConversationID: conversationID, Messages: msgs}, nil
}

func (r *memoryRepo) ClearHistory(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	return nil
}

func (r *memoryRepo) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[conversationID]), nil
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.PurchaseSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]*model.PurchaseSession{}}
}

func (s *memoryStore) Load(ctx context.Context, conversationID string) (*model.PurchaseSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[conversationID]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	session := *stored
	return &session, nil
}

func (s *memoryStore) Save(ctx context.Context, session *model.PurchaseSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *session
	s.sessions[session.ConversationID] = &stored
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return nil
}

// ===== external service fakes =====

type stubSolarAPI struct {
	mu            sync.Mutex
	products      []solarapi.ProductDetails
	snapshotPrice float64
	snapshotCalls int
}

func (f *stubSolarAPI) ListProducts(ctx context.Context) (*solarapi.ProductListResponse, error) {
	return &solarapi.ProductListResponse{Products: f.products}, nil
}

func (f *stubSolarAPI) ProductDetails(ctx context.Context, productName string) (*solarapi.ProductDetailsResponse, error) {
	for _, p := range f.products {
		if p.ProductName == productName {
			return &solarapi.ProductDetailsResponse{ProductDetails: p}, nil
		}
	}
	return nil, errors.New("product not found")
}

func (f *stubSolarAPI) Pricing(ctx context.Context, productID string) (*solarapi.PricingResponse, error) {
	return &solarapi.PricingResponse{Pricing: solarapi.Pricing{ProductID: productID, BasePrice: f.snapshotPrice}}, nil
}

func (f *stubSolarAPI) InstallationAvailability(ctx context.Context, zipCode, preferredDate string) (*solarapi.InstallationAvailabilityResponse, error) {
	return &solarapi.InstallationAvailabilityResponse{}, nil
}

func (f *stubSolarAPI) SavingsEstimates(ctx context.Context, location string, usage, panelCapacity float64) (*solarapi.SavingsEstimatesResponse, error) {
	return &solarapi.SavingsEstimatesResponse{}, nil
}

func (f *stubSolarAPI) Incentives(ctx context.Context, state string) (*solarapi.IncentivesResponse, error) {
	return &solarapi.IncentivesResponse{}, nil
}

func (f *stubSolarAPI) PriceSnapshot(ctx context.Context, productID string) (*solarapi.SnapshotResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	return &solarapi.SnapshotResponse{Snapshot: solarapi.Snapshot{ProductID: productID, Price: f.snapshotPrice}}, nil
}

func (f *stubSolarAPI) snapshotCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls
}

type stubSearcher struct {
	result string
}

func (s *stubSearcher) Search(ctx context.Context, query string) (string, error) {
	if s.result == "" {
		return "", errors.New("no results")
	}
	return s.result, nil
}

// ===== harness =====

type harness struct {
	runnable compose.Runnable[model.ChatInput, *model.TurnResult]
	repo     *memoryRepo
	store    *memoryStore
	api      *stubSolarAPI
	agent    *scriptedChatModel
	matcher  *scriptedChatModel
}

func newHarness(t *testing.T, agentScript, matcherScript []*schema.Message) *harness {
	t.Helper()

	h := &harness{
		repo:    newMemoryRepo(),
		store:   newMemoryStore(),
		agent:   &scriptedChatModel{script: agentScript},
		matcher: &scriptedChatModel{script: matcherScript},
		api: &stubSolarAPI{
			snapshotPrice: 899.99,
			products: []solarapi.ProductDetails{{
				ProductID:          "SP-X22",
				ProductName:        "SunPower X22-370",
				Manufacturer:       "SunPower",
				Efficiency:         22.7,
				WarrantyYears:      25,
				PowerOutput:        370,
				Dimensions:         "1046mm x 1690mm",
				ProductDescription: "High efficiency residential panel.",
			}},
		},
	}

	searcher := &stubSearcher{result: "SunPower X22-370: a high efficiency residential panel"}
	registry, err := tools.NewRegistry(h.api, searcher)
	require.NoError(t, err)

	productMatcher, err := nodes.NewProductMatcher(h.matcher, "fake-matcher", searcher, h.api)
	require.NoError(t, err)

	runnable, err := BuildGraph(context.Background(), &GraphConfig{
		ChatModels: &nodes.ChatModels{
			Agent:            h.agent,
			Matcher:          h.matcher,
			AgentModelName:   "fake-agent",
			MatcherModelName: "fake-matcher",
		},
		MessagesManager: conversations.NewMessagesManager(h.repo, h.store),
		Registry:        registry,
		Matcher:         productMatcher,
		SolarAPI:        h.api,
		ToolMaxCalls:    5,
	})
	require.NoError(t, err)
	h.runnable = runnable
	return h
}

func (h *harness) invoke(t *testing.T, conversationID, query string) *model.TurnResult {
	t.Helper()
	result, err := h.runnable.Invoke(context.Background(), model.ChatInput{
		ConversationID: conversationID,
		Query:          query,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// ===== scenarios =====

func TestBrowseCatalogToolRoundTrip(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolProductList, "{}"),
		assistantText("We carry the SunPower X22-370, a 370W high efficiency panel."),
	}, nil)

	result := h.invoke(t, "conv-browse", "What panels do you have?")

	assert.False(t, result.NeedsApproval)
	assert.Equal(t, "We carry the SunPower X22-370, a 370W high efficiency panel.", result.Reply)

	history, err := h.repo.LoadHistory(context.Background(), "conv-browse")
	require.NoError(t, err)
	require.Len(t, history.Messages, 4) // user, assistant call, tool result, assistant reply
	assert.Equal(t, schema.User, history.Messages[0].Role)
	assert.Equal(t, schema.Assistant, history.Messages[1].Role)
	assert.Equal(t, schema.Tool, history.Messages[2].Role)
	assert.Contains(t, history.Messages[2].Content, "SP-X22")
	assert.Equal(t, "call-1", history.Messages[2].ToolCallID)

	session, err := h.store.Load(context.Background(), "conv-browse")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, session.Phase)
	assert.Nil(t, session.PendingIntent)
}

func TestPurchaseSuspendsForApproval(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productId":"SP-X22"}`),
	}, nil)

	result := h.invoke(t, "conv-buy", "Buy me the SP-X22.")

	require.True(t, result.NeedsApproval)
	require.NotNil(t, result.PendingPurchase)
	// quantity defaults to one, the ceiling is the live snapshot price
	assert.Equal(t, "SP-X22", result.PendingPurchase.ProductID)
	assert.Equal(t, 1, result.PendingPurchase.Quantity)
	assert.Equal(t, 899.99, result.PendingPurchase.MaxPurchasePrice)
	assert.Contains(t, result.Reply, "Please confirm the purchase of 1 unit(s) of SP-X22 at $899.99/unit.")
	assert.Equal(t, 1, h.api.snapshotCallCount())

	session, err := h.store.Load(context.Background(), "conv-buy")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAwaitingApproval, session.Phase)
	assert.Equal(t, "call-1", session.PendingToolCallID)
	require.NotNil(t, session.PendingIntent)
	assert.Equal(t, 899.99, session.PendingIntent.MaxPurchasePrice)
}

func TestSuspensionIsIdempotentOnRepeat(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productId":"SP-X22","quantity":2}`),
	}, nil)

	first := h.invoke(t, "conv-repeat", "Buy two SP-X22 panels.")
	require.True(t, first.NeedsApproval)

	// A turn that is not a decision re-issues the same request untouched.
	second := h.invoke(t, "conv-repeat", "hello? are you there?")
	require.True(t, second.NeedsApproval)
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, first.PendingPurchase, second.PendingPurchase)
	assert.Equal(t, 1, h.api.snapshotCallCount(), "resolution must not run again")
}

func TestNonDecisionPayloadDoesNotAnswerPendingCall(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productId":"SP-X22","quantity":2}`),
	}, nil)

	first := h.invoke(t, "conv-noise", "Buy two SP-X22 panels.")
	require.True(t, first.NeedsApproval)

	// JSON-shaped text without an approve boolean is not a decision: it stays
	// a user turn and the same request is re-issued.
	second := h.invoke(t, "conv-noise", `{"note":"just asking"}`)
	require.True(t, second.NeedsApproval)
	assert.Equal(t, first.Reply, second.Reply)

	third := h.invoke(t, "conv-noise", `{"approve": true}`)
	assert.False(t, third.NeedsApproval)
	assert.Contains(t, third.Reply, "Successfully purchased")

	history, err := h.repo.LoadHistory(context.Background(), "conv-noise")
	require.NoError(t, err)
	answers := map[string]int{}
	for _, msg := range history.Messages {
		if msg.Role == schema.Tool {
			answers[msg.ToolCallID]++
		}
	}
	for id, n := range answers {
		assert.Equalf(t, 1, n, "tool call %s must be answered exactly once", id)
	}
	assert.Equal(t, 1, answers["call-1"], "the pending purchase call must be answered by the decision turn")
}

func TestApprovalExecutesPurchase(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productId":"SP-X22","quantity":2}`),
	}, nil)

	first := h.invoke(t, "conv-approve", "Buy two SP-X22 panels.")
	require.True(t, first.NeedsApproval)

	// The agent script is exhausted: reaching the model again would fail the
	// run, so this also proves the decision bypasses the agent.
	second := h.invoke(t, "conv-approve", `{"approve": true}`)

	assert.False(t, second.NeedsApproval)
	assert.Equal(t, "Successfully purchased 2 unit(s) of SP-X22 at $899.99/unit.", second.Reply)

	session, err := h.store.Load(context.Background(), "conv-approve")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, session.Phase)
	assert.Nil(t, session.PendingIntent)

	history, err := h.repo.LoadHistory(context.Background(), "conv-approve")
	require.NoError(t, err)
	var confirmations int
	for _, msg := range history.Messages {
		if msg.Role == schema.Assistant && strings.Contains(msg.Content, "Successfully purchased") {
			confirmations++
		}
	}
	assert.Equal(t, 1, confirmations)
}

func TestRejectionClearsIntent(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productId":"SP-X22","quantity":3,"maxPurchasePrice":500}`),
		assistantText("No problem, I won't proceed with the purchase."),
	}, nil)

	first := h.invoke(t, "conv-reject", "Buy three SP-X22 panels, max $500 each.")
	require.True(t, first.NeedsApproval)
	require.NotNil(t, first.PendingPurchase)
	// explicit ceiling: the live snapshot is not consulted
	assert.Equal(t, 500.0, first.PendingPurchase.MaxPurchasePrice)
	assert.Equal(t, 0, h.api.snapshotCallCount())

	second := h.invoke(t, "conv-reject", `{"approve": false}`)

	assert.False(t, second.NeedsApproval)
	assert.Equal(t, "No problem, I won't proceed with the purchase.", second.Reply)

	session, err := h.store.Load(context.Background(), "conv-reject")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, session.Phase)
	assert.Nil(t, session.PendingIntent, "rejection must clear the intent together with the phase tag")

	history, err := h.repo.LoadHistory(context.Background(), "conv-reject")
	require.NoError(t, err)
	for _, msg := range history.Messages {
		assert.NotContains(t, msg.Content, "Successfully purchased", "rejected purchase must never execute")
	}
}

const conformingMatchJSON = `{"productId":"SP-X22","productName":"SunPower X22-370","manufacturer":"SunPower","efficiency":22.7,"warrantyYears":25,"powerOutput":370,"dimensions":"1046mm x 1690mm","productDescription":"High efficiency residential panel."}`

func TestPurchaseByNameResolvesThroughMatcher(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productName":"SunMax 400"}`),
	}, []*schema.Message{
		assistantText("SunMax 400 solar panel specs"),
		assistantText(conformingMatchJSON),
	})

	result := h.invoke(t, "conv-byname", "Buy me a SunMax 400.")

	require.True(t, result.NeedsApproval)
	require.NotNil(t, result.PendingPurchase)
	// the matcher supplies the product id; quantity and ceiling fall back to
	// the defaults
	assert.Equal(t, "SP-X22", result.PendingPurchase.ProductID)
	assert.Equal(t, 1, result.PendingPurchase.Quantity)
	assert.Equal(t, 899.99, result.PendingPurchase.MaxPurchasePrice)
	assert.Equal(t, 1, h.api.snapshotCallCount())

	session, err := h.store.Load(context.Background(), "conv-byname")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAwaitingApproval, session.Phase)
	assert.Equal(t, "call-1", session.PendingToolCallID)
	require.NotNil(t, session.SuitableProduct)
	assert.Equal(t, "SP-X22", session.SuitableProduct.ProductID)
}

func TestFindSuitableProductMatches(t *testing.T) {
	matchJSON := conformingMatchJSON
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolFindSuitableProduct, `{"productName":"SunMax 400"}`),
		assistantText("The closest catalog match is the SunPower X22-370."),
	}, []*schema.Message{
		assistantText("SunMax 400 solar panel specs"),
		assistantText(matchJSON),
	})

	result := h.invoke(t, "conv-match", "Do you have anything like the SunMax 400?")

	assert.False(t, result.NeedsApproval)
	assert.Equal(t, "The closest catalog match is the SunPower X22-370.", result.Reply)

	session, err := h.store.Load(context.Background(), "conv-match")
	require.NoError(t, err)
	require.NotNil(t, session.SuitableProduct)
	assert.Equal(t, "SP-X22", session.SuitableProduct.ProductID)

	history, err := h.repo.LoadHistory(context.Background(), "conv-match")
	require.NoError(t, err)
	var matched bool
	for _, msg := range history.Messages {
		if msg.Role == schema.Tool && strings.Contains(msg.Content, `"productId":"SP-X22"`) {
			matched = true
		}
	}
	assert.True(t, matched, "match result must be recorded as a tool turn")
}

func TestUnresolvablePurchaseAsksForClarification(t *testing.T) {
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{}`),
	}, nil)

	result := h.invoke(t, "conv-clarify", "I want to buy something.")

	assert.False(t, result.NeedsApproval)
	assert.Nil(t, result.PendingPurchase)
	assert.Contains(t, result.Reply, "which product")

	session, err := h.store.Load(context.Background(), "conv-clarify")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, session.Phase)
	assert.Nil(t, session.PendingIntent)
}

func TestMatchFailureIsRecoverable(t *testing.T) {
	// The matcher model produces non-conforming output: the purchase turns
	// into a clarification instead of an intent or a failed run.
	h := newHarness(t, []*schema.Message{
		assistantCall("call-1", tools.ToolPurchaseProduct, `{"productName":"SunMax 400"}`),
	}, []*schema.Message{
		assistantText("SunMax 400 solar panel specs"),
		assistantText("I could not pick a product."),
	})

	result := h.invoke(t, "conv-nomatch", "Buy me a SunMax 400.")

	assert.False(t, result.NeedsApproval)
	assert.Contains(t, result.Reply, "SunMax 400")

	session, err := h.store.Load(context.Background(), "conv-nomatch")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, session.Phase)
	assert.Nil(t, session.PendingIntent)
}
