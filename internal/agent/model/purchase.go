package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase tags where a conversation stands in the purchase flow. Routing is a
// pure function of this tag plus the latest turn, so a stale pending intent
// can never be executed by accident.
type Phase string

const (
	// PhaseIdle means no purchase is in flight.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingApproval means a fully resolved intent is waiting for an
	// explicit human decision.
	PhaseAwaitingApproval Phase = "awaiting_approval"
)

var (
	ErrSessionNotFound   = errors.New("purchase session not found")
	ErrNilSession        = errors.New("purchase session is nil")
	ErrInvalidSessionID  = errors.New("conversation id is empty")
	ErrIncompleteIntent  = errors.New("purchase intent is incomplete")
	ErrNoPendingPurchase = errors.New("no pending purchase intent")
)

// PurchaseIntent is the fully resolved record describing what the user wants
// to buy, at what price ceiling, and how many units.
type PurchaseIntent struct {
	ProductID        string  `json:"product_id"`
	Quantity         int     `json:"quantity"`
	MaxPurchasePrice float64 `json:"max_purchase_price"`
}

func (p *PurchaseIntent) Validate() error {
	if p == nil {
		return ErrNoPendingPurchase
	}
	if strings.TrimSpace(p.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrIncompleteIntent)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrIncompleteIntent)
	}
	if p.MaxPurchasePrice <= 0 {
		return fmt.Errorf("%w: max purchase price must be positive", ErrIncompleteIntent)
	}
	return nil
}

// ProductMatch is the catalog entry selected as best corresponding to an
// externally sourced example product. All fields are required in the model's
// structured output.
type ProductMatch struct {
	ProductID          string  `json:"productId"`
	ProductName        string  `json:"productName"`
	Manufacturer       string  `json:"manufacturer"`
	Efficiency         float64 `json:"efficiency"`
	WarrantyYears      int     `json:"warrantyYears"`
	PowerOutput        float64 `json:"powerOutput"`
	Dimensions         string  `json:"dimensions"`
	ProductDescription string  `json:"productDescription"`
}

// ApprovalDecision is the payload shape of a human approval turn.
type ApprovalDecision struct {
	Approve bool `json:"approve"`
}

// ApprovalOutcome is what the approval gate concluded from the latest turn.
type ApprovalOutcome string

const (
	// OutcomeNone: no pending intent; nothing to decide.
	OutcomeNone ApprovalOutcome = "none"
	// OutcomePending: an intent is pending but no decision turn arrived yet.
	OutcomePending ApprovalOutcome = "pending"
	// OutcomeApproved: the decision turn carries approve=true.
	OutcomeApproved ApprovalOutcome = "approved"
	// OutcomeRejected: the decision turn carries approve=false.
	OutcomeRejected ApprovalOutcome = "rejected"
)

// PurchaseSession is the durable per-conversation purchase state. It is
// persisted alongside the message history so a suspended run can be resumed
// by a later external invocation.
type PurchaseSession struct {
	ConversationID    string          `json:"conversation_id"`
	Phase             Phase           `json:"phase"`
	PendingIntent     *PurchaseIntent `json:"pending_intent,omitempty"`
	PendingToolCallID string          `json:"pending_tool_call_id,omitempty"`
	SuitableProduct   *ProductMatch   `json:"suitable_product,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewPurchaseSession returns an idle session for the conversation.
func NewPurchaseSession(conversationID string) *PurchaseSession {
	return &PurchaseSession{
		ConversationID: conversationID,
		Phase:          PhaseIdle,
	}
}

func (s *PurchaseSession) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return ErrInvalidSessionID
	}
	switch s.Phase {
	case PhaseIdle:
		if s.PendingIntent != nil {
			return fmt.Errorf("idle session must not carry a pending intent")
		}
	case PhaseAwaitingApproval:
		if err := s.PendingIntent.Validate(); err != nil {
			return fmt.Errorf("awaiting approval: %w", err)
		}
	default:
		return fmt.Errorf("unknown purchase phase %q", s.Phase)
	}
	return nil
}

// ClearPending drops the pending intent together with its phase tag.
// A rejected purchase must never leave a stale intent behind.
func (s *PurchaseSession) ClearPending() {
	s.Phase = PhaseIdle
	s.PendingIntent = nil
	s.PendingToolCallID = ""
}

// PurchaseSessionStore persists PurchaseSession records per conversation.
type PurchaseSessionStore interface {
	Load(ctx context.Context, conversationID string) (*PurchaseSession, error)
	Save(ctx context.Context, session *PurchaseSession) error
	Delete(ctx context.Context, conversationID string) error
}
