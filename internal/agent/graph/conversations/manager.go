package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zohlar/agent-server/internal/agent/model"
)

// MessagesManager mediates between the graph and the persistence layer: it
// loads conversation history plus the purchase session at the start of a run
// and writes both back when the run finalizes.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	sessionStore     model.PurchaseSessionStore
}

func NewMessagesManager(conversationRepo model.ConversationRepository, sessionStore model.PurchaseSessionStore) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		sessionStore:     sessionStore,
	}
}

// LoadState fetches the stored history and purchase session for a
// conversation. A conversation without a stored session starts idle.
func (cm *MessagesManager) LoadState(ctx context.Context, conversationID string) ([]*schema.Message, *model.PurchaseSession, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversation history: %w", err)
	}

	session, err := cm.sessionStore.Load(ctx, conversationID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return history.Messages, model.NewPurchaseSession(conversationID), nil
		}
		return nil, nil, fmt.Errorf("load purchase session: %w", err)
	}
	return history.Messages, session, nil
}

// PersistNewMessages appends to storage every history entry past the count
// that was already persisted when the run started.
func (cm *MessagesManager) PersistNewMessages(ctx context.Context, conversationID string, history []*schema.Message, persistedCount int) error {
	if persistedCount < 0 || persistedCount > len(history) {
		return fmt.Errorf("persisted count %d out of range for history of %d", persistedCount, len(history))
	}
	fresh := history[persistedCount:]
	if len(fresh) == 0 {
		return nil
	}
	return cm.conversationRepo.AddMessages(ctx, conversationID, fresh)
}

// PersistSession writes the purchase session back; the store stamps the
// write time.
func (cm *MessagesManager) PersistSession(ctx context.Context, session *model.PurchaseSession) error {
	if session == nil {
		return model.ErrNilSession
	}
	return cm.sessionStore.Save(ctx, session)
}
