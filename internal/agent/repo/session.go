package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zohlar/agent-server/internal/agent/model"
	errx "github.com/zohlar/agent-server/internal/core/error"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

// RedisPurchaseSessionStore persists the per-conversation purchase state
// (phase tag plus pending intent) as a JSON value. This is the durable
// checkpoint that makes the human-approval suspension survive across
// processes and requests.
type RedisPurchaseSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisPurchaseSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisPurchaseSessionStore {
	return &RedisPurchaseSessionStore{rdb: rdb, ttl: ttl}
}

func (r *RedisPurchaseSessionStore) sessionKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:purchase", conversationID)
}

func (r *RedisPurchaseSessionStore) Load(ctx context.Context, conversationID string) (*model.PurchaseSession, error) {
	key := r.sessionKey(conversationID)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrSessionNotFound
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load purchase session from redis")
		return nil, errx.WrapRedis(err)
	}

	var session model.PurchaseSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal purchase session: %w", err)
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid purchase session loaded from store: %w", err)
	}
	return &session, nil
}

func (r *RedisPurchaseSessionStore) Save(ctx context.Context, session *model.PurchaseSession) error {
	if session == nil {
		return model.ErrNilSession
	}
	session.UpdatedAt = time.Now().UTC()
	if err := session.Validate(); err != nil {
		return err
	}

	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal purchase session: %w", err)
	}

	key := r.sessionKey(session.ConversationID)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save purchase session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisPurchaseSessionStore) Delete(ctx context.Context, conversationID string) error {
	key := r.sessionKey(conversationID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete purchase session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.PurchaseSessionStore = (*RedisPurchaseSessionStore)(nil)
