package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hybrid_chat/internal/model"
)

type (
	// ListStore is the subset of redis list commands the cache needs.
	ListStore interface {
		RPush(ctx context.Context, key string, value ...any) error
		LRange(ctx context.Context, key string) ([]string, error)
		Expire(ctx context.Context, key string, ttl time.Duration) error
	}

	// CacheRepo keeps chat history as one redis list per chat.
	CacheRepo struct {
		lists ListStore
		ttl   time.Duration
	}
)

// NewCacheRepo returns a redis backed history; ttl 0 keeps lists forever.
func NewCacheRepo(lists ListStore, ttl time.Duration) *CacheRepo {
	return &CacheRepo{lists: lists, ttl: ttl}
}

func historyKey(chatID string) string {
	return fmt.Sprintf("chat:%s", chatID)
}

func (r *CacheRepo) Append(ctx context.Context, msg *model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := historyKey(msg.ChatID)
	if err := r.lists.RPush(ctx, key, data); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	if r.ttl > 0 {
		if err := r.lists.Expire(ctx, key, r.ttl); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return nil
}

func (r *CacheRepo) History(ctx context.Context, chatID string) ([]*model.ChatMessage, error) {
	vals, err := r.lists.LRange(ctx, historyKey(chatID))
	if err != nil {
		return nil, err
	}

	res := make([]*model.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		res = append(res, &m)
	}
	return res, nil
}
