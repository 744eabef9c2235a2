package secretcache

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"hybrid_chat/internal/cryptographic/dh"
	"hybrid_chat/internal/cryptographic/kdf"
	"hybrid_chat/internal/model"
	"hybrid_chat/internal/service/audit"

	"golang.org/x/sync/singleflight"
)

type (
	// KeyStore hands out per-user keypairs, creating them on first use.
	KeyStore interface {
		GetOrCreate(ctx context.Context, user string) (*model.KeyPair, error)
	}

	entry struct {
		key []byte
		// logged guards the one chat_secret audit record of this chat.
		logged bool
	}

	// Cache derives and keeps one AES-256 key per chat.
	Cache struct {
		keys     KeyStore
		recorder audit.Recorder

		mu      sync.RWMutex
		entries map[string]*entry
		group   singleflight.Group
	}
)

func NewCache(keys KeyStore, recorder audit.Recorder) *Cache {
	return &Cache{
		keys:     keys,
		recorder: recorder,
		entries:  make(map[string]*entry),
	}
}

// GetOrDerive returns the key of chatID, deriving it from the keypairs of
// userA and userB on a miss. The derivation of a chat runs at most once at a
// time and its audit record is emitted once per cache entry.
func (c *Cache) GetOrDerive(ctx context.Context, chatID, userA, userB string) ([]byte, error) {
	if key, ok := c.get(chatID); ok {
		return key, nil
	}

	v, err, _ := c.group.Do(chatID, func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[chatID]
		c.mu.RUnlock()
		if ok {
			return e.key, nil
		}

		a, err := c.keys.GetOrCreate(ctx, userA)
		if err != nil {
			return nil, fmt.Errorf("keypair of %s: %w", userA, err)
		}
		b, err := c.keys.GetOrCreate(ctx, userB)
		if err != nil {
			return nil, fmt.Errorf("keypair of %s: %w", userB, err)
		}

		secret, err := dh.Agree(a.PrivateKey, b.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("agree %s: %w", chatID, err)
		}
		key, err := kdf.DeriveChatKey(secret, chatID)
		if err != nil {
			return nil, err
		}

		e = &entry{key: key}
		c.mu.Lock()
		c.entries[chatID] = e
		c.mu.Unlock()

		c.logOnce(e, chatID, userA, userB, secret)
		return e.key, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v.([]byte)...), nil
}

func (c *Cache) get(chatID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[chatID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.key...), true
}

// logOnce runs inside the chat's single-flight call, which already excludes
// concurrent writers of e.logged.
func (c *Cache) logOnce(e *entry, chatID, userA, userB string, secret []byte) {
	if e.logged || c.recorder == nil {
		return
	}
	e.logged = true
	c.recorder.Record(model.AuditChatSecret, map[string]any{
		"chat_id":       chatID,
		"user_a":        userA,
		"user_b":        userB,
		"shared_secret": base64.StdEncoding.EncodeToString(secret),
		"aes_key":       base64.StdEncoding.EncodeToString(e.key),
	})
}
