// Package keystore keeps one X25519 keypair per user for the lifetime of the
// process. Keys are created on first use and never rotated or deleted.
package keystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hybrid_chat/internal/cryptographic/dh"
	"hybrid_chat/internal/model"
	"hybrid_chat/internal/service/audit"
	"hybrid_chat/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type (
	// Directory resolves display names for the user_keys audit record.
	Directory interface {
		Get(ctx context.Context, id string) (*model.User, error)
	}

	Options struct {
		Directory     Directory
		LookupTimeout time.Duration
		// Generate overrides keypair generation; tests use it to count calls.
		Generate func() (*model.KeyPair, error)
	}

	Store struct {
		recorder  audit.Recorder
		directory Directory
		timeout   time.Duration
		generate  func() (*model.KeyPair, error)

		mu    sync.RWMutex
		keys  map[string]*model.KeyPair
		group singleflight.Group
	}
)

func NewStore(recorder audit.Recorder, opts Options) *Store {
	if opts.Generate == nil {
		opts.Generate = dh.GenerateKeyPair
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	return &Store{
		recorder:  recorder,
		directory: opts.Directory,
		timeout:   opts.LookupTimeout,
		generate:  opts.Generate,
		keys:      make(map[string]*model.KeyPair),
	}
}

// GetOrCreate returns the keypair of user, generating and auditing it on
// first use. Concurrent first calls for the same user share one generation.
func (s *Store) GetOrCreate(ctx context.Context, user string) (*model.KeyPair, error) {
	if kp, ok := s.lookup(user); ok {
		return kp.Clone(), nil
	}

	v, err, _ := s.group.Do(user, func() (any, error) {
		if kp, ok := s.lookup(user); ok {
			return kp, nil
		}

		kp, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("generate keypair for %s: %w", user, err)
		}

		s.mu.Lock()
		s.keys[user] = kp
		s.mu.Unlock()

		s.recordKeys(ctx, user, kp)
		return kp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.KeyPair).Clone(), nil
}

func (s *Store) lookup(user string) (*model.KeyPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.keys[user]
	return kp, ok
}

func (s *Store) recordKeys(ctx context.Context, user string, kp *model.KeyPair) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(model.AuditUserKeys, map[string]any{
		"user_id":     user,
		"username":    s.username(ctx, user),
		"private_key": kp.PrivateKeyBase64(),
		"public_key":  kp.PublicKeyBase64(),
	})
}

// username is best effort; the audit record is written without it when the
// directory is slow or the user is unknown.
func (s *Store) username(ctx context.Context, user string) string {
	if s.directory == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u, err := s.directory.Get(ctx, user)
	if err != nil {
		log.Warn("username lookup for key audit failed", zap.String("user_id", user), zap.Error(err))
		return ""
	}
	if u == nil {
		return ""
	}
	return u.Username
}
