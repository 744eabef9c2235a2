package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	appErrors "hybrid_chat/internal/errors"
	"hybrid_chat/internal/keystore"
	"hybrid_chat/internal/model"
	"hybrid_chat/internal/registry"
	"hybrid_chat/internal/secretcache"
	"hybrid_chat/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) Open() bool { return true }

func (c *fakeConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, p)
	return nil
}

func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) messages(t *testing.T) []*model.ChatMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.ChatMessage
	for _, f := range c.frames {
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f, &head))
		// notices carry a string "message" field
		if head.Type != model.FrameMessage {
			continue
		}
		var mf model.MessageFrame
		require.NoError(t, json.Unmarshal(f, &mf))
		out = append(out, mf.Message)
	}
	return out
}

type fakeStore struct {
	mu   sync.Mutex
	msgs []*model.ChatMessage
	err  error
}

func (s *fakeStore) Append(_ context.Context, msg *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := *msg
	s.msgs = append(s.msgs, &cp)
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs map[model.AuditKind][]map[string]any
}

func (r *fakeRecorder) Record(kind model.AuditKind, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recs == nil {
		r.recs = make(map[model.AuditKind][]map[string]any)
	}
	r.recs[kind] = append(r.recs[kind], fields)
}

func (r *fakeRecorder) count(kind model.AuditKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs[kind])
}

type fixture struct {
	handler  *Handler
	registry *registry.Registry
	store    *fakeStore
	recorder *fakeRecorder
	metrics  *Metrics
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	t.Cleanup(log.Set(zaptest.NewLogger(t)))

	rec := &fakeRecorder{}
	store := &fakeStore{}
	reg := registry.New()
	metrics := NewMetrics(prometheus.NewRegistry())
	cache := secretcache.NewCache(keystore.NewStore(rec, keystore.Options{}), rec)

	h := NewHandler(reg, cache, store, rec, Options{
		StrictJoin:          strict,
		VerifyRoundTrip:     true,
		CollaboratorTimeout: time.Second,
		Metrics:             metrics,
		Now:                 func() time.Time { return time.UnixMilli(1700000000000) },
	})
	return &fixture{handler: h, registry: reg, store: store, recorder: rec, metrics: metrics}
}

type failingCache struct{ err error }

func (c failingCache) GetOrDerive(context.Context, string, string, string) ([]byte, error) {
	return nil, c.err
}

func (f *fixture) connect(id, user string) *fakeConn {
	c := &fakeConn{id: id}
	f.handler.Open(c, user)
	return c
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestTwoPartyChatEndToEnd(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	carol := f.connect("c-carol", "carol")

	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))
	require.NoError(t, f.handler.HandleFrame(ctx, bob, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))
	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))
	assert.Equal(t, 1, f.recorder.count(model.AuditChatSecret), "rejoining alice_bob must not log the secret again")

	require.NoError(t, f.handler.HandleFrame(ctx, carol, frame(t, map[string]any{"type": "join", "chat_id": "carol_dave"})))

	// joins produce no output
	assert.Empty(t, alice.decoded(t))

	err := f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type":      "message",
		"chat_id":   "alice_bob",
		"sender_id": "alice",
		"username":  "Alice",
		"text":      "hi",
		"timestamp": 1700000000123,
	}))
	require.NoError(t, err)

	for _, c := range []*fakeConn{alice, bob} {
		msgs := c.messages(t)
		require.Len(t, msgs, 1, c.id)
		assert.Equal(t, &model.ChatMessage{
			ChatID:    "alice_bob",
			SenderID:  "alice",
			Username:  "Alice",
			Text:      "hi",
			Timestamp: 1700000000123,
		}, msgs[0])
	}
	assert.Empty(t, carol.decoded(t))

	require.Len(t, f.store.msgs, 1)
	assert.Equal(t, "hi", f.store.msgs[0].Text)

	assert.Equal(t, 1, f.recorder.count(model.AuditPlaintextMessage))
	assert.Equal(t, 1, f.recorder.count(model.AuditEncryptedMessage))
	assert.Equal(t, 1, f.recorder.count(model.AuditNetworkTraffic))
	assert.Equal(t, 2, f.recorder.count(model.AuditChatSecret), "alice_bob and carol_dave")
	assert.NotEqual(t, "hi", f.recorder.recs[model.AuditEncryptedMessage][0]["ciphertext"])
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.deliveries))
}

func TestLegacyUntypedMessageFrame(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alice := f.connect("c-alice", "")
	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))
	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"chat_id":   "alice_bob",
		"sender_id": "alice",
		"text":      "no type field",
	})))

	msgs := alice.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1700000000000), msgs[0].Timestamp, "missing timestamp is stamped by the relay")
}

func TestSendBeforeJoinIsRejectedInStrictMode(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	require.NoError(t, f.handler.HandleFrame(ctx, bob, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))

	err := f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "sender_id": "alice", "text": "sneaky",
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotJoined))

	got := alice.decoded(t)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0]["type"])
	assert.Equal(t, string(appErrors.CodeNotJoined), got[0]["code"])
	assert.Empty(t, bob.messages(t))
	assert.Empty(t, f.store.msgs)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.frameErrors.WithLabelValues(string(appErrors.CodeNotJoined))))
}

func TestSendToOtherChatThanJoinedIsRejected(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alice := f.connect("c-alice", "alice")
	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "join", "chat_id": "alice_carol"})))

	err := f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "text": "wrong room",
	}))
	assert.True(t, errors.Is(err, appErrors.ErrNotJoined))
}

func TestLenientModeRoutesByFrameChatID(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	require.NoError(t, f.handler.HandleFrame(ctx, bob, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))

	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "text": "hello from outside",
	})))
	assert.Len(t, bob.messages(t), 1)
	assert.Empty(t, alice.messages(t), "alice never joined so she is not a subscriber")

	// without a chat id there is nothing to route to
	err := f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "message", "text": "where?"}))
	assert.True(t, errors.Is(err, appErrors.ErrNotJoined))
}

func TestInvalidFramesAreRejectedWithoutClosing(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice := f.connect("c-alice", "alice")

	cases := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{{")},
		{"unknown type", frame(t, map[string]any{"type": "typing", "chat_id": "alice_bob"})},
		{"malformed chat id", frame(t, map[string]any{"type": "join", "chat_id": "alice"})},
		{"non participant", frame(t, map[string]any{"type": "join", "chat_id": "bob_carol"})},
		{"identity mismatch", frame(t, map[string]any{"type": "join", "chat_id": "alice_bob", "user_id": "bob"})},
	}
	for _, tc := range cases {
		err := f.handler.HandleFrame(ctx, alice, tc.data)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidFrame), tc.name)
	}

	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))

	err := f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "sender_id": "bob", "text": "spoof",
	}))
	assert.True(t, errors.Is(err, appErrors.ErrInvalidFrame))

	err = f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "text": "",
	}))
	assert.True(t, errors.Is(err, appErrors.ErrInvalidFrame))

	assert.Len(t, alice.decoded(t), len(cases)+2)
	assert.Empty(t, alice.messages(t))
}

func TestStoreFailureWarnsSenderButStillBroadcasts(t *testing.T) {
	f := newFixture(t, true)
	f.store.err = errors.New("mongo: server selection timeout")
	ctx := context.Background()

	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	for _, c := range []*fakeConn{alice, bob} {
		require.NoError(t, f.handler.HandleFrame(ctx, c, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))
	}

	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "text": "are you there?",
	})))

	assert.Len(t, bob.messages(t), 1)
	assert.Empty(t, bob.decoded(t)[0]["code"])

	got := alice.decoded(t)
	require.Len(t, got, 2)
	assert.Equal(t, "warning", got[0]["type"])
	assert.Equal(t, string(appErrors.CodeCollaboratorUnavailable), got[0]["code"])
	assert.Equal(t, "message", got[1]["type"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.storeErrors))
}

func TestConcurrentFirstSendsCreateOneKeyPair(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	chats := []string{"alice_carol", "bob_carol"}
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, chatID := range chats {
		conn := f.connect(fmt.Sprintf("c-carol-%d", i), "carol")
		wg.Add(1)
		go func(conn *fakeConn, chatID string) {
			defer wg.Done()
			<-start
			err := f.handler.HandleFrame(ctx, conn, frame(t, map[string]any{
				"type": "message", "chat_id": chatID, "text": "first contact",
			}))
			assert.NoError(t, err)
		}(conn, chatID)
	}
	close(start)
	wg.Wait()

	keys := 0
	for _, rec := range f.recorder.recs[model.AuditUserKeys] {
		if rec["user_id"] == "carol" {
			keys++
		}
	}
	assert.Equal(t, 1, keys)
	assert.Equal(t, 3, f.recorder.count(model.AuditUserKeys), "carol, alice and bob")
	assert.Equal(t, 2, f.recorder.count(model.AuditChatSecret))
}

func TestCloseRemovesConnectionFromBroadcast(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alice := f.connect("c-alice", "alice")
	bob := f.connect("c-bob", "bob")
	for _, c := range []*fakeConn{alice, bob} {
		require.NoError(t, f.handler.HandleFrame(ctx, c, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"})))
	}
	f.handler.Close(bob)

	require.NoError(t, f.handler.HandleFrame(ctx, alice, frame(t, map[string]any{
		"type": "message", "chat_id": "alice_bob", "text": "bye",
	})))
	assert.Empty(t, bob.messages(t))
	assert.Len(t, alice.messages(t), 1)
	_, ok := f.registry.Subscription(bob.id)
	assert.False(t, ok)
	_, ok = f.registry.Subscription(alice.id)
	assert.True(t, ok)
}

func TestJoinWithUnderivableKeyLeavesConnectionUnjoined(t *testing.T) {
	t.Cleanup(log.Set(zaptest.NewLogger(t)))
	ctx := context.Background()

	reg := registry.New()
	h := NewHandler(reg, failingCache{err: appErrors.InvalidKey("bad key material", nil)}, &fakeStore{}, nil, Options{StrictJoin: true})

	alice := &fakeConn{id: "c-alice"}
	h.Open(alice, "alice")

	err := h.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "join", "chat_id": "alice_bob"}))
	require.True(t, errors.Is(err, appErrors.ErrInvalidKey))

	sub, ok := reg.Subscription(alice.id)
	require.True(t, ok)
	assert.Empty(t, sub.ChatID)
	assert.Zero(t, reg.Broadcast("alice_bob", []byte(`{"type":"message"}`)))

	notices := alice.decoded(t)
	require.Len(t, notices, 1)
	assert.Equal(t, model.FrameError, notices[0]["type"])
	assert.Equal(t, "INVALID_KEY", notices[0]["code"])

	err = h.HandleFrame(ctx, alice, frame(t, map[string]any{"type": "message", "chat_id": "alice_bob", "text": "hi"}))
	assert.True(t, errors.Is(err, appErrors.ErrNotJoined))
}
