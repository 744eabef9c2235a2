// Package relay implements the real-time chat protocol: connections join a
// two-party chat and send messages that are encrypted for the audit trail,
// persisted, and broadcast in plaintext to every subscriber of the chat.
//
// Per connection the state is Unjoined until the first join frame, then
// Joined(chat). Frames of one connection are handled in arrival order by the
// caller; frames of different connections run concurrently.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"hybrid_chat/internal/chat"
	"hybrid_chat/internal/cryptographic/encryption"
	appErrors "hybrid_chat/internal/errors"
	"hybrid_chat/internal/model"
	"hybrid_chat/internal/registry"
	"hybrid_chat/internal/service/audit"
	"hybrid_chat/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// SecretCache resolves the symmetric key of a chat.
	SecretCache interface {
		GetOrDerive(ctx context.Context, chatID, userA, userB string) ([]byte, error)
	}

	MessageStore interface {
		Append(ctx context.Context, msg *model.ChatMessage) error
	}

	Options struct {
		// StrictJoin rejects message frames from connections that have not
		// joined the frame's chat with NOT_JOINED.
		StrictJoin bool
		// VerifyRoundTrip decrypts every envelope before persisting and
		// stores the decrypted text.
		VerifyRoundTrip     bool
		CollaboratorTimeout time.Duration
		Metrics             *Metrics
		Now                 func() time.Time
	}

	Handler struct {
		registry *registry.Registry
		secrets  SecretCache
		messages MessageStore
		recorder audit.Recorder
		opts     Options
	}
)

const defaultCollaboratorTimeout = 5 * time.Second

func NewHandler(reg *registry.Registry, secrets SecretCache, messages MessageStore, recorder audit.Recorder, opts Options) *Handler {
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = defaultCollaboratorTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		registry: reg,
		secrets:  secrets,
		messages: messages,
		recorder: recorder,
		opts:     opts,
	}
}

// Open registers a freshly accepted connection. userID is the identity the
// Identity Provider resolved for it, or empty.
func (h *Handler) Open(conn registry.Conn, userID string) {
	h.registry.Register(conn, userID)
	h.opts.Metrics.incConn()
	log.Debug("connection opened", zap.String("conn_id", conn.ID()), zap.String("user_id", userID))
}

// Close forgets a connection whose transport has gone away.
func (h *Handler) Close(conn registry.Conn) {
	h.registry.Remove(conn.ID())
	h.opts.Metrics.decConn()
	log.Debug("connection closed", zap.String("conn_id", conn.ID()))
}

// HandleFrame processes one inbound frame of conn. A rejected frame is
// answered with an error frame to conn alone and its error is returned; the
// connection stays usable.
func (h *Handler) HandleFrame(ctx context.Context, conn registry.Conn, data []byte) error {
	start := h.opts.Now()

	var frame model.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		err = appErrors.Wrap(appErrors.CodeInvalidFrame, "frame is not a JSON object", err)
		h.reject(conn, "", err)
		return err
	}

	kind := frameKind(&frame)
	h.opts.Metrics.recordFrame(kind)
	defer func() { h.opts.Metrics.observeLatency(kind, h.opts.Now().Sub(start)) }()

	var err error
	switch kind {
	case model.FrameJoin:
		err = h.join(ctx, conn, &frame)
	case model.FrameMessage:
		err = h.send(ctx, conn, &frame)
	default:
		err = appErrors.InvalidFrame("unknown frame type " + frame.Type)
	}
	if err != nil {
		h.reject(conn, frame.ChatID, err)
	}
	return err
}

func frameKind(f *model.InboundFrame) string {
	if f.Type != "" {
		return f.Type
	}
	if f.Text != "" || f.SenderID != "" {
		return model.FrameMessage
	}
	return ""
}

func (h *Handler) join(ctx context.Context, conn registry.Conn, f *model.InboundFrame) error {
	userA, userB, err := chat.Participants(f.ChatID)
	if err != nil {
		return err
	}

	sub, _ := h.registry.Subscription(conn.ID())
	user := sub.UserID
	if f.UserID != "" {
		if user != "" && user != f.UserID {
			return appErrors.InvalidFrame("user_id does not match the connection identity")
		}
		user = f.UserID
	}
	if user != "" && !chat.Contains(f.ChatID, user) {
		return appErrors.InvalidFrame(user + " is not a participant of " + f.ChatID)
	}

	// A join whose key cannot be derived leaves the subscription untouched.
	ctx, cancel := context.WithTimeout(ctx, h.opts.CollaboratorTimeout)
	defer cancel()
	if _, err := h.secrets.GetOrDerive(ctx, f.ChatID, userA, userB); err != nil {
		return err
	}

	if h.registry.Subscribe(conn, f.ChatID, user) {
		log.Info("connection joined chat",
			zap.String("conn_id", conn.ID()),
			zap.String("chat_id", f.ChatID),
			zap.String("user_id", user))
	}
	return nil
}

func (h *Handler) send(ctx context.Context, conn registry.Conn, f *model.InboundFrame) error {
	sub, _ := h.registry.Subscription(conn.ID())

	chatID := f.ChatID
	if chatID == "" {
		chatID = sub.ChatID
	}
	if chatID == "" {
		return appErrors.ErrNotJoined
	}
	if h.opts.StrictJoin && sub.ChatID != chatID {
		return appErrors.ErrNotJoined
	}

	sender := f.SenderID
	if sender == "" {
		sender = sub.UserID
	}
	if sender == "" {
		return appErrors.InvalidFrame("sender_id is required")
	}
	if sub.UserID != "" && sub.UserID != sender {
		return appErrors.InvalidFrame("sender_id does not match the connection identity")
	}
	peer, err := chat.Peer(chatID, sender)
	if err != nil {
		return err
	}
	if f.Text == "" {
		return appErrors.InvalidFrame("message text is empty")
	}

	msg := f.Message()
	msg.ChatID = chatID
	msg.SenderID = sender
	if msg.Timestamp == 0 {
		msg.Timestamp = h.opts.Now().UnixMilli()
	}

	keyCtx, cancel := context.WithTimeout(ctx, h.opts.CollaboratorTimeout)
	key, err := h.secrets.GetOrDerive(keyCtx, chatID, sender, peer)
	cancel()
	if err != nil {
		return err
	}

	env, err := encryption.AEADEncrypt(key, []byte(msg.Text))
	if err != nil {
		return err
	}
	h.recordMessage(msg, env)

	if h.opts.VerifyRoundTrip {
		plain, err := encryption.Open(key, env)
		if err != nil {
			return err
		}
		msg.Text = string(plain)
	}

	if err := h.persist(ctx, msg); err != nil {
		h.opts.Metrics.recordStoreError()
		log.Error("message store append failed",
			zap.String("chat_id", chatID),
			zap.String("sender_id", sender),
			zap.Error(err))
		h.notify(conn, model.FrameWarning, chatID, appErrors.CollaboratorUnavailable("message delivered but not saved", err))
	}

	payload, err := json.Marshal(&model.MessageFrame{Type: model.FrameMessage, Message: msg})
	if err != nil {
		return appErrors.Wrap(appErrors.CodeInternal, "encode message frame", err)
	}
	n := h.registry.Broadcast(chatID, payload)
	h.opts.Metrics.recordDeliveries(n)
	log.Debug("message relayed", zap.String("chat_id", chatID), zap.Int("delivered", n))
	return nil
}

func (h *Handler) persist(ctx context.Context, msg *model.ChatMessage) error {
	if h.messages == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.opts.CollaboratorTimeout)
	defer cancel()
	return h.messages.Append(ctx, msg)
}

func (h *Handler) recordMessage(msg *model.ChatMessage, env *model.EncryptedEnvelope) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(model.AuditPlaintextMessage, map[string]any{
		"chat_id":   msg.ChatID,
		"sender":    msg.SenderID,
		"plaintext": msg.Text,
		"timestamp": msg.Timestamp,
	})
	h.recorder.Record(model.AuditEncryptedMessage, map[string]any{
		"chat_id":    msg.ChatID,
		"sender":     msg.SenderID,
		"iv":         b64(env.IV),
		"ciphertext": b64(env.Ciphertext),
		"auth_tag":   b64(env.AuthTag),
		"timestamp":  msg.Timestamp,
	})
	h.recorder.Record(model.AuditNetworkTraffic, map[string]any{
		"direction": "websocket",
		"transport": "WS",
		"payload":   b64(env.Ciphertext),
	})
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func (h *Handler) reject(conn registry.Conn, chatID string, err error) {
	code := appErrors.CodeOf(err)
	h.opts.Metrics.recordError(string(code))

	fields := []zap.Field{
		zap.String("conn_id", conn.ID()),
		zap.String("code", string(code)),
		zap.Error(err),
	}
	if chatID != "" {
		fields = append(fields, zap.String("chat_id", chatID))
	}
	if code == appErrors.CodeInternal || errors.Is(err, context.DeadlineExceeded) {
		log.Error("frame rejected", fields...)
	} else {
		log.Warn("frame rejected", fields...)
	}
	h.notify(conn, model.FrameError, chatID, err)
}

func (h *Handler) notify(conn registry.Conn, kind, chatID string, err error) {
	if !conn.Open() {
		return
	}
	payload, mErr := json.Marshal(&model.NoticeFrame{
		Type:    kind,
		Code:    string(appErrors.CodeOf(err)),
		Message: appErrors.MessageOf(err),
		ChatID:  chatID,
	})
	if mErr != nil {
		log.Error("encode notice frame", zap.Error(mErr))
		return
	}
	if sErr := conn.Send(payload); sErr != nil {
		log.Warn("notice frame not delivered", zap.String("conn_id", conn.ID()), zap.Error(sErr))
	}
}
