// Package registry tracks live connections and the chat each one has joined.
package registry

import (
	"sync"

	"hybrid_chat/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// Conn is a live real-time connection as seen by the registry.
	Conn interface {
		ID() string
		// Send queues payload for delivery without blocking.
		Send(payload []byte) error
		// Open reports whether the transport can still accept frames.
		Open() bool
	}

	// Subscription is the state of one connection.
	Subscription struct {
		ChatID string
		UserID string
	}

	entry struct {
		conn Conn
		sub  Subscription
	}

	// Registry maps connection handles to their chat subscription.
	Registry struct {
		mu    sync.RWMutex
		conns map[string]*entry
	}
)

func New() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

// Register tracks conn as unjoined, optionally bound to userID.
func (r *Registry) Register(conn Conn, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = &entry{conn: conn, sub: Subscription{UserID: userID}}
}

// Subscribe sets the chat of conn, replacing any previous subscription. It
// reports whether chatID differs from what was stored.
func (r *Registry) Subscribe(conn Conn, chatID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		e = &entry{conn: conn}
		r.conns[conn.ID()] = e
	}
	changed := e.sub.ChatID != chatID
	e.sub.ChatID = chatID
	if userID != "" {
		e.sub.UserID = userID
	}
	return changed
}

// Remove drops conn from broadcast consideration.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

func (r *Registry) Subscription(connID string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return Subscription{}, false
	}
	return e.sub, true
}

// Broadcast sends payload to every open connection subscribed to chatID at
// the moment of the call and returns how many accepted it. A failing
// connection does not stop delivery to the others.
func (r *Registry) Broadcast(chatID string, payload []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, 2)
	for _, e := range r.conns {
		if e.sub.ChatID == chatID {
			targets = append(targets, e.conn)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if !conn.Open() {
			continue
		}
		if err := conn.Send(payload); err != nil {
			log.Warn("broadcast to connection failed",
				zap.String("conn_id", conn.ID()),
				zap.String("chat_id", chatID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
