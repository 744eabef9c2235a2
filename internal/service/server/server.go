package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"hybrid_chat/internal/chat"
	appErrors "hybrid_chat/internal/errors"
	"hybrid_chat/internal/model"
	"hybrid_chat/internal/relay"
	"hybrid_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type (
	UserDirectory interface {
		Get(ctx context.Context, id string) (*model.User, error)
		List(ctx context.Context) ([]*model.User, error)
		Upsert(ctx context.Context, user *model.User) error
	}

	MessageHistory interface {
		History(ctx context.Context, chatID string) ([]*model.ChatMessage, error)
	}

	KeyCustody interface {
		GetOrCreate(ctx context.Context, user string) (*model.KeyPair, error)
	}

	IdentityProvider interface {
		CurrentUser(r *http.Request) (string, bool)
		SetSession(w http.ResponseWriter, id string)
	}

	Options struct {
		Address             string
		SendBuffer          int
		CollaboratorTimeout time.Duration
		// Gatherer backs /metrics; nil disables the route.
		Gatherer            prometheus.Gatherer
	}

	HttpServer struct {
		handler  *relay.Handler
		users    UserDirectory
		history  MessageHistory
		keys     KeyCustody
		identity IdentityProvider
		opts     Options
		upgrader websocket.Upgrader

		// base is the parent context of every websocket session; Run cancels
		// it on shutdown.
		base context.Context
	}
)

func NewHttpServer(handler *relay.Handler, users UserDirectory, history MessageHistory, keys KeyCustody, identity IdentityProvider, opts Options) *HttpServer {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = 5 * time.Second
	}
	return &HttpServer{
		handler:  handler,
		users:    users,
		history:  history,
		keys:     keys,
		identity: identity,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		base: context.Background(),
	}
}

func (s *HttpServer) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/login", s.HandleLogin()).Methods(http.MethodPost)
	r.HandleFunc("/me", s.HandleMe()).Methods(http.MethodGet)
	r.HandleFunc("/users", s.HandleUsers()).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.HandleMessages()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Run serves until ctx is cancelled, then drains within grace.
func (s *HttpServer) Run(ctx context.Context, grace time.Duration) error {
	base, cancel := context.WithCancel(ctx)
	defer cancel()
	s.base = base

	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("address", s.opts.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), grace)
	defer stop()
	log.Info("http server shutting down", zap.Duration("grace", grace))
	return srv.Shutdown(shutdownCtx)
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := s.identity.CurrentUser(r)

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := newWSConn(ws, s.opts.SendBuffer)
		s.handler.Open(conn, userID)
		go conn.writePump()
		go s.processWSMessage(conn)
	}
}

func (s *HttpServer) processWSMessage(conn *wsConn) {
	ctx, cancel := context.WithCancel(s.base)
	defer func() {
		cancel()
		conn.Close()
		s.handler.Close(conn)
	}()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-conn.done:
		}
	}()

	conn.readLoop(func(data []byte) {
		// Rejections are already answered on the connection.
		_ = s.handler.HandleFrame(ctx, conn, data)
	})
}

type loginResponse struct {
	Success bool        `json:"success"`
	User    *model.User `json:"user"`
}

func (s *HttpServer) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var user model.User
		if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
			writeError(w, http.StatusBadRequest, appErrors.InvalidFrame("login body is not valid JSON"))
			return
		}
		if err := chat.ValidateIdentity(user.ID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if user.Username == "" {
			user.Username = user.ID
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.CollaboratorTimeout)
		defer cancel()

		if err := s.users.Upsert(ctx, &user); err != nil {
			log.Error("upsert user failed", zap.String("user_id", user.ID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, appErrors.CollaboratorUnavailable("user directory unavailable", err))
			return
		}
		if _, err := s.keys.GetOrCreate(ctx, user.ID); err != nil {
			log.Error("provision keypair failed", zap.String("user_id", user.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		s.identity.SetSession(w, user.ID)
		log.Info("user logged in", zap.String("user_id", user.ID))
		writeJSON(w, http.StatusOK, &loginResponse{Success: true, User: &user})
	}
}

func (s *HttpServer) HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.identity.CurrentUser(r)
		if !ok {
			writeJSON(w, http.StatusOK, nil)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.CollaboratorTimeout)
		defer cancel()
		user, err := s.users.Get(ctx, id)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, appErrors.CollaboratorUnavailable("user directory unavailable", err))
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *HttpServer) HandleUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.identity.CurrentUser(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, appErrors.New(appErrors.CodeInvalidIdentity, "not logged in"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.CollaboratorTimeout)
		defer cancel()
		users, err := s.users.List(ctx)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, appErrors.CollaboratorUnavailable("user directory unavailable", err))
			return
		}

		others := make([]*model.User, 0, len(users))
		for _, u := range users {
			if u.ID != id {
				others = append(others, u)
			}
		}
		writeJSON(w, http.StatusOK, others)
	}
}

func (s *HttpServer) HandleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.identity.CurrentUser(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, appErrors.New(appErrors.CodeInvalidIdentity, "not logged in"))
			return
		}

		chatID := r.URL.Query().Get("chat_id")
		if _, _, err := chat.Participants(chatID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !chat.Contains(chatID, id) {
			writeError(w, http.StatusForbidden, appErrors.InvalidFrame(id+" is not a participant of "+chatID))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.CollaboratorTimeout)
		defer cancel()
		msgs, err := s.history.History(ctx, chatID)
		if err != nil {
			log.Error("load history failed", zap.String("chat_id", chatID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, appErrors.CollaboratorUnavailable("message store unavailable", err))
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, &errorResponse{
		Code:    string(appErrors.CodeOf(err)),
		Message: appErrors.MessageOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", zap.Error(err))
	}
}
