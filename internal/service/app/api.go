package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"hybrid_chat/internal/model"

	"github.com/gorilla/websocket"
)

// API talks to the relay's HTTP surface. The session cookie issued by
// Login is kept in the client's jar and replayed on later calls.
type API struct {
	host   string
	client *http.Client
}

func NewAPI(host string) (*API, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &API{
		host:   host,
		client: &http.Client{Jar: jar},
	}, nil
}

func (a *API) url(scheme, path string, query url.Values) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     a.host,
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (a *API) Login(ctx context.Context, user *model.User) (*model.User, error) {
	body, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url("http", "/login", nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res struct {
		Success bool        `json:"success"`
		User    *model.User `json:"user"`
	}
	if err := a.do(req, &res); err != nil {
		return nil, err
	}
	return res.User, nil
}

func (a *API) History(ctx context.Context, chatID string) ([]*model.ChatMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url("http", "/messages", url.Values{"chat_id": {chatID}}), nil)
	if err != nil {
		return nil, err
	}

	var msgs []*model.ChatMessage
	if err := a.do(req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *API) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s %s", req.Method, req.URL.Path, resp.StatusCode, e.Code, e.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *API) Dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	params := url.Values{
		"userID": []string{userID},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url("ws", "/ws", params), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
