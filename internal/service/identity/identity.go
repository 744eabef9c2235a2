package identity

import (
	"net/http"
	"time"

	"hybrid_chat/internal/chat"
)

const (
	CookieName = "user_id"
	QueryParam = "userID"
)

// RequestProvider resolves the caller from the session cookie set at login,
// falling back to the userID query parameter used by non-browser clients.
type RequestProvider struct{}

func (RequestProvider) CurrentUser(r *http.Request) (string, bool) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return valid(c.Value)
	}
	if id := r.URL.Query().Get(QueryParam); id != "" {
		return valid(id)
	}
	return "", false
}

func valid(id string) (string, bool) {
	if chat.ValidateIdentity(id) != nil {
		return "", false
	}
	return id, true
}

// SetSession issues the session cookie for id.
func (RequestProvider) SetSession(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
	})
}
