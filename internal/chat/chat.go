// Package chat names two-party conversations.
//
// A chat identifier is the two participant identities sorted
// lexicographically and joined with Separator. Identities containing the
// separator are rejected so that every identifier splits back into exactly
// the pair that produced it.
package chat

import (
	"fmt"
	"sort"
	"strings"

	appErrors "hybrid_chat/internal/errors"
)

const Separator = "_"

// ValidateIdentity rejects identities that would make a chat identifier ambiguous.
func ValidateIdentity(user string) error {
	if user == "" {
		return appErrors.InvalidIdentity("user identity cannot be empty")
	}
	if strings.Contains(user, Separator) {
		return appErrors.InvalidIdentity(fmt.Sprintf("user identity %q contains separator %q", user, Separator))
	}
	return nil
}

// ID returns the canonical identifier for the unordered pair (a, b).
func ID(a, b string) (string, error) {
	if err := ValidateIdentity(a); err != nil {
		return "", err
	}
	if err := ValidateIdentity(b); err != nil {
		return "", err
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, Separator), nil
}

// Participants splits a chat identifier into its two sorted identities.
func Participants(chatID string) (string, string, error) {
	parts := strings.Split(chatID, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", appErrors.InvalidFrame(fmt.Sprintf("malformed chat id %q", chatID))
	}
	if parts[0] > parts[1] {
		return "", "", appErrors.InvalidFrame(fmt.Sprintf("chat id %q is not canonical", chatID))
	}
	return parts[0], parts[1], nil
}

// Peer returns the participant of chatID that is not self.
func Peer(chatID, self string) (string, error) {
	a, b, err := Participants(chatID)
	if err != nil {
		return "", err
	}
	switch self {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", appErrors.InvalidFrame(fmt.Sprintf("%q is not a participant of %q", self, chatID))
}

// Contains reports whether user is one of the participants of chatID.
func Contains(chatID, user string) bool {
	_, err := Peer(chatID, user)
	return err == nil
}
