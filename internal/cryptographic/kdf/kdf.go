package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	ChatKeySize = 32

	// ChatKeyInfo binds derived keys to this application.
	ChatKeyInfo = "HybridSecure AES-GCM Key"
)

// HKDF fills buffer with HKDF-SHA256 output for the given secret, salt and info.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveChatKey derives the 32-byte AES key of a chat from the participants'
// X25519 shared secret, using the chat identifier as salt.
func DeriveChatKey(sharedSecret []byte, chatID string) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("derive chat key: empty shared secret")
	}
	key := make([]byte, ChatKeySize)
	if _, err := HKDF(sharedSecret, []byte(chatID), []byte(ChatKeyInfo), key); err != nil {
		return nil, fmt.Errorf("derive chat key: %w", err)
	}
	return key, nil
}
