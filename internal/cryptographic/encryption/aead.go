package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	appErrors "hybrid_chat/internal/errors"
	"hybrid_chat/internal/model"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, appErrors.InvalidKey(fmt.Sprintf("aes-256-gcm key must be %d bytes (got %d)", KeySize, len(key)), nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// AEADEncrypt seals plaintext under a 32-byte key with a fresh random 96-bit
// nonce. The returned envelope carries the tag separately from the ciphertext.
func AEADEncrypt(key, plaintext []byte) (*model.EncryptedEnvelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize

	return &model.EncryptedEnvelope{
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		AuthTag:    sealed[split:],
	}, nil
}

// AEADDecrypt opens an envelope. Any mismatch of key, nonce, ciphertext or
// tag fails with ErrAuthenticationFailure.
func AEADDecrypt(key, iv, ciphertext, authTag []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != NonceSize {
		return nil, appErrors.AuthenticationFailure(fmt.Sprintf("iv must be %d bytes (got %d)", NonceSize, len(iv)), nil)
	}
	if len(authTag) != TagSize {
		return nil, appErrors.AuthenticationFailure(fmt.Sprintf("auth tag must be %d bytes (got %d)", TagSize, len(authTag)), nil)
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, appErrors.AuthenticationFailure("aead.Open", err)
	}
	return plain, nil
}

// Open is AEADDecrypt over an envelope.
func Open(key []byte, env *model.EncryptedEnvelope) ([]byte, error) {
	if env == nil {
		return nil, appErrors.AuthenticationFailure("nil envelope", nil)
	}
	return AEADDecrypt(key, env.IV, env.Ciphertext, env.AuthTag)
}
