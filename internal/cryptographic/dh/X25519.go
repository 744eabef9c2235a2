package dh

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	appErrors "hybrid_chat/internal/errors"
	"hybrid_chat/internal/model"

	"golang.org/x/crypto/curve25519"
)

// Generate a new X25519 key pair
func NewX25519KeyPair() (priv, pub [32]byte, err error) {
	_, err = rand.Read(priv[:])
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// Perform X25519 scalar multiplication: priv * pub
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

func ConvertToECDHFormat(privKey []byte) (*ecdh.PrivateKey, error) {
	curve := ecdh.X25519()
	return curve.NewPrivateKey(privKey)
}

// GenerateKeyPair returns a fresh X25519 keypair with the private key in
// PKCS#8 DER and the public key in SPKI DER.
func GenerateKeyPair() (*model.KeyPair, error) {
	priv, _, err := NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	key, err := ConvertToECDHFormat(priv[:])
	if err != nil {
		return nil, fmt.Errorf("convert private key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(key.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &model.KeyPair{PublicKey: pubDER, PrivateKey: privDER}, nil
}

// Agree computes the X25519 shared secret of a PKCS#8 private key and an SPKI
// public key. Malformed or non-X25519 keys fail with ErrInvalidKey.
func Agree(privateDER, publicDER []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privateDER)
	if err != nil {
		return nil, err
	}
	pub, err := parsePublicKey(publicDER)
	if err != nil {
		return nil, err
	}

	// curve25519 rejects low-order points that would yield an all-zero secret.
	secret, err := X25519SharedSecret([32]byte(priv.Bytes()), [32]byte(pub.Bytes()))
	if err != nil {
		return nil, appErrors.InvalidKey("x25519 agreement", err)
	}
	return secret, nil
}

func parsePrivateKey(der []byte) (*ecdh.PrivateKey, error) {
	raw, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, appErrors.InvalidKey("parse private key", err)
	}
	key, ok := raw.(*ecdh.PrivateKey)
	if !ok || key.Curve() != ecdh.X25519() {
		return nil, appErrors.InvalidKey(fmt.Sprintf("private key is %T, want X25519", raw), nil)
	}
	return key, nil
}

func parsePublicKey(der []byte) (*ecdh.PublicKey, error) {
	raw, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, appErrors.InvalidKey("parse public key", err)
	}
	key, ok := raw.(*ecdh.PublicKey)
	if !ok || key.Curve() != ecdh.X25519() {
		return nil, appErrors.InvalidKey(fmt.Sprintf("public key is %T, want X25519", raw), nil)
	}
	return key, nil
}
