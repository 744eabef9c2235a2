package model

import "encoding/base64"

type (
	// KeyPair holds an X25519 keypair. Public is SPKI DER, Private is PKCS#8 DER.
	KeyPair struct {
		PublicKey  []byte `json:"public_key"`
		PrivateKey []byte `json:"private_key"`
	}

	// EncryptedEnvelope is the AES-256-GCM output for one plaintext.
	// []byte fields are base64 encoded on the wire.
	EncryptedEnvelope struct {
		IV         []byte `json:"iv"`
		Ciphertext []byte `json:"ciphertext"`
		AuthTag    []byte `json:"auth_tag"`
	}
)

func (k *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey)
}

func (k *KeyPair) PrivateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PrivateKey)
}

func (k *KeyPair) Clone() *KeyPair {
	return &KeyPair{
		PublicKey:  append([]byte(nil), k.PublicKey...),
		PrivateKey: append([]byte(nil), k.PrivateKey...),
	}
}
