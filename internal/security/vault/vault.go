package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey     = errors.New("vault: invalid encryption key")
	ErrInvalidPayload = errors.New("vault: invalid sealed payload")
	ErrKeyMismatch    = errors.New("vault: payload sealed under another key")
	ErrDecryption     = errors.New("vault: decryption failed")
)

const envelopeVersion = 1

// Provider seals stored webhook payloads. A payload is bound to the id of
// the row it is stored in and cannot be opened under any other id.
type Provider interface {
	Seal(recordID string, plaintext []byte) ([]byte, error)
	Open(recordID string, sealed []byte) ([]byte, error)
}

// AESVault implements Provider with AES-256-GCM, using the record id as
// additional authenticated data.
type AESVault struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESVault derives a 256-bit key from any non-empty secret string.
func NewAESVault(secret string) (*AESVault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrInvalidKey
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	// key id lets operators tell a rotated key apart from corruption
	fingerprint := sha256.Sum256(key[:])
	return &AESVault{aead: aead, keyID: hex.EncodeToString(fingerprint[:4])}, nil
}

type envelope struct {
	Version    int    `json:"v"`
	KeyID      string `json:"k"`
	Nonce      string `json:"n"`
	Ciphertext string `json:"c"`
}

func (v *AESVault) Seal(recordID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return json.Marshal(envelope{
		Version:    envelopeVersion,
		KeyID:      v.keyID,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(v.aead.Seal(nil, nonce, plaintext, []byte(recordID))),
	})
}

func (v *AESVault) Open(recordID string, sealed []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil || env.Version != envelopeVersion {
		return nil, ErrInvalidPayload
	}
	if env.KeyID != v.keyID {
		return nil, ErrKeyMismatch
	}
	nonce, err := base64.RawStdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return nil, ErrInvalidPayload
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(recordID))
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
