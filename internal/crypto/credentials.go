// Package crypto provides credential encryption at rest and HMAC request
// authentication for the exchange API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/omniswap/swapd/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed-envelope JSON schema version.
	currentVersion = 1
)

// Cipher seals exchange API credentials for storage at rest using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM. Each envelope gets a
// fresh salt and nonce.
type Cipher struct {
	password string
}

// NewCipher creates a credential cipher from the service password.
func NewCipher(password string) (*Cipher, error) {
	if password == "" {
		return nil, errors.New("crypto: credential password must not be empty")
	}
	return &Cipher{password: password}, nil
}

// sealedJSON is the stored envelope format.
type sealedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// credentialPayload is the plaintext sealed inside the envelope.
type credentialPayload struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Seal encrypts the key pair from creds and returns the JSON envelope for
// the credential store.
func (c *Cipher) Seal(creds domain.CEXCredentials) ([]byte, error) {
	plaintext, err := json.Marshal(credentialPayload{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	})
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(c.password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := sealedJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}
	return json.Marshal(out)
}

// Open decrypts an envelope produced by Seal and returns the API key pair.
func (c *Cipher) Open(envelope []byte) (apiKey, apiSecret string, err error) {
	var stored sealedJSON
	if err := json.Unmarshal(envelope, &stored); err != nil {
		return "", "", fmt.Errorf("crypto: parsing sealed credentials: %w", err)
	}
	if stored.Version != currentVersion {
		return "", "", fmt.Errorf("crypto: unsupported envelope version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(c.password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", "", fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	var payload credentialPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return "", "", fmt.Errorf("crypto: parsing credential payload: %w", err)
	}
	return payload.APIKey, payload.APISecret, nil
}
