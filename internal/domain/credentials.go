package domain

import "time"

// CEXCredentials are a user's exchange API key pair, held decrypted only in
// memory while a CEX step needs them.
type CEXCredentials struct {
	UserAddress string
	Exchange    string
	APIKey      string
	APISecret   string
}

// EncryptedCredentials is the at-rest form, sealed by the credential cipher.
type EncryptedCredentials struct {
	UserAddress string
	Exchange    string
	Ciphertext  []byte
	CreatedAt   time.Time
}
