package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Auth signs REST requests with the venue's plain API-key/secret HMAC-SHA256
// scheme: the request's query string is signed with the account secret, and the signature travels as a query parameter
// alongside an API-key header. This is the scheme centralized futures
// venues use for trading endpoints, in place of the teacher's EIP-712/L1
// wallet signing — there is no on-chain wallet in this domain.
type Auth struct {
	apiKey string
	secret string
}

// NewAuth creates an Auth from the configured API key/secret pair.
func NewAuth(apiKey, secret string) *Auth {
	return &Auth{apiKey: apiKey, secret: secret}
}

// APIKey returns the key sent in the request header.
func (a *Auth) APIKey() string {
	return a.apiKey
}

// Sign returns the hex-encoded HMAC-SHA256 signature of payload (typically
// the request's query string) under the account secret.
func (a *Auth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Configured reports whether both the key and secret are set.
func (a *Auth) Configured() bool {
	return a.apiKey != "" && a.secret != ""
}
