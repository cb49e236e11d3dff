// Package auth implements the hub challenge/response authentication.
//
// The hub hands out a challenge for an API key; the client proves it holds the
// matching secret by returning HMAC-SHA512(secret, challenge) in lowercase hex.
package auth

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrMissingCredentials = errors.New("auth: missing credentials")

// Credentials are held for the lifetime of a socket so the flow can be
// repeated after every reconnect.
type Credentials struct {
	Key    string
	Secret string
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Key) == "" || strings.TrimSpace(c.Secret) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// String never prints the secret.
func (c Credentials) String() string {
	key := c.Key
	if len(key) > 4 {
		key = key[:4] + "..."
	}
	return "key=" + key + " secret=<redacted>"
}

// Signer computes the response to a challenge.
type Signer interface {
	Sign(secret, challenge string) string
}

// SignerFunc adapts a function into a Signer.
type SignerFunc func(secret, challenge string) string

func (f SignerFunc) Sign(secret, challenge string) string {
	return f(secret, challenge)
}

// HMACSHA512 is the signer the hub expects.
var HMACSHA512 Signer = SignerFunc(Sign)

// Sign returns HMAC-SHA512 of challenge keyed by secret, lowercase hex encoded.
func Sign(secret, challenge string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}
