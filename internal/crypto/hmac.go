// Package crypto provides HMAC request authentication and encrypted secret
// storage for venue API credentials.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated venue requests.
type HMACAuth struct {
	Key    string // API key identifier
	Secret string // API secret, base64-encoded
}

// Headers returns the authentication headers for a venue request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64. The secret is base64-decoded before use as the HMAC key.
//
// Returned header keys:
//   - HX-API-KEY
//   - HX-TIMESTAMP
//   - HX-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp,
// for deterministic testing.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(h.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64(secretBytes, message)

	return map[string]string{
		"HX-API-KEY":   h.Key,
		"HX-TIMESTAMP": ts,
		"HX-SIGNATURE": sig,
	}
}

// Verify checks a signature produced by HeadersAt against the same inputs.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string) bool {
	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		secretBytes = []byte(h.Secret)
	}
	expected := hmacSHA256Base64(secretBytes, timestamp+method+path+body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
