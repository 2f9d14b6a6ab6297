package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACHeadersAreDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:    "key-1",
		Secret: base64.StdEncoding.EncodeToString([]byte("topsecret")),
	}

	a := auth.HeadersAt("POST", "/orders", `{"symbol":"BTC-USD"}`, 1750000000)
	b := auth.HeadersAt("POST", "/orders", `{"symbol":"BTC-USD"}`, 1750000000)
	assert.Equal(t, a, b)
	assert.Equal(t, "key-1", a["HX-API-KEY"])
	assert.Equal(t, "1750000000", a["HX-TIMESTAMP"])

	c := auth.HeadersAt("POST", "/orders", `{"symbol":"ETH-USD"}`, 1750000000)
	assert.NotEqual(t, a["HX-SIGNATURE"], c["HX-SIGNATURE"])
}

func TestHMACVerify(t *testing.T) {
	auth := &HMACAuth{
		Key:    "key-1",
		Secret: base64.StdEncoding.EncodeToString([]byte("topsecret")),
	}

	h := auth.HeadersAt("GET", "/balance", "", 1750000000)
	assert.True(t, auth.Verify("GET", "/balance", "", h["HX-TIMESTAMP"], h["HX-SIGNATURE"]))
	assert.False(t, auth.Verify("GET", "/orders", "", h["HX-TIMESTAMP"], h["HX-SIGNATURE"]))
}

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("venue-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "venue-api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestRedactedString(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "zz"}
	s := auth.String()
	assert.NotContains(t, s, "abcdef")
	assert.NotContains(t, s, "zz\"")
	assert.Contains(t, s, "abcd****")
}
