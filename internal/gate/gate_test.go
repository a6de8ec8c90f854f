package gate

import (
	"context"
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wialon-bridge/internal/observability"
)

const secret = "webhook-secret"

func newTestGate(perMinute int) *Gate {
	return New(secret, perMinute, NewMemoryCounter(), observability.NewLogger())
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestAuthenticateHeaderSchemes(t *testing.T) {
	g := newTestGate(10)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"bearer ok", "Bearer " + secret, true},
		{"bearer wrong", "Bearer wrong", false},
		{"token ok", "Token " + secret, true},
		{"token wrong", "Token nope", false},
		{"basic secret as username", basic(secret, "x"), true},
		{"basic secret as password", basic("user", secret), true},
		{"basic neither", basic("user", "pass"), false},
		{"basic invalid base64", "Basic !!!", false},
		{"bare secret", secret, true},
		{"bare wrong", "something-else", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Authenticate(tt.header, url.Values{}, nil))
		})
	}
}

func TestAuthenticateNoSecretConfigured(t *testing.T) {
	g := New("", 10, NewMemoryCounter(), observability.NewLogger())

	assert.True(t, g.Authenticate("", url.Values{}, nil))
	assert.True(t, g.Authenticate("Bearer anything", url.Values{}, nil))
}

func TestAuthenticateParams(t *testing.T) {
	g := newTestGate(10)

	for _, name := range []string{"api_key", "token", "auth_token", "webhook_token", "password"} {
		assert.True(t, g.Authenticate("", url.Values{name: {secret}}, nil), "param %s", name)
	}
	assert.False(t, g.Authenticate("", url.Values{"api_key": {"wrong"}}, nil))
	assert.False(t, g.Authenticate("", url.Values{"other": {secret}}, nil))
}

func TestAuthenticateSOAPUsername(t *testing.T) {
	g := newTestGate(10)

	envelope := []byte(`<?xml version="1.0"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Header>
    <wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
      <wsse:UsernameToken><wsse:Username>` + secret + `</wsse:Username></wsse:UsernameToken>
    </wsse:Security>
  </soapenv:Header>
  <soapenv:Body/>
</soapenv:Envelope>`)

	// No Authorization header at all, only the WS-Security username.
	assert.True(t, g.Authenticate("", url.Values{}, envelope))

	wrong := []byte(`<Envelope><Header><Username>intruder</Username></Header></Envelope>`)
	assert.False(t, g.Authenticate("", url.Values{}, wrong))

	// Malformed SOAP is swallowed and the other schemes still apply.
	assert.True(t, g.Authenticate("Bearer "+secret, url.Values{}, []byte("<broken")))
	assert.False(t, g.Authenticate("", url.Values{}, []byte("<broken")))
}

func TestAllowRateCeiling(t *testing.T) {
	g := newTestGate(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, g.AllowRate(ctx, "10.0.0.1"), "call %d", i+1)
	}
	assert.False(t, g.AllowRate(ctx, "10.0.0.1"), "call over ceiling")

	// A different caller has its own bucket.
	assert.True(t, g.AllowRate(ctx, "10.0.0.2"))
}

func TestMemoryCounterBuckets(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	n, err := c.Incr(ctx, "a", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "a", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Next minute starts a fresh count.
	n, err = c.Incr(ctx, "a", 101)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCounterPurge(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	_, err := c.Incr(ctx, "a", 100)
	require.NoError(t, err)
	_, err = c.Incr(ctx, "b", 103)
	require.NoError(t, err)

	// Incrementing at minute 106 purges buckets older than 101.
	_, err = c.Incr(ctx, "c", 106)
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NotContains(t, c.buckets, bucket{addr: "a", minute: 100})
	assert.Contains(t, c.buckets, bucket{addr: "b", minute: 103})
	assert.Contains(t, c.buckets, bucket{addr: "c", minute: 106})
}
