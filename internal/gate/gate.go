// Package gate authenticates and rate-limits inbound webhook calls before
// any payload parsing happens. Retranslator installations disagree on how
// to present credentials, so authentication accepts the shared secret
// through any of several schemes.
package gate

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"

	"wialon-bridge/internal/observability"
)

// tokenParams are the alternate form/query parameter names the secret may
// arrive under.
var tokenParams = []string{"api_key", "token", "auth_token", "webhook_token", "password"}

// Gate is the admission check in front of the ingestion pipeline.
type Gate struct {
	secret    string
	perMinute int
	counter   RateCounter
	log       *slog.Logger
}

func New(secret string, perMinute int, counter RateCounter, log *slog.Logger) *Gate {
	return &Gate{secret: secret, perMinute: perMinute, counter: counter, log: log}
}

// AllowRate increments the caller's minute bucket and reports whether the
// call is still under the ceiling. A counter backend failure admits the
// call with a warning rather than dropping traffic.
func (g *Gate) AllowRate(ctx context.Context, addr string) bool {
	count, err := g.counter.Incr(ctx, addr, MinuteBucket(time.Now()))
	if err != nil {
		g.log.Warn("rate counter unavailable, admitting call", "error", err)
		return true
	}
	if count > int64(g.perMinute) {
		observability.RateLimitHits.Inc()
		return false
	}
	return true
}

// Authenticate accepts the call if any supported scheme presents the
// shared secret: Authorization header (Bearer, Token, Basic, or the bare
// secret), a token-bearing query/form parameter, or a WS-Security Username
// in the SOAP header for SOAP payloads. Every scheme is tried; a scheme
// that errors is skipped, not fatal.
func (g *Gate) Authenticate(authHeader string, params url.Values, soapXML []byte) bool {
	// An empty secret disables authentication entirely.
	if g.secret == "" {
		return true
	}

	if len(soapXML) > 0 && g.soapUsernameMatches(soapXML) {
		return true
	}

	if g.headerMatches(authHeader) {
		return true
	}

	for _, name := range tokenParams {
		if params.Get(name) == g.secret {
			return true
		}
	}

	observability.AuthFailures.Inc()
	return false
}

func (g *Gate) headerMatches(authHeader string) bool {
	if authHeader == "" {
		return false
	}
	switch {
	case strings.HasPrefix(authHeader, "Bearer "):
		return strings.TrimPrefix(authHeader, "Bearer ") == g.secret
	case strings.HasPrefix(authHeader, "Token "):
		return strings.TrimPrefix(authHeader, "Token ") == g.secret
	case strings.HasPrefix(authHeader, "Basic "):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authHeader, "Basic "))
		if err != nil {
			return false
		}
		// Some senders put the token in the username, others in the password.
		if user, pass, found := strings.Cut(string(decoded), ":"); found {
			return user == g.secret || pass == g.secret
		}
		return string(decoded) == g.secret
	default:
		return authHeader == g.secret
	}
}

// soapUsernameMatches looks for a WS-Security Username element anywhere in
// the envelope, ignoring namespace prefixes. Malformed XML is swallowed:
// the remaining schemes still get their chance.
func (g *Gate) soapUsernameMatches(soapXML []byte) bool {
	tree, err := mxj.NewMapXml(soapXML)
	if err != nil {
		g.log.Debug("soap auth parse failed", "error", err)
		return false
	}
	return containsUsername(map[string]any(tree), g.secret)
}

func containsUsername(node any, secret string) bool {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if localName(key) == "Username" {
				if text, ok := child.(string); ok && text == secret {
					return true
				}
			}
			if containsUsername(child, secret) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if containsUsername(item, secret) {
				return true
			}
		}
	}
	return false
}

func localName(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}
