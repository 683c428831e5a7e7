// Package webhook delivers session lifecycle events to registered HTTP
// endpoints. Payloads are signed with HMAC-SHA256 so receivers can verify
// that a delivery originated from this server.
package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Endpoint status values.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Endpoint is a registered webhook receiver. Secret is returned once at
// registration time and omitted from subsequent reads.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is the envelope posted to endpoints.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Delivery records one attempt to post an event to one endpoint. The raw
// payload is retained so a failed delivery can be retried verbatim.
type Delivery struct {
	ID           string    `json:"id"`
	EndpointID   string    `json:"endpoint_id"`
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"status_code"`
	ResponseBody string    `json:"response_body,omitempty"`
	Error        string    `json:"error,omitempty"`
	Succeeded    bool      `json:"succeeded"`
	AttemptedAt  time.Time `json:"attempted_at"`

	Payload []byte `json:"-"`
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature (with or without the "sha256="
// prefix) matches payload under secret.
func VerifySignature(secret string, payload []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

// matchesEvent reports whether eventType matches any of the endpoint's
// subscription patterns. A pattern is either an exact type, "*", a prefix
// wildcard like "session.*", or a suffix wildcard like "*.completed".
func matchesEvent(patterns []string, eventType string) bool {
	for _, p := range patterns {
		switch {
		case p == "*" || p == eventType:
			return true
		case strings.HasSuffix(p, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(p, "*")):
			return true
		case strings.HasPrefix(p, "*.") && strings.HasSuffix(eventType, strings.TrimPrefix(p, "*")):
			return true
		}
	}
	return false
}
