// Package token mints and verifies the short-lived credentials that scope a
// client to one session room.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/telehealth"
)

var ErrInvalidToken = errors.New("invalid room token")

// Claims are the JWT claims carried by a room token. The subject is the user
// id; the token is only good for the named session and room.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	Role      string `json:"role"`
}

// Manager signs and verifies room tokens with an HMAC key. It satisfies
// telehealth.TokenMinter.
type Manager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewManager(key string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		key: []byte(key),
		ttl: ttl,
		now: time.Now,
	}
}

// MintRoomToken issues a token admitting userID to the session's room in the
// given role. The expiry covers the longest allowed session plus slack for
// reconnects; a rejoin after expiry goes back through the join endpoint.
func (m *Manager) MintRoomToken(sessionID, userID uuid.UUID, role telehealth.Role, roomID string) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		SessionID: sessionID.String(),
		RoomID:    roomID,
		Role:      string(role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign room token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a room token, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
