package signaling

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the WebRTC signaling message type being relayed.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindHangup       Kind = "hangup"
)

var validKinds = map[Kind]bool{
	KindOffer:        true,
	KindAnswer:       true,
	KindICECandidate: true,
	KindHangup:       true,
}

// Valid reports whether k is a known signaling kind.
func (k Kind) Valid() bool { return validKinds[k] }

// Message is one relayed signaling payload. The payload is opaque to the
// relay; SDP and candidate bodies are never parsed or modified.
type Message struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   uuid.UUID       `json:"session_id"`
	SenderID    uuid.UUID       `json:"sender_id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Kind        Kind            `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
