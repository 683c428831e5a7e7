package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/telehealth"
)

// ErrInvalidKind rejects a relay attempt with an unknown message type.
var ErrInvalidKind = errors.New("invalid signaling message type")

// SessionGate exposes the lifecycle checks the relay needs. Satisfied by
// *telehealth.Service.
type SessionGate interface {
	GetSession(ctx context.Context, id uuid.UUID) (*telehealth.Session, error)
	CompleteOnHangup(ctx context.Context, id uuid.UUID) error
}

// Pusher delivers a freshly relayed message to a connected recipient.
// Delivery is best-effort; the mailbox remains the source of truth.
type Pusher interface {
	Push(msg *Message)
}

// Service relays signaling messages between the two parties of a session.
// It never inspects payloads; its job is admission control and delivery.
type Service struct {
	mailbox  *Mailbox
	sessions SessionGate
	pusher   Pusher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(mailbox *Mailbox, sessions SessionGate) *Service {
	return &Service{
		mailbox:  mailbox,
		sessions: sessions,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
}

// SetPusher attaches an optional realtime delivery channel.
func (s *Service) SetPusher(p Pusher) { s.pusher = p }

// SetLogger attaches the service logger.
func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// Send validates and relays one message from sender to the session's other
// party. Sends are rejected for unknown sessions, non-participants, and
// sessions already in a terminal state. A hangup additionally nudges the
// session toward completion; a failed nudge is logged, the relay itself
// still succeeds.
//
// msgID is the client-chosen idempotency key; uuid.Nil means the server
// assigns one. Resending with the same id never duplicates delivery.
func (s *Service) Send(ctx context.Context, sessionID, senderID uuid.UUID, kind Kind, payload json.RawMessage, msgID uuid.UUID) (*Message, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	role := sess.ParticipantOf(senderID)
	if role == "" {
		return nil, telehealth.ErrForbidden
	}
	if sess.Status.IsTerminal() {
		return nil, telehealth.ErrSessionClosed
	}

	recipientID := sess.PatientID
	if role == telehealth.RolePatient {
		recipientID = sess.TherapistID
	}

	if msgID == uuid.Nil {
		msgID = uuid.New()
	}
	msg := &Message{
		ID:          msgID,
		SessionID:   sessionID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		Timestamp:   s.now().UTC(),
	}

	s.mailbox.Deposit(msg)
	if s.pusher != nil {
		s.pusher.Push(msg)
	}

	if kind == KindHangup {
		if err := s.sessions.CompleteOnHangup(ctx, sessionID); err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", sessionID.String()).
				Msg("hangup received but session completion failed")
		}
	}
	return msg, nil
}

// Poll drains the caller's pending messages in arrival order. Polling stays
// available after the session ends so a trailing hangup is never lost.
func (s *Service) Poll(ctx context.Context, sessionID, userID uuid.UUID) ([]*Message, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ParticipantOf(userID) == "" {
		return nil, telehealth.ErrForbidden
	}
	return s.mailbox.Drain(sessionID, userID), nil
}
