package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/telehealth"
)

// -- Fakes --

type fakeGate struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*telehealth.Session
	hangups  []uuid.UUID
	// hangupErr simulates a completion failure after a hangup relay.
	hangupErr error
}

func newFakeGate() *fakeGate {
	return &fakeGate{sessions: make(map[uuid.UUID]*telehealth.Session)}
}

func (g *fakeGate) addSession(status telehealth.Status) *telehealth.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := &telehealth.Session{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		TherapistID: uuid.New(),
		Status:      status,
	}
	g.sessions[s.ID] = s
	return s
}

func (g *fakeGate) GetSession(_ context.Context, id uuid.UUID) (*telehealth.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, telehealth.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGate) CompleteOnHangup(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hangupErr != nil {
		return g.hangupErr
	}
	g.hangups = append(g.hangups, id)
	if s, ok := g.sessions[id]; ok && !s.Status.IsTerminal() {
		s.Status = telehealth.StatusCompleted
	}
	return nil
}

type capturePusher struct {
	mu     sync.Mutex
	pushed []*Message
}

func (p *capturePusher) Push(msg *Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, msg)
}

func newTestDispatcher() (*Service, *fakeGate) {
	gate := newFakeGate()
	return NewService(NewMailbox(0, 0), gate), gate
}

func sdp(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"sdp":"v=0 seq %d"}`, n))
}

// -- Tests --

func TestSend_RoutesToOtherParty(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusActive)

	msg, err := svc.Send(context.Background(), sess.ID, sess.PatientID, KindOffer, sdp(1), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == uuid.Nil {
		t.Error("expected server-assigned id")
	}
	if msg.RecipientID != sess.TherapistID {
		t.Error("patient's message must be routed to the therapist")
	}

	got, err := svc.Poll(context.Background(), sess.ID, sess.TherapistID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("expected the relayed message, got %d", len(got))
	}

	// The sender's own mailbox stays empty.
	own, _ := svc.Poll(context.Background(), sess.ID, sess.PatientID)
	if len(own) != 0 {
		t.Errorf("sender must not receive their own message, got %d", len(own))
	}
}

func TestSend_Validation(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusActive)

	if _, err := svc.Send(context.Background(), uuid.New(), sess.PatientID, KindOffer, nil, uuid.Nil); !errors.Is(err, telehealth.ErrNotFound) {
		t.Errorf("unknown session: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Send(context.Background(), sess.ID, uuid.New(), KindOffer, nil, uuid.Nil); !errors.Is(err, telehealth.ErrForbidden) {
		t.Errorf("outsider: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Send(context.Background(), sess.ID, sess.PatientID, "smoke-signal", nil, uuid.Nil); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind: expected ErrInvalidKind, got %v", err)
	}

	closed := gate.addSession(telehealth.StatusCompleted)
	if _, err := svc.Send(context.Background(), closed.ID, closed.PatientID, KindOffer, nil, uuid.Nil); !errors.Is(err, telehealth.ErrSessionClosed) {
		t.Errorf("terminal session: expected ErrSessionClosed, got %v", err)
	}
}

func TestSend_IdempotentResend(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusActive)

	id := uuid.New()
	for i := 0; i < 3; i++ {
		if _, err := svc.Send(context.Background(), sess.ID, sess.PatientID, KindOffer, sdp(1), id); err != nil {
			t.Fatalf("resend %d: %v", i, err)
		}
	}

	got, _ := svc.Poll(context.Background(), sess.ID, sess.TherapistID)
	if len(got) != 1 {
		t.Errorf("expected single delivery for retried id, got %d", len(got))
	}
}

func TestSend_SessionIsolation(t *testing.T) {
	svc, gate := newTestDispatcher()
	a := gate.addSession(telehealth.StatusActive)
	b := gate.addSession(telehealth.StatusActive)

	if _, err := svc.Send(context.Background(), a.ID, a.PatientID, KindOffer, sdp(1), uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Send(context.Background(), b.ID, b.PatientID, KindOffer, sdp(2), uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotA, _ := svc.Poll(context.Background(), a.ID, a.TherapistID)
	if len(gotA) != 1 || gotA[0].SessionID != a.ID {
		t.Error("session A relay leaked or went missing")
	}
	gotB, _ := svc.Poll(context.Background(), b.ID, b.TherapistID)
	if len(gotB) != 1 || gotB[0].SessionID != b.ID {
		t.Error("session B relay leaked or went missing")
	}
}

func TestSend_HangupCompletesSession(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusActive)

	if _, err := svc.Send(context.Background(), sess.ID, sess.PatientID, KindHangup, nil, uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gate.hangups) != 1 || gate.hangups[0] != sess.ID {
		t.Error("expected completion nudge for the session")
	}

	// The hangup is still deliverable after the session went terminal.
	got, err := svc.Poll(context.Background(), sess.ID, sess.TherapistID)
	if err != nil {
		t.Fatalf("poll after completion: %v", err)
	}
	if len(got) != 1 || got[0].Kind != KindHangup {
		t.Error("expected the hangup to be delivered")
	}
}

func TestSend_HangupNudgeFailureStillRelays(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusActive)
	gate.hangupErr = fmt.Errorf("db down")

	if _, err := svc.Send(context.Background(), sess.ID, sess.PatientID, KindHangup, nil, uuid.Nil); err != nil {
		t.Fatalf("relay must succeed despite nudge failure: %v", err)
	}
	got, _ := svc.Poll(context.Background(), sess.ID, sess.TherapistID)
	if len(got) != 1 {
		t.Errorf("expected hangup in mailbox, got %d", len(got))
	}
}

func TestSend_PushesToConnectedRecipient(t *testing.T) {
	svc, gate := newTestDispatcher()
	pusher := &capturePusher{}
	svc.SetPusher(pusher)
	sess := gate.addSession(telehealth.StatusActive)

	msg, err := svc.Send(context.Background(), sess.ID, sess.TherapistID, KindAnswer, sdp(1), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pusher.pushed) != 1 || pusher.pushed[0].ID != msg.ID {
		t.Error("expected message pushed to realtime channel")
	}
	if pusher.pushed[0].RecipientID != sess.PatientID {
		t.Error("therapist's answer must be pushed to the patient")
	}
}

func TestPoll_Validation(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusActive)

	if _, err := svc.Poll(context.Background(), uuid.New(), sess.PatientID); !errors.Is(err, telehealth.ErrNotFound) {
		t.Errorf("unknown session: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Poll(context.Background(), sess.ID, uuid.New()); !errors.Is(err, telehealth.ErrForbidden) {
		t.Errorf("outsider: expected ErrForbidden, got %v", err)
	}
}

// TestNegotiationHandshake walks the full offer/answer/candidate/hangup
// exchange between the two parties of one session.
func TestNegotiationHandshake(t *testing.T) {
	svc, gate := newTestDispatcher()
	sess := gate.addSession(telehealth.StatusStarting)
	ctx := context.Background()

	if _, err := svc.Send(ctx, sess.ID, sess.PatientID, KindOffer, sdp(1), uuid.Nil); err != nil {
		t.Fatalf("offer: %v", err)
	}
	got, _ := svc.Poll(ctx, sess.ID, sess.TherapistID)
	if len(got) != 1 || got[0].Kind != KindOffer {
		t.Fatal("therapist should receive the offer")
	}

	if _, err := svc.Send(ctx, sess.ID, sess.TherapistID, KindAnswer, sdp(2), uuid.Nil); err != nil {
		t.Fatalf("answer: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Send(ctx, sess.ID, sess.TherapistID, KindICECandidate, sdp(10+i), uuid.Nil); err != nil {
			t.Fatalf("candidate %d: %v", i, err)
		}
	}
	got, _ = svc.Poll(ctx, sess.ID, sess.PatientID)
	if len(got) != 4 || got[0].Kind != KindAnswer {
		t.Fatalf("patient should receive answer then candidates, got %d", len(got))
	}
	for _, msg := range got[1:] {
		if msg.Kind != KindICECandidate {
			t.Errorf("expected candidate, got %s", msg.Kind)
		}
	}

	if _, err := svc.Send(ctx, sess.ID, sess.PatientID, KindHangup, nil, uuid.Nil); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	got, _ = svc.Poll(ctx, sess.ID, sess.TherapistID)
	if len(got) != 1 || got[0].Kind != KindHangup {
		t.Fatal("therapist should receive the hangup")
	}
	if final, _ := gate.GetSession(ctx, sess.ID); final.Status != telehealth.StatusCompleted {
		t.Errorf("expected completed after hangup, got %s", final.Status)
	}
}
