package websocket

import (
	"encoding/json"

	"github.com/clinicore/clinicore/internal/domain/signaling"
)

// SignalPusher forwards freshly relayed signaling messages to the
// recipient's live signal channel. It satisfies signaling.Pusher.
type SignalPusher struct {
	hub *Hub
}

func NewSignalPusher(hub *Hub) *SignalPusher {
	return &SignalPusher{hub: hub}
}

// Push broadcasts the message on the recipient's signal channel. Marshal
// failures are ignored; the message is already in the mailbox.
func (p *SignalPusher) Push(msg *signaling.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.hub.Broadcast(SignalChannel(msg.SessionID, msg.RecipientID), Event{
		Type:      "signal." + string(msg.Kind),
		Channel:   SignalChannel(msg.SessionID, msg.RecipientID),
		SessionID: msg.SessionID.String(),
		Timestamp: msg.Timestamp,
		Data:      data,
	})
}
