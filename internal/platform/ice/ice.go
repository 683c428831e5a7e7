// Package ice supplies the STUN/TURN server list that clients use to
// negotiate peer connections.
package ice

import "github.com/pion/webrtc/v4"

// DefaultSTUNURL is used when no servers are configured.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// Provider builds the ICE server list handed to joining clients. TURN
// credentials are optional; without them only STUN is offered and clients
// behind symmetric NATs may fail to connect directly.
type Provider struct {
	servers []webrtc.ICEServer
}

func NewProvider(stunURLs []string, turnURL, turnUsername, turnPassword string) *Provider {
	if len(stunURLs) == 0 {
		stunURLs = []string{DefaultSTUNURL}
	}
	servers := []webrtc.ICEServer{{URLs: stunURLs}}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUsername,
			Credential: turnPassword,
		})
	}
	return &Provider{servers: servers}
}

// Servers returns a copy of the configured ICE servers.
func (p *Provider) Servers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(p.servers))
	copy(out, p.servers)
	return out
}
