// Package ice builds the ICE server bundle pushed to a local endpoint right
// after its signaling connection is established, so the device can start ICE
// gathering without waiting for a round trip.
package ice

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/st-user/ojm-dronw-remote/internal/config"
)

// ServerInfo is the `iceServerInfo` payload of the initial out-of-band
// message sent on every new local connection.
type ServerInfo struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// Provider assembles ServerInfo from static STUN/TURN configuration and,
// when a TURN REST shared secret is configured, per-connection ephemeral
// TURN credentials.
type Provider struct {
	stunURLs       []string
	turnURLs       []string
	turnUsername   string
	turnCredential string

	rest *restGenerator
}

func NewProvider(cfg config.Config) (*Provider, error) {
	p := &Provider{
		stunURLs:       cfg.StunURLs,
		turnURLs:       cfg.TurnURLs,
		turnUsername:   cfg.TurnUsername,
		turnCredential: cfg.TurnCredential,
	}

	if cfg.TURNREST.Enabled() {
		gen, err := newRESTGenerator(restGeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("configure TURN REST credentials: %w", err)
		}
		p.rest = gen
	}

	return p, nil
}

// ServerInfo returns the bundle for one connection. With TURN REST enabled,
// each call mints fresh ephemeral credentials.
func (p *Provider) ServerInfo() (ServerInfo, error) {
	var servers []webrtc.ICEServer

	if len(p.stunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: p.stunURLs})
	}

	if len(p.turnURLs) > 0 {
		turn := webrtc.ICEServer{URLs: p.turnURLs}
		switch {
		case p.rest != nil:
			creds, err := p.rest.GenerateRandom()
			if err != nil {
				return ServerInfo{}, err
			}
			turn.Username = creds.Username
			turn.Credential = creds.Credential
		case p.turnUsername != "":
			turn.Username = p.turnUsername
			turn.Credential = p.turnCredential
		}
		servers = append(servers, turn)
	}

	return ServerInfo{ICEServers: servers}, nil
}
