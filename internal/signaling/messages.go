package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/st-user/ojm-dronw-remote/internal/ice"
)

// Message kinds with meaning to this server. Anything else (offer, answer,
// candidate, application-specific types) is opaque and passed through
// verbatim.
const (
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeICEServerInfo = "iceServerInfo"
	MessageTypeClose         = "close"
)

// Envelope is the parsed header of an inbound signaling message. Raw keeps
// the complete original payload so forwarding never re-encodes or reorders
// protocol-specific fields.
type Envelope struct {
	MessageType      string
	PeerConnectionID string
	Raw              json.RawMessage
}

type envelopeWire struct {
	MessageType      string `json:"messageType"`
	PeerConnectionID string `json:"peerConnectionId"`
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("parse signaling message: %w", err)
	}
	if wire.MessageType == "" {
		return Envelope{}, fmt.Errorf("signaling message missing messageType")
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{
		MessageType:      wire.MessageType,
		PeerConnectionID: wire.PeerConnectionID,
		Raw:              raw,
	}, nil
}

type pingMessage struct {
	MessageType string `json:"messageType"`
}

func encodePing() []byte {
	b, _ := json.Marshal(pingMessage{MessageType: MessageTypePing})
	return b
}

type iceServerInfoMessage struct {
	MessageType   string         `json:"messageType"`
	ICEServerInfo ice.ServerInfo `json:"iceServerInfo"`
}

func encodeICEServerInfo(info ice.ServerInfo) ([]byte, error) {
	return json.Marshal(iceServerInfoMessage{
		MessageType:   MessageTypeICEServerInfo,
		ICEServerInfo: info,
	})
}

type closeMessage struct {
	MessageType      string `json:"messageType"`
	PeerConnectionID string `json:"peerConnectionId"`
	IsPrimary        bool   `json:"isPrimary"`
}

// encodeClose synthesizes the message delivered to a room owner when a
// remote peer disconnects, so the local endpoint can tear down the matching
// peer connection state.
func encodeClose(peerConnectionID string, isPrimary bool) []byte {
	b, _ := json.Marshal(closeMessage{
		MessageType:      MessageTypeClose,
		PeerConnectionID: peerConnectionID,
		IsPrimary:        isPrimary,
	})
	return b
}
