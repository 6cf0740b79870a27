package signaling

import (
	"encoding/json"
	"log/slog"

	"github.com/st-user/ojm-dronw-remote/internal/registry"
)

// RemoteSink carries local-endpoint messages toward the remote side of a
// session. The remote transport may live in another process; the sink is
// the only coupling point.
type RemoteSink interface {
	Send(startKey, peerConnectionID, messageType string, payload json.RawMessage) error
}

// RemoteDetail is the bus payload for messages bound to remote peers.
type RemoteDetail struct {
	PeerConnectionID string          `json:"peerConnectionId"`
	MessageType      string          `json:"messageType"`
	Payload          json.RawMessage `json:"payload"`
}

// BusRemoteSink publishes remote-bound messages on the notification bus so
// that whatever owns the remote transport can subscribe to them.
type BusRemoteSink struct {
	bus *registry.Bus
}

func NewBusRemoteSink(bus *registry.Bus) *BusRemoteSink {
	return &BusRemoteSink{bus: bus}
}

func (s *BusRemoteSink) Send(startKey, peerConnectionID, messageType string, payload json.RawMessage) error {
	detail, err := json.Marshal(RemoteDetail{
		PeerConnectionID: peerConnectionID,
		MessageType:      messageType,
		Payload:          payload,
	})
	if err != nil {
		return err
	}
	s.bus.Trigger(registry.Event{
		Name:   registry.EventRemote,
		RoomID: startKey,
		Detail: detail,
	})
	return nil
}

// ForwardLocalMessages wires a LocalServer's inbound messages into a
// RemoteSink. Every message is forwarded, peerConnectionId or not; which
// peer socket(s) a message reaches is resolved on the remote side, not
// here. Send failures are routing diagnostics, not errors.
func ForwardLocalMessages(local *LocalServer, sink RemoteSink, logger *slog.Logger) {
	local.OnMessage(func(startKey string, msg Envelope) {
		if err := sink.Send(startKey, msg.PeerConnectionID, msg.MessageType, msg.Raw); err != nil {
			logger.Warn("failed to forward local message to remote sink",
				"startKey", truncateKey(startKey, 5), "messageType", msg.MessageType, "err", err)
		}
	})
}
