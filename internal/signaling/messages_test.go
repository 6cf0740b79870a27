package signaling

import (
	"bytes"
	"testing"
)

func TestParseEnvelope_KeepsRawVerbatim(t *testing.T) {
	in := []byte(`{"messageType":"offer","peerConnectionId":"p1","sdp":"v=0","extra":{"a":[1,2]}}`)
	msg, err := ParseEnvelope(in)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if msg.MessageType != "offer" || msg.PeerConnectionID != "p1" {
		t.Fatalf("header = %q/%q", msg.MessageType, msg.PeerConnectionID)
	}
	if !bytes.Equal(msg.Raw, in) {
		t.Fatalf("raw payload re-encoded: %s", msg.Raw)
	}
}

func TestParseEnvelope_Rejects(t *testing.T) {
	for _, in := range []string{`not json`, `{}`, `{"peerConnectionId":"p1"}`} {
		if _, err := ParseEnvelope([]byte(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestEncodeClose(t *testing.T) {
	got := string(encodeClose("p3", true))
	want := `{"messageType":"close","peerConnectionId":"p3","isPrimary":true}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
