// ABOUTME: Tagged frame model for the Rocket.Chat realtime (DDP) protocol.
// ABOUTME: Decodes inbound JSON frames and builds outbound handshake/login/sub frames.

package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameKind identifies the protocol message type of an inbound frame.
type FrameKind int

const (
	// FrameUnknown covers every message tag we don't handle. Unknown frames
	// are ignored, never treated as errors.
	FrameUnknown FrameKind = iota
	FrameConnected
	FramePing
	FramePong
	FrameResult
	FrameChanged
	FrameReady
	FrameNoSub
)

// String returns the wire tag for the frame kind (for logging).
func (k FrameKind) String() string {
	switch k {
	case FrameConnected:
		return "connected"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameResult:
		return "result"
	case FrameChanged:
		return "changed"
	case FrameReady:
		return "ready"
	case FrameNoSub:
		return "nosub"
	default:
		return "unknown"
	}
}

// MethodError is the error object attached to a failed method result.
type MethodError struct {
	Code      json.Number `json:"error"`
	Reason    string      `json:"reason"`
	Message   string      `json:"message"`
	ErrorType string      `json:"errorType"`
}

// Frame is one inbound protocol frame, decoded just far enough to tag it.
// Kind-specific payloads stay raw until the owner asks for them.
type Frame struct {
	Kind       FrameKind
	ID         string
	Session    string
	Collection string
	Error      *MethodError
	Result     json.RawMessage
	Fields     json.RawMessage
	Subs       []string
}

// wireFrame mirrors the superset of fields the server may send.
type wireFrame struct {
	Msg        string          `json:"msg"`
	ID         string          `json:"id"`
	Session    string          `json:"session"`
	Collection string          `json:"collection"`
	Error      *MethodError    `json:"error"`
	Result     json.RawMessage `json:"result"`
	Fields     json.RawMessage `json:"fields"`
	Subs       []string        `json:"subs"`
}

// ParseFrame decodes a single inbound frame. Malformed JSON returns an error
// so the transport can drop the frame; frames without a recognized msg tag
// (including the initial server_id greeting) come back as FrameUnknown.
func ParseFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}

	f := Frame{
		ID:         w.ID,
		Session:    w.Session,
		Collection: w.Collection,
		Error:      w.Error,
		Result:     w.Result,
		Fields:     w.Fields,
		Subs:       w.Subs,
	}

	switch w.Msg {
	case "connected":
		f.Kind = FrameConnected
	case "ping":
		f.Kind = FramePing
	case "pong":
		f.Kind = FramePong
	case "result":
		f.Kind = FrameResult
	case "changed":
		f.Kind = FrameChanged
	case "ready":
		f.Kind = FrameReady
	case "nosub":
		f.Kind = FrameNoSub
	default:
		f.Kind = FrameUnknown
	}

	return f, nil
}

// StreamRoomMessages is the single subscription that covers every room the
// logged-in user is a member of.
const StreamRoomMessages = "stream-room-messages"

// SentinelMyMessages parameterizes StreamRoomMessages. It is a placeholder,
// not a real room: events whose room id equals it must be discarded.
const SentinelMyMessages = "__my_messages__"

// ConnectRequest builds the protocol handshake sent right after the socket opens.
func ConnectRequest() ([]byte, error) {
	return json.Marshal(map[string]any{
		"msg":     "connect",
		"version": "1",
		"support": []string{"1"},
	})
}

// LoginRequest builds a resume-token login method call.
func LoginRequest(id, token string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"msg":    "method",
		"method": "login",
		"id":     id,
		"params": []any{map[string]string{"resume": token}},
	})
}

// SubscribeRequest builds a stream subscription frame.
func SubscribeRequest(id, stream, event string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"msg":    "sub",
		"id":     id,
		"name":   stream,
		"params": []any{event, false},
	})
}

// PongReply answers a server keepalive ping, echoing its id.
func PongReply(id string) ([]byte, error) {
	m := map[string]string{"msg": "pong"}
	if id != "" {
		m["id"] = id
	}
	return json.Marshal(m)
}

// PingRequest builds a client-initiated keepalive ping.
func PingRequest(id string) ([]byte, error) {
	return json.Marshal(map[string]string{"msg": "ping", "id": id})
}
