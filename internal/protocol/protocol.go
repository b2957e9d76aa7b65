// Package protocol defines the relay wire format shared by the server and the
// reconnecting client: a symmetric {channel, data, timestamp} envelope for
// server pushes, small typed control messages from clients, and the close
// codes both sides agree on.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Channel names the logical stream an envelope belongs to.
type Channel string

const (
	ChannelHeartbeat   Channel = "heartbeat"
	ChannelData        Channel = "data"
	ChannelError       Channel = "error"
	ChannelStatus      Channel = "status"
	ChannelCelebration Channel = "celebration"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelHeartbeat, ChannelData, ChannelError, ChannelStatus, ChannelCelebration:
		return true
	}
	return false
}

// Close codes. 1000 and 1001 end a session for good; everything else makes
// the client reconnect.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseServiceRestart   = 1012
	CloseHeartbeatTimeout = 4000
)

// IsCleanClose reports whether code is a terminal, non-reconnecting close.
func IsCleanClose(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}

// Envelope is the frame every server push travels in.
type Envelope struct {
	Channel   Channel         `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope marshals data and stamps the envelope with now in unix millis.
// A json.RawMessage payload is carried through untouched.
func NewEnvelope(ch Channel, data any, now time.Time) (Envelope, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, newError(CodeMalformed, "marshal envelope data", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return Envelope{Channel: ch, Data: raw, Timestamp: now.UnixMilli()}, nil
}

// Encode renders an envelope to its JSON text frame.
func Encode(env Envelope) ([]byte, error) {
	if !env.Channel.Valid() {
		return nil, newError(CodeMalformed, "unknown channel "+strconv.Quote(string(env.Channel)), nil)
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a server frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, newError(CodeMalformed, "invalid envelope", err)
	}
	if !env.Channel.Valid() {
		return Envelope{}, newError(CodeMalformed, "unknown channel "+strconv.Quote(string(env.Channel)), nil)
	}
	return env, nil
}

// MessageType discriminates client control messages.
type MessageType string

const (
	TypeInit        MessageType = "init"
	TypePong        MessageType = "pong"
	TypeCelebration MessageType = "celebration"
)

// MovieID accepts both JSON strings and numbers; browsers send either.
type MovieID string

func (m *MovieID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = MovieID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("movieId must be a string or number")
	}
	*m = MovieID(n.String())
	return nil
}

// ClientMessage is any control message a client sends.
type ClientMessage struct {
	Type      MessageType `json:"type"`
	MovieID   MovieID     `json:"movieId,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// DecodeClientMessage parses a client frame. A bare run of digits is read as
// an init for that movie id, which is what the first generation of clients
// sent.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ClientMessage{}, newError(CodeMalformed, "empty message", nil)
	}
	if isDigits(trimmed) {
		return ClientMessage{Type: TypeInit, MovieID: MovieID(trimmed)}, nil
	}

	var msg ClientMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return ClientMessage{}, newError(CodeMalformed, "invalid JSON message", err)
	}
	switch msg.Type {
	case TypeInit, TypePong, TypeCelebration:
		return msg, nil
	case "":
		return ClientMessage{}, newError(CodeMalformed, "missing message type", nil)
	default:
		return ClientMessage{}, newError(CodeUnknownType, "unknown message type "+strconv.Quote(string(msg.Type)), nil)
	}
}

// EncodeClientMessage renders a client control message.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(b) > 0
}
