package protocol

import (
	"bytes"
	"encoding/json"
)

// Envelope is the wire shape of every frame.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Frame is a decoded client frame: one of Heartbeat, Identify, Resume or Unknown.
type Frame interface {
	Op() int
	frame()
}

// Heartbeat is sent by the client to keep the session alive.
type Heartbeat struct {
	// Seq is the last sequence number the client saw, carried as-is.
	Seq json.RawMessage
}

// Identify starts a new session. Its payload is not interpreted yet.
type Identify struct {
	Data json.RawMessage
}

// Resume continues a previous session. Its payload is not interpreted yet.
type Resume struct {
	Data json.RawMessage
}

// Unknown is a well-formed frame with an opcode the server does not accept.
type Unknown struct {
	Opcode int
	Data   json.RawMessage
}

func (Heartbeat) Op() int { return int(OpHeartbeat) }
func (Identify) Op() int  { return int(OpIdentify) }
func (Resume) Op() int    { return int(OpResume) }
func (u Unknown) Op() int { return u.Opcode }

func (Heartbeat) frame() {}
func (Identify) frame()  {}
func (Resume) frame()    {}
func (Unknown) frame()   {}

type rawEnvelope struct {
	Op *int            `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Decode parses a text frame. Anything that is not a JSON object with an
// integer "op" field fails with ErrDecode. Server-to-client opcodes sent by a
// client decode as Unknown.
func Decode(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrDecode
	}

	var env rawEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, ErrDecode
	}
	if env.Op == nil {
		return nil, ErrDecode
	}

	d := env.D
	if bytes.Equal(d, []byte("null")) {
		d = nil
	}

	switch Opcode(*env.Op) {
	case OpHeartbeat:
		return Heartbeat{Seq: d}, nil
	case OpIdentify:
		return Identify{Data: d}, nil
	case OpResume:
		return Resume{Data: d}, nil
	default:
		return Unknown{Opcode: *env.Op, Data: d}, nil
	}
}

// HelloPayload is the body of the Hello frame.
type HelloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// EncodeHello returns the Hello frame advertising the heartbeat interval in
// milliseconds.
func EncodeHello(heartbeatIntervalMs int64) ([]byte, error) {
	d, err := json.Marshal(HelloPayload{HeartbeatInterval: heartbeatIntervalMs})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Op: OpHello, D: d})
}

// EncodeHeartbeatAck returns the frame acknowledging a heartbeat.
func EncodeHeartbeatAck() []byte {
	return []byte(`{"op":11}`)
}

// EncodeHeartbeat returns a client heartbeat frame.
func EncodeHeartbeat() []byte {
	return []byte(`{"op":1}`)
}
