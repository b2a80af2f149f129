// Package protocol implements the gateway control protocol: the JSON envelope
// exchanged over the WebSocket, its opcodes and the close codes that end a
// session.
package protocol

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpHeartbeat    Opcode = 1
	OpIdentify     Opcode = 2
	OpResume       Opcode = 6
	OpHello        Opcode = 10
	OpHeartbeatAck Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpResume:
		return "resume"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}
