package transport

import "fmt"

// PacketType distinguishes ordinary client-server packets from
// end-to-end ones, which carry a different header layout.
type PacketType int

const (
	PacketCommon PacketType = iota
	PacketEndToEnd
)

func (t PacketType) String() string {
	switch t {
	case PacketCommon:
		return "common"
	case PacketEndToEnd:
		return "end_to_end"
	default:
		return fmt.Sprintf("PacketType(%d)", int(t))
	}
}

// PacketInfo carries packet metadata across the read/write boundary.
// Writers consume it to choose the header layout; readers fill it in.
type PacketInfo struct {
	// NoCrypto selects the plaintext handshake layout (auth key id 0).
	NoCrypto bool

	Type PacketType

	// AuthKeyID is the key id observed on read.
	AuthKeyID uint64
}

// ReadResultKind tags the outcome of reading one wire message.
type ReadResultKind int

const (
	// ReadNop means the message carried nothing actionable.
	ReadNop ReadResultKind = iota
	// ReadPacket means Packet holds a complete payload.
	ReadPacket
	// ReadQuickAck means QuickAck holds a server acknowledgment token.
	ReadQuickAck
	// ReadError means ErrorCode holds a transport-level error from the
	// server (always negative).
	ReadError
)

func (k ReadResultKind) String() string {
	switch k {
	case ReadNop:
		return "nop"
	case ReadPacket:
		return "packet"
	case ReadQuickAck:
		return "quick_ack"
	case ReadError:
		return "error"
	default:
		return fmt.Sprintf("ReadResultKind(%d)", int(k))
	}
}

// ReadResult is what a TransportRead produced from one wire message.
type ReadResult struct {
	Kind      ReadResultKind
	Packet    []byte
	QuickAck  uint32
	ErrorCode int32
}

func nopResult() ReadResult            { return ReadResult{Kind: ReadNop} }
func packetResult(p []byte) ReadResult { return ReadResult{Kind: ReadPacket, Packet: p} }
func quickAckResult(a uint32) ReadResult {
	return ReadResult{Kind: ReadQuickAck, QuickAck: a}
}
func errorResult(code int32) ReadResult { return ReadResult{Kind: ReadError, ErrorCode: code} }

// TransportRead decodes one deframed wire message into a payload or a
// control signal. key is nil in no-crypto mode. Reader and writer of one
// connection must agree on key and no-crypto configuration.
type TransportRead interface {
	ReadPacket(message []byte, key *AuthKey, info *PacketInfo) (ReadResult, error)
}

// TransportWrite encodes a payload into the wire message body, symmetric
// with TransportRead.
type TransportWrite interface {
	WritePacket(payload []byte, key *AuthKey, info PacketInfo) ([]byte, error)
}
