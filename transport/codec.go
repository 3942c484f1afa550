package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mtpline/mtpline/types/bin"
)

// MaxPacketSize is the largest wire message either side may send.
const MaxPacketSize = 16 * 1024 * 1024

// intermediateMagic announces the intermediate framing mode right after
// the TCP connection opens.
const intermediateMagic uint32 = 0xeeeeeeee

// quickAckFlag marks a 4-byte frame header as a quick acknowledgment
// instead of a length.
const quickAckFlag uint32 = 1 << 31

// IntermediateCodec implements the MTProto "intermediate" wire format:
// every message is a 4-byte little-endian length followed by that many
// bytes. A header word with the high bit set is a quick acknowledgment,
// not a length. Inside a message, the first 8 bytes are the auth key id
// (zero for plaintext packets) and the rest is the payload; a message
// of exactly 4 bytes holding a negative value is a server error code.
type IntermediateCodec struct{}

var _ TransportRead = IntermediateCodec{}
var _ TransportWrite = IntermediateCodec{}

// Magic returns the mode announcement bytes to send once per connection.
func (IntermediateCodec) Magic() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], intermediateMagic)
	return b[:]
}

// WriteFrame frames one wire message onto w. It does not flush.
func (IntermediateCodec) WriteFrame(w *bufio.Writer, message []byte) error {
	if len(message) > MaxPacketSize {
		return failedError(fmt.Sprintf("message of %d bytes exceeds the %d byte limit", len(message), MaxPacketSize), nil)
	}
	if err := bin.WriteUint32(w, uint32(len(message))); err != nil {
		return socketError("writing frame length", err)
	}
	if _, err := w.Write(message); err != nil {
		return socketError("writing frame body", err)
	}
	return nil
}

// ReadFrame reads one length-delimited wire message from r. A quick-ack
// header is returned as-is with a nil message.
func (IntermediateCodec) ReadFrame(r *bufio.Reader) (message []byte, quickAck uint32, err error) {
	head, err := bin.ReadUint32(r)
	if err != nil {
		return nil, 0, socketError("reading frame header", err)
	}

	if head&quickAckFlag != 0 {
		return nil, head, nil
	}

	if head > MaxPacketSize {
		return nil, 0, failedError(fmt.Sprintf("frame of %d bytes exceeds the %d byte limit", head, MaxPacketSize), nil)
	}

	message = make([]byte, head)
	if _, err := io.ReadFull(r, message); err != nil {
		return nil, 0, socketError("reading frame body", err)
	}
	return message, 0, nil
}

// WritePacket builds the message body: the 8-byte key id (zero in
// no-crypto mode) followed by the payload. Encryption of the payload, when
// a key is set, happens upstream; the codec only lays out the header.
func (IntermediateCodec) WritePacket(payload []byte, key *AuthKey, info PacketInfo) ([]byte, error) {
	var keyID uint64
	if !info.NoCrypto {
		if key == nil || key.IsZero() {
			return nil, failedError("crypto mode requires an auth key", nil)
		}
		keyID = key.ID()
	}

	message := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(message[:8], keyID)
	copy(message[8:], payload)

	if len(message) > MaxPacketSize {
		return nil, failedError(fmt.Sprintf("packet of %d bytes exceeds the %d byte limit", len(message), MaxPacketSize), nil)
	}
	return message, nil
}

// ReadPacket decodes one message body. Anything under 16 bytes can only
// be a control message (nop, error code, quick ack); larger messages are
// packets whose first 8 bytes name the auth key (zero means plaintext).
// A key id mismatch is an error, never silently accepted.
func (IntermediateCodec) ReadPacket(message []byte, key *AuthKey, info *PacketInfo) (ReadResult, error) {
	if len(message) < 16 {
		if res, ok := checkSpecialMessage(message); ok {
			return res, nil
		}
		return ReadResult{}, failedError(fmt.Sprintf("message of %d bytes is too small for a packet", len(message)), nil)
	}

	keyID := binary.LittleEndian.Uint64(message[:8])
	if err := checkKeyID(keyID, key, info); err != nil {
		return ReadResult{}, err
	}
	return packetResult(message[8:]), nil
}

// WriteFramedPacket frames one packet onto w: the length word, the 8-byte
// key id, then the payload. It does not flush. Returns the number of
// bytes framed.
func (IntermediateCodec) WriteFramedPacket(w *bufio.Writer, payload []byte, key *AuthKey, info PacketInfo) (int, error) {
	var keyID uint64
	if !info.NoCrypto {
		if key == nil || key.IsZero() {
			return 0, failedError("crypto mode requires an auth key", nil)
		}
		keyID = key.ID()
	}

	size := 8 + len(payload)
	if size > MaxPacketSize {
		return 0, failedError(fmt.Sprintf("packet of %d bytes exceeds the %d byte limit", size, MaxPacketSize), nil)
	}

	if err := bin.WriteUint32(w, uint32(size)); err != nil {
		return 0, socketError("writing frame length", err)
	}
	if err := bin.WriteUint64(w, keyID); err != nil {
		return 0, socketError("writing key id", err)
	}
	if _, err := w.Write(payload); err != nil {
		return 0, socketError("writing packet payload", err)
	}
	return 4 + size, nil
}

// ReadFramedPacket reads one framed message from r and decodes it. Packet
// payloads stream past the key id word without buffering the whole frame;
// short control messages are read into memory first. Returns the number
// of bytes consumed from r.
func (c IntermediateCodec) ReadFramedPacket(r *bufio.Reader, key *AuthKey, info *PacketInfo) (ReadResult, int, error) {
	head, err := bin.ReadUint32(r)
	if err != nil {
		return ReadResult{}, 0, socketError("reading frame header", err)
	}
	if head&quickAckFlag != 0 {
		return quickAckResult(head &^ quickAckFlag), 4, nil
	}
	if head > MaxPacketSize {
		return ReadResult{}, 4, failedError(fmt.Sprintf("frame of %d bytes exceeds the %d byte limit", head, MaxPacketSize), nil)
	}

	total := 4 + int(head)
	if head < 16 {
		message := make([]byte, head)
		if _, err := io.ReadFull(r, message); err != nil {
			return ReadResult{}, 4, socketError("reading frame body", err)
		}
		res, err := c.ReadPacket(message, key, info)
		return res, total, err
	}

	keyID, err := bin.ReadUint64(r)
	if err != nil {
		return ReadResult{}, 4, socketError("reading key id", err)
	}
	payload := make([]byte, head-8)
	if _, err := io.ReadFull(r, payload); err != nil {
		return ReadResult{}, 12, socketError("reading packet payload", err)
	}
	if err := checkKeyID(keyID, key, info); err != nil {
		return ReadResult{}, total, err
	}
	return packetResult(payload), total, nil
}

// checkKeyID validates an observed auth key id against the configured key
// and records what it saw in info.
func checkKeyID(keyID uint64, key *AuthKey, info *PacketInfo) error {
	info.AuthKeyID = keyID

	if keyID == 0 {
		info.NoCrypto = true
		return nil
	}

	info.NoCrypto = false
	if key == nil || key.IsZero() {
		return failedError("encrypted packet but no auth key configured", nil)
	}
	if keyID != key.ID() {
		return failedError(fmt.Sprintf("key id mismatch: got %016x want %016x", keyID, key.ID()), nil)
	}
	return nil
}

// checkSpecialMessage recognizes the short control messages the server
// may send in place of a packet: a zero word is a nop, -1 followed by a
// token is a quick ack, any other negative word is an error code.
func checkSpecialMessage(message []byte) (ReadResult, bool) {
	if len(message) < 4 {
		return ReadResult{}, false
	}

	code := int32(binary.LittleEndian.Uint32(message[:4]))

	if code == 0 {
		return nopResult(), true
	}
	if code == -1 && len(message) >= 8 {
		return quickAckResult(binary.LittleEndian.Uint32(message[4:8])), true
	}
	if code < 0 {
		return errorResult(code), true
	}
	return ReadResult{}, false
}
