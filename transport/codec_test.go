package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthKey() AuthKey {
	var raw [AuthKeyLen]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	return MakeAuthKey(raw)
}

func TestCodecFrameRoundTrip(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	w := bufio.NewWriter(&buf)
	require.NoError(t, codec.WriteFrame(w, []byte("hello mtproto")))
	require.NoError(t, w.Flush())

	// 4-byte little-endian length prefix.
	assert.Equal(t, uint32(13), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	msg, ack, err := codec.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Zero(t, ack)
	assert.Equal(t, []byte("hello mtproto"), msg)
}

func TestCodecFrameQuickAck(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	token := uint32(0x1234) | quickAckFlag
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], token)
	buf.Write(head[:])

	msg, ack, err := codec.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, token, ack)
}

func TestCodecFrameTooLarge(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], MaxPacketSize+1)
	buf.Write(head[:])

	_, _, err := codec.ReadFrame(bufio.NewReader(&buf))
	require.Error(t, err)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindFailed, ce.Kind)
}

func TestCodecPacketRoundTripNoCrypto(t *testing.T) {
	var codec IntermediateCodec

	payload := []byte("plaintext handshake data")
	msg, err := codec.WritePacket(payload, nil, PacketInfo{NoCrypto: true})
	require.NoError(t, err)

	// Plaintext packets carry key id zero.
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(msg[:8]))

	var info PacketInfo
	res, err := codec.ReadPacket(msg, nil, &info)
	require.NoError(t, err)
	assert.Equal(t, ReadPacket, res.Kind)
	assert.Equal(t, payload, res.Packet)
	assert.True(t, info.NoCrypto)
	assert.Equal(t, uint64(0), info.AuthKeyID)
}

func TestCodecPacketRoundTripCrypto(t *testing.T) {
	var codec IntermediateCodec
	key := testAuthKey()

	payload := []byte("ciphertext goes here....")
	msg, err := codec.WritePacket(payload, &key, PacketInfo{})
	require.NoError(t, err)
	assert.Equal(t, key.ID(), binary.LittleEndian.Uint64(msg[:8]))

	var info PacketInfo
	res, err := codec.ReadPacket(msg, &key, &info)
	require.NoError(t, err)
	assert.Equal(t, ReadPacket, res.Kind)
	assert.Equal(t, payload, res.Packet)
	assert.False(t, info.NoCrypto)
	assert.Equal(t, key.ID(), info.AuthKeyID)
}

func TestCodecWriteCryptoRequiresKey(t *testing.T) {
	var codec IntermediateCodec

	_, err := codec.WritePacket([]byte("data"), nil, PacketInfo{})
	assert.Error(t, err)

	var zero AuthKey
	_, err = codec.WritePacket([]byte("data"), &zero, PacketInfo{})
	assert.Error(t, err)
}

func TestCodecReadKeyMismatch(t *testing.T) {
	var codec IntermediateCodec
	key := testAuthKey()

	msg, err := codec.WritePacket([]byte("ciphertext goes here...."), &key, PacketInfo{})
	require.NoError(t, err)

	other := testAuthKey()
	other[0] ^= 0xff

	var info PacketInfo
	_, err = codec.ReadPacket(msg, &other, &info)
	assert.Error(t, err)
}

func TestCodecReadSpecialMessages(t *testing.T) {
	var codec IntermediateCodec
	var info PacketInfo

	le32 := func(v int32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		return b[:]
	}

	// Zero word is a nop.
	res, err := codec.ReadPacket(le32(0), nil, &info)
	require.NoError(t, err)
	assert.Equal(t, ReadNop, res.Kind)

	// A negative word is a server error code.
	res, err = codec.ReadPacket(le32(-404), nil, &info)
	require.NoError(t, err)
	assert.Equal(t, ReadError, res.Kind)
	assert.Equal(t, int32(-404), res.ErrorCode)

	// -1 followed by a token is a quick ack.
	msg := append(le32(-1), le32(0x0503)...)
	res, err = codec.ReadPacket(msg, nil, &info)
	require.NoError(t, err)
	assert.Equal(t, ReadQuickAck, res.Kind)
	assert.Equal(t, uint32(0x0503), res.QuickAck)

	// A short positive message is malformed, not a packet.
	_, err = codec.ReadPacket(le32(7), nil, &info)
	assert.Error(t, err)
}

func TestCodecMagic(t *testing.T) {
	var codec IntermediateCodec
	assert.Equal(t, []byte{0xee, 0xee, 0xee, 0xee}, codec.Magic())
}

func TestCodecFramedPacketRoundTrip(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	key := testAuthKey()
	payload := []byte("streamed encrypted payload")

	w := bufio.NewWriter(&buf)
	n, err := codec.WriteFramedPacket(w, payload, &key, PacketInfo{})
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	// Length word, key id word, payload.
	assert.Equal(t, 4+8+len(payload), n)
	assert.Equal(t, n, buf.Len())
	assert.Equal(t, uint32(8+len(payload)), binary.LittleEndian.Uint32(buf.Bytes()[:4]))
	assert.Equal(t, key.ID(), binary.LittleEndian.Uint64(buf.Bytes()[4:12]))

	var info PacketInfo
	res, rn, err := codec.ReadFramedPacket(bufio.NewReader(&buf), &key, &info)
	require.NoError(t, err)
	assert.Equal(t, n, rn)
	assert.Equal(t, ReadPacket, res.Kind)
	assert.Equal(t, payload, res.Packet)
	assert.Equal(t, key.ID(), info.AuthKeyID)
	assert.False(t, info.NoCrypto)
}

func TestCodecFramedPacketQuickAck(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(0xbeef)|quickAckFlag)
	buf.Write(head[:])

	var info PacketInfo
	res, n, err := codec.ReadFramedPacket(bufio.NewReader(&buf), nil, &info)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, ReadQuickAck, res.Kind)
	assert.Equal(t, uint32(0xbeef), res.QuickAck)
}

func TestCodecFramedPacketControlMessage(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	// A framed 4-byte negative word is a server error code.
	var msg [8]byte
	binary.LittleEndian.PutUint32(msg[:4], 4)
	binary.LittleEndian.PutUint32(msg[4:], uint32(0xfffffe6c)) // -404
	buf.Write(msg[:])

	var info PacketInfo
	res, n, err := codec.ReadFramedPacket(bufio.NewReader(&buf), nil, &info)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, ReadError, res.Kind)
	assert.Equal(t, int32(-404), res.ErrorCode)
}

func TestCodecFramedPacketKeyMismatch(t *testing.T) {
	var codec IntermediateCodec
	var buf bytes.Buffer

	key := testAuthKey()
	w := bufio.NewWriter(&buf)
	_, err := codec.WriteFramedPacket(w, []byte("sixteen or more bytes"), &key, PacketInfo{})
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	other := MakeAuthKey([AuthKeyLen]byte{1: 0xff})
	var info PacketInfo
	_, _, err = codec.ReadFramedPacket(bufio.NewReader(&buf), &other, &info)
	require.Error(t, err)
	assert.Equal(t, key.ID(), info.AuthKeyID)
}
