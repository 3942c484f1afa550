package transport

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"go4.org/mem"
)

// AuthKeyLen is the size of an MTProto authorization key.
const AuthKeyLen = 256

const authKeyHexPrefix = "authkey:"

// AuthKey is the 256-byte shared authorization key negotiated with a DC.
//
// The zero value means "no key": transports treat it as no-crypto mode.
type AuthKey [AuthKeyLen]byte

// MakeAuthKey parses a 256-byte raw value as an AuthKey.
//
// This should be used only when deserializing an AuthKey from a binary
// protocol.
func MakeAuthKey(raw [AuthKeyLen]byte) AuthKey {
	return raw
}

func (k AuthKey) Debug() string {
	return fmt.Sprintf("authkey(id=%016x)", k.ID())
}

func (k AuthKey) HexString() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether k is the zero value.
func (k AuthKey) IsZero() bool {
	return k == AuthKey{}
}

// ID returns the key identifier sent on the wire: the low 8 bytes of the
// key's SHA-1 digest, read little-endian.
func (k AuthKey) ID() uint64 {
	sum := sha1.Sum(k[:])
	return binary.LittleEndian.Uint64(sum[12:20])
}

func (k AuthKey) AppendText(b []byte) ([]byte, error) {
	return appendHexKey(b, authKeyHexPrefix, k[:]), nil
}

func (k AuthKey) MarshalText() (text []byte, err error) {
	return k.AppendText(nil)
}

func (k *AuthKey) UnmarshalText(text []byte) error {
	return parseHex(k[:], mem.B(text), mem.S(authKeyHexPrefix))
}

func (k AuthKey) ToByteSlice() []byte {
	return k[:]
}

// appendHexKey appends the hex encoding of key, prefixed with prefix, to b.
func appendHexKey(b []byte, prefix string, key []byte) []byte {
	ret := append(b, prefix...)
	hexed := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(hexed, key)
	return append(ret, hexed...)
}

// parseHex decodes a prefixed hex string into out, which must be exactly
// the right size.
func parseHex(out []byte, in, prefix mem.RO) error {
	if !mem.HasPrefix(in, prefix) {
		return fmt.Errorf("key text missing %q prefix", prefix.StringCopy())
	}
	in = in.SliceFrom(prefix.Len())
	if in.Len() != len(out)*2 {
		return fmt.Errorf("key hex has the wrong size, got %d want %d", in.Len(), len(out)*2)
	}
	if _, err := hex.Decode(out, mem.Append(nil, in)); err != nil {
		return fmt.Errorf("invalid key hex: %w", err)
	}
	return nil
}
