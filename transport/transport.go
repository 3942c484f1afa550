// Package transport moves framed MTProto packets over heterogeneous
// carriers: plain TCP, HTTP POST, and HTTP CONNECT or SOCKS5 tunnels.
// Packet encoding is factored out from carrier I/O so every carrier
// shares one codec.
package transport

import "context"

// Transport is the carrier-agnostic surface. Implementations never retry
// internally and put an explicit deadline on every I/O call.
type Transport interface {
	Connect(ctx context.Context) error
	WritePacket(payload []byte, key *AuthKey, info PacketInfo) error
	ReadPacket(key *AuthKey, info *PacketInfo) (ReadResult, error)
	State() ConnectionState
	Close() error
}

var (
	_ Transport = (*TCPTransport)(nil)
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*HTTPProxyTransport)(nil)
	_ Transport = (*Socks5Transport)(nil)
)

// ForProxy picks the transport implementation matching the proxy
// configuration. A ProxyNone config yields a plain TCP transport.
func ForProxy(proxy Proxy, target DialOpts) (Transport, error) {
	if err := proxy.Validate(); err != nil {
		return nil, err
	}

	switch proxy.Type {
	case ProxyNone:
		return NewTCPTransport(target), nil
	case ProxySocks5:
		return NewSocks5Transport(proxy, target), nil
	case ProxyHTTPTCP, ProxyHTTPCaching:
		return NewHTTPProxyTransport(proxy, target), nil
	case ProxyMTProto:
		return nil, newProxyError(ProxyErrUnsupportedType, "mtproto proxies require obfuscated framing, which this client does not implement")
	default:
		return nil, newProxyError(ProxyErrInvalidType, "unknown proxy type %d", int(proxy.Type))
	}
}
