package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/mtpline/mtpline/stats"
)

const (
	socksVersion     = 0x05
	socksAuthVersion = 0x01

	socksMethodNone         = 0x00
	socksMethodUserPass     = 0x02
	socksMethodUnacceptable = 0xff

	socksCmdConnect = 0x01

	socksAddrIPv4   = 0x01
	socksAddrDomain = 0x03
	socksAddrIPv6   = 0x04
)

// socks5ReplyMessage maps RFC 1928 reply codes to readable failures.
func socks5ReplyMessage(code byte) string {
	switch code {
	case 0x01:
		return "general SOCKS server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return fmt.Sprintf("unknown reply code %#02x", code)
	}
}

// Socks5Transport tunnels a TCPTransport through a SOCKS5 proxy,
// negotiating username/password authentication when the proxy config
// carries credentials.
type Socks5Transport struct {
	proxy  Proxy
	target DialOpts

	state stateVar
	inner *TCPTransport

	log     *slog.Logger
	metrics *stats.Metrics
}

func NewSocks5Transport(proxy Proxy, target DialOpts) *Socks5Transport {
	target.SetDefaults()
	return &Socks5Transport{
		proxy:  proxy,
		target: target,
		log:    slog.With("transport", "socks5", "proxy", proxy.HostPort(), "endpoint", target.HostPort()),
	}
}

func (t *Socks5Transport) WithMetrics(m *stats.Metrics) *Socks5Transport {
	t.metrics = m
	return t
}

func (t *Socks5Transport) State() ConnectionState {
	return t.state.get()
}

func (t *Socks5Transport) Connect(ctx context.Context) error {
	if !t.state.transitionTo(StateConnecting) {
		return failedError("transport already connected or closed", nil)
	}

	if err := t.proxy.Validate(); err != nil {
		t.state.transitionTo(StateClosed)
		return wrapProxy(err.(*ProxyError))
	}
	if t.proxy.Type != ProxySocks5 {
		t.state.transitionTo(StateClosed)
		return wrapProxy(newProxyError(ProxyErrInvalidType, "expected a socks5 proxy, got %s", t.proxy.Type))
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.target.ConnectTimeout)
	defer cancel()

	conn, err := dialTCP(dialCtx, DialOpts{
		Host:           t.proxy.Server,
		Port:           t.proxy.Port,
		ConnectTimeout: t.target.ConnectTimeout,
	})
	if err != nil {
		t.state.transitionTo(StateClosed)
		return err
	}

	if err := t.handshake(conn); err != nil {
		conn.Close()
		t.state.transitionTo(StateClosed)
		return err
	}

	t.inner = NewTCPTransportFromConn(conn, t.target).WithMetrics(t.metrics)
	if err := t.inner.Connect(ctx); err != nil {
		t.state.transitionTo(StateClosed)
		return err
	}

	t.state.transitionTo(StateReady)
	t.log.Debug("tunnel established")
	return nil
}

// handshake runs the RFC 1928 negotiation: method greeting, optional
// RFC 1929 username/password subnegotiation, then CONNECT.
func (t *Socks5Transport) handshake(conn net.Conn) error {
	deadline := time.Now().Add(t.target.ConnectTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return socketError("setting handshake deadline", err)
	}
	defer conn.SetDeadline(time.Time{})

	greeting := []byte{socksVersion, 1, socksMethodNone}
	if t.proxy.HasCredentials() {
		greeting = []byte{socksVersion, 2, socksMethodNone, socksMethodUserPass}
	}
	if _, err := conn.Write(greeting); err != nil {
		return mapNetError("writing greeting", err)
	}

	var choice [2]byte
	if _, err := io.ReadFull(conn, choice[:]); err != nil {
		return mapNetError("reading greeting response", err)
	}
	if choice[0] != socksVersion {
		return wrapProxy(newProxyError(ProxyErrConnectionFailed, "proxy speaks version %#02x, not socks5", choice[0]))
	}

	switch choice[1] {
	case socksMethodNone:
	case socksMethodUserPass:
		if !t.proxy.HasCredentials() {
			return wrapProxy(newProxyError(ProxyErrAuthenticationFailed, "proxy demands credentials but none are configured"))
		}
		if err := t.authenticate(conn); err != nil {
			return err
		}
	case socksMethodUnacceptable:
		return wrapProxy(newProxyError(ProxyErrAuthenticationFailed, "proxy rejected all offered auth methods"))
	default:
		return wrapProxy(newProxyError(ProxyErrUnsupportedType, "proxy chose unsupported auth method %#02x", choice[1]))
	}

	return t.connectTarget(conn)
}

// authenticate runs the RFC 1929 username/password subnegotiation.
func (t *Socks5Transport) authenticate(conn net.Conn) error {
	user, pass := t.proxy.User.Val, t.proxy.Password.Val
	if len(user) > 255 || len(pass) > 255 {
		return wrapProxy(newProxyError(ProxyErrAuthenticationFailed, "credentials exceed 255 bytes"))
	}

	msg := make([]byte, 0, 3+len(user)+len(pass))
	msg = append(msg, socksAuthVersion, byte(len(user)))
	msg = append(msg, user...)
	msg = append(msg, byte(len(pass)))
	msg = append(msg, pass...)

	if _, err := conn.Write(msg); err != nil {
		return mapNetError("writing credentials", err)
	}

	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return mapNetError("reading auth response", err)
	}
	if resp[1] != 0x00 {
		return wrapProxy(newProxyError(ProxyErrAuthenticationFailed, "proxy rejected the credentials"))
	}
	return nil
}

// connectTarget issues the CONNECT command for the target endpoint,
// using IPv4/IPv6 addressing when the host parses as an address and
// domain addressing otherwise.
func (t *Socks5Transport) connectTarget(conn net.Conn) error {
	req := []byte{socksVersion, socksCmdConnect, 0x00}

	if addr, err := netip.ParseAddr(t.target.Host); err == nil {
		addr = addr.Unmap()
		if addr.Is4() {
			b := addr.As4()
			req = append(req, socksAddrIPv4)
			req = append(req, b[:]...)
		} else {
			b := addr.As16()
			req = append(req, socksAddrIPv6)
			req = append(req, b[:]...)
		}
	} else {
		if len(t.target.Host) > 255 {
			return wrapProxy(newProxyError(ProxyErrInvalidAddress, "target host exceeds 255 bytes"))
		}
		req = append(req, socksAddrDomain, byte(len(t.target.Host)))
		req = append(req, t.target.Host...)
	}
	req = append(req, byte(t.target.Port>>8), byte(t.target.Port))

	if _, err := conn.Write(req); err != nil {
		return mapNetError("writing connect request", err)
	}

	var head [4]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return mapNetError("reading connect response", err)
	}
	if head[0] != socksVersion {
		return wrapProxy(newProxyError(ProxyErrConnectionFailed, "proxy speaks version %#02x, not socks5", head[0]))
	}
	if head[1] != 0x00 {
		return wrapProxy(newProxyError(ProxyErrConnectionFailed, "connect failed: %s", socks5ReplyMessage(head[1])))
	}

	// Skip the bound address the proxy reports.
	var boundLen int
	switch head[3] {
	case socksAddrIPv4:
		boundLen = 4
	case socksAddrIPv6:
		boundLen = 16
	case socksAddrDomain:
		var n [1]byte
		if _, err := io.ReadFull(conn, n[:]); err != nil {
			return mapNetError("reading bound address", err)
		}
		boundLen = int(n[0])
	default:
		return wrapProxy(newProxyError(ProxyErrInvalidAddress, "proxy reported unknown address type %#02x", head[3]))
	}
	if _, err := io.CopyN(io.Discard, conn, int64(boundLen)+2); err != nil {
		return mapNetError("reading bound address", err)
	}
	return nil
}

func (t *Socks5Transport) WritePacket(payload []byte, key *AuthKey, info PacketInfo) error {
	if t.state.get() != StateReady {
		return failedError("transport is not ready", nil)
	}
	return t.inner.WritePacket(payload, key, info)
}

func (t *Socks5Transport) ReadPacket(key *AuthKey, info *PacketInfo) (ReadResult, error) {
	if t.state.get() != StateReady {
		return ReadResult{}, failedError("transport is not ready", nil)
	}
	return t.inner.ReadPacket(key, info)
}

func (t *Socks5Transport) Close() error {
	if !t.state.transitionTo(StateClosed) {
		return nil
	}
	if t.inner == nil {
		return nil
	}
	return t.inner.Close()
}
