package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/mtpline/mtpline/stats"
)

const proxyUserAgent = "mtpline/1.0"

// HTTPProxyTransport tunnels a TCPTransport through an HTTP CONNECT
// proxy. After the handshake succeeds, every operation delegates to the
// inner transport over the tunneled socket.
type HTTPProxyTransport struct {
	proxy  Proxy
	target DialOpts

	state stateVar
	inner *TCPTransport

	log     *slog.Logger
	metrics *stats.Metrics
}

func NewHTTPProxyTransport(proxy Proxy, target DialOpts) *HTTPProxyTransport {
	target.SetDefaults()
	return &HTTPProxyTransport{
		proxy:  proxy,
		target: target,
		log:    slog.With("transport", "http_proxy", "proxy", proxy.HostPort(), "endpoint", target.HostPort()),
	}
}

func (t *HTTPProxyTransport) WithMetrics(m *stats.Metrics) *HTTPProxyTransport {
	t.metrics = m
	return t
}

func (t *HTTPProxyTransport) State() ConnectionState {
	return t.state.get()
}

// Connect dials the proxy, performs the CONNECT handshake and brings up
// the inner transport over the tunnel. A failed handshake closes the
// socket; the tunnel is never used half-established.
func (t *HTTPProxyTransport) Connect(ctx context.Context) error {
	if !t.state.transitionTo(StateConnecting) {
		return failedError("transport already connected or closed", nil)
	}

	if err := t.proxy.Validate(); err != nil {
		t.state.transitionTo(StateClosed)
		return wrapProxy(err.(*ProxyError))
	}
	if t.proxy.Type != ProxyHTTPTCP && t.proxy.Type != ProxyHTTPCaching {
		t.state.transitionTo(StateClosed)
		return wrapProxy(newProxyError(ProxyErrInvalidType, "expected an http proxy, got %s", t.proxy.Type))
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

	if err := t.connectTunnel(conn); err != nil {
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

// connectTunnel issues the CONNECT request and requires a 200 before the
// socket is considered a tunnel.
func (t *HTTPProxyTransport) connectTunnel(conn net.Conn) error {
	deadline := time.Now().Add(t.target.ConnectTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return socketError("setting handshake deadline", err)
	}
	defer conn.SetDeadline(time.Time{})

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", t.target.HostPort())
	fmt.Fprintf(&req, "Host: %s\r\n", t.target.HostPort())
	fmt.Fprintf(&req, "User-Agent: %s\r\n", proxyUserAgent)
	req.WriteString("Proxy-Connection: keep-alive\r\n")
	if t.proxy.HasCredentials() {
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", basicAuth(t.proxy.User.Val, t.proxy.Password.Val))
	}
	req.WriteString("\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		return mapNetError("writing CONNECT request", err)
	}

	br := bufio.NewReader(conn)
	statusLine, err := readCRLFLine(br)
	if err != nil {
		return err
	}

	status, err := parseStatusLine(statusLine)
	if err != nil {
		return wrapProxy(newProxyError(ProxyErrConnectionFailed, "malformed CONNECT response %q", statusLine))
	}

	switch {
	case status == 200:
	case status == 407:
		return wrapProxy(newProxyError(ProxyErrAuthenticationFailed, "proxy requires authentication"))
	default:
		return wrapProxy(newProxyError(ProxyErrConnectionFailed, "CONNECT rejected with status %d", status))
	}

	// Drain the remaining handshake headers up to the blank line.
	for {
		line, err := readCRLFLine(br)
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
	}

	if br.Buffered() > 0 {
		return wrapProxy(newProxyError(ProxyErrConnectionFailed, "proxy sent data before the tunnel was requested"))
	}
	return nil
}

func (t *HTTPProxyTransport) WritePacket(payload []byte, key *AuthKey, info PacketInfo) error {
	if t.state.get() != StateReady {
		return failedError("transport is not ready", nil)
	}
	return t.inner.WritePacket(payload, key, info)
}

func (t *HTTPProxyTransport) ReadPacket(key *AuthKey, info *PacketInfo) (ReadResult, error) {
	if t.state.get() != StateReady {
		return ReadResult{}, failedError("transport is not ready", nil)
	}
	return t.inner.ReadPacket(key, info)
}

func (t *HTTPProxyTransport) Close() error {
	if !t.state.transitionTo(StateClosed) {
		return nil
	}
	if t.inner == nil {
		return nil
	}
	return t.inner.Close()
}

// readCRLFLine reads one CRLF-terminated line, bounded like the rest of
// the header parsing.
func readCRLFLine(br *bufio.Reader) (string, error) {
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", mapNetError("reading handshake response", err)
		}
		line = append(line, b)
		if len(line) > maxHeaderBytes {
			return "", failedError(fmt.Sprintf("handshake line exceeds %d bytes", maxHeaderBytes), nil)
		}
		if len(line) >= 2 && line[len(line)-2] == '\r' && line[len(line)-1] == '\n' {
			return string(line[:len(line)-2]), nil
		}
	}
}
