package transport

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/mtpline/mtpline/stats"
)

// TCPTransport talks the intermediate wire format over one TCP
// connection. It is not safe for concurrent use of the same direction;
// one reader and one writer goroutine may run in parallel.
type TCPTransport struct {
	opts  DialOpts
	codec IntermediateCodec

	state stateVar
	conn  net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer

	// preDialed is set when the conn came from an outer tunnel.
	preDialed bool

	log     *slog.Logger
	metrics *stats.Metrics
}

const tcpTransportName = "tcp"

func NewTCPTransport(opts DialOpts) *TCPTransport {
	opts.SetDefaults()
	return &TCPTransport{
		opts: opts,
		log:  slog.With("transport", tcpTransportName, "endpoint", opts.HostPort()),
	}
}

// NewTCPTransportFromConn wraps an already-established connection,
// typically a proxy tunnel. Connect must still be called to announce the
// framing mode.
func NewTCPTransportFromConn(conn net.Conn, opts DialOpts) *TCPTransport {
	opts.SetDefaults()
	return &TCPTransport{
		opts:      opts,
		conn:      conn,
		preDialed: true,
		log:       slog.With("transport", tcpTransportName, "endpoint", opts.HostPort()),
	}
}

func (t *TCPTransport) WithMetrics(m *stats.Metrics) *TCPTransport {
	t.metrics = m
	return t
}

func (t *TCPTransport) State() ConnectionState {
	return t.state.get()
}

// Connect dials the endpoint (unless pre-dialed), disables Nagle and
// announces the intermediate framing mode.
func (t *TCPTransport) Connect(ctx context.Context) error {
	if !t.state.transitionTo(StateConnecting) {
		return failedError("transport already connected or closed", nil)
	}

	if !t.preDialed {
		dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
		defer cancel()

		conn, err := dialTCP(dialCtx, t.opts)
		if err != nil {
			t.state.transitionTo(StateClosed)
			return err
		}
		t.conn = conn
	}

	if tc, ok := t.conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			t.log.Debug("failed to set TCP_NODELAY", "err", err)
		}
	}

	t.br = bufio.NewReader(t.conn)
	t.bw = bufio.NewWriter(t.conn)

	if err := t.writeMagic(); err != nil {
		t.closeConn()
		return err
	}

	t.state.transitionTo(StateReady)
	t.log.Debug("connected")
	return nil
}

func (t *TCPTransport) writeMagic() error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return socketError("setting write deadline", err)
	}
	if _, err := t.bw.Write(t.codec.Magic()); err != nil {
		return mapNetError("writing transport magic", err)
	}
	if err := t.bw.Flush(); err != nil {
		return mapNetError("flushing transport magic", err)
	}
	return nil
}

// WritePacket frames and sends one payload under a write deadline.
func (t *TCPTransport) WritePacket(payload []byte, key *AuthKey, info PacketInfo) error {
	if t.state.get() != StateReady {
		return failedError("transport is not ready", nil)
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return socketError("setting write deadline", err)
	}
	n, err := t.codec.WriteFramedPacket(t.bw, payload, key, info)
	if err != nil {
		return mapNetErr(err)
	}
	if err := t.bw.Flush(); err != nil {
		return mapNetError("flushing packet", err)
	}

	t.metrics.WroteBytes(tcpTransportName, n)
	return nil
}

// ReadPacket reads one wire message under a read deadline and decodes it.
func (t *TCPTransport) ReadPacket(key *AuthKey, info *PacketInfo) (ReadResult, error) {
	if t.state.get() != StateReady {
		return ReadResult{}, failedError("transport is not ready", nil)
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout)); err != nil {
		return ReadResult{}, socketError("setting read deadline", err)
	}

	res, n, err := t.codec.ReadFramedPacket(t.br, key, info)
	t.metrics.ReadBytes(tcpTransportName, n)
	if err != nil {
		return ReadResult{}, mapNetErr(err)
	}
	return res, nil
}

func (t *TCPTransport) Close() error {
	if !t.state.transitionTo(StateClosed) {
		return nil
	}
	return t.closeConn()
}

func (t *TCPTransport) closeConn() error {
	t.state.transitionTo(StateClosed)
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return socketError("closing connection", err)
	}
	return nil
}

// mapNetError wraps a raw I/O error, surfacing deadline hits as the
// timeout kind.
func mapNetError(msg string, err error) *ConnectionError {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return timeoutError(msg, err)
	}
	return socketError(msg, err)
}

// mapNetErr re-examines an already-wrapped ConnectionError for a
// deadline cause.
func mapNetErr(err error) error {
	ce, ok := err.(*ConnectionError)
	if !ok || ce.cause == nil {
		return err
	}
	var ne net.Error
	if errors.As(ce.cause, &ne) && ne.Timeout() {
		return timeoutError(ce.Message, ce.cause)
	}
	return err
}
