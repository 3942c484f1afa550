package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mtpline/mtpline/stats"
)

const (
	httpTransportName = "http"

	// maxHeaderBytes bounds the response header block; anything bigger
	// is rejected before a single body byte is trusted.
	maxHeaderBytes = 8 * 1024

	httpContentType = "application/x-tlantic"
)

// HTTPTransport sends each packet as the body of an HTTP POST to
// <scheme>://<host>/api over a keep-alive connection, and parses the
// response by hand rather than trusting a full HTTP stack with
// attacker-controlled bytes.
type HTTPTransport struct {
	opts   DialOpts
	secure bool
	codec  IntermediateCodec

	state stateVar
	conn  net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer

	log     *slog.Logger
	metrics *stats.Metrics
}

func NewHTTPTransport(opts DialOpts, secure bool) *HTTPTransport {
	opts.SetDefaults()
	return &HTTPTransport{
		opts:   opts,
		secure: secure,
		log:    slog.With("transport", httpTransportName, "endpoint", opts.HostPort()),
	}
}

func (t *HTTPTransport) WithMetrics(m *stats.Metrics) *HTTPTransport {
	t.metrics = m
	return t
}

func (t *HTTPTransport) State() ConnectionState {
	return t.state.get()
}

func (t *HTTPTransport) Connect(ctx context.Context) error {
	if !t.state.transitionTo(StateConnecting) {
		return failedError("transport already connected or closed", nil)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	conn, err := dialTCP(dialCtx, t.opts)
	if err != nil {
		t.state.transitionTo(StateClosed)
		return err
	}

	t.conn = conn
	t.br = bufio.NewReader(conn)
	t.bw = bufio.NewWriter(conn)
	t.state.transitionTo(StateReady)
	t.log.Debug("connected")
	return nil
}

func (t *HTTPTransport) scheme() string {
	if t.secure {
		return "https"
	}
	return "http"
}

// WritePacket wraps one framed packet in a POST request.
func (t *HTTPTransport) WritePacket(payload []byte, key *AuthKey, info PacketInfo) error {
	if t.state.get() != StateReady {
		return failedError("transport is not ready", nil)
	}

	body, err := t.codec.WritePacket(payload, key, info)
	if err != nil {
		return err
	}

	var req strings.Builder
	fmt.Fprintf(&req, "POST %s://%s/api HTTP/1.1\r\n", t.scheme(), t.opts.Host)
	fmt.Fprintf(&req, "Host: %s\r\n", t.opts.Host)
	fmt.Fprintf(&req, "Content-Type: %s\r\n", httpContentType)
	fmt.Fprintf(&req, "Content-Length: %d\r\n", len(body))
	req.WriteString("Connection: keep-alive\r\n")
	req.WriteString("\r\n")

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return socketError("setting write deadline", err)
	}
	if _, err := t.bw.WriteString(req.String()); err != nil {
		return mapNetError("writing request head", err)
	}
	if _, err := t.bw.Write(body); err != nil {
		return mapNetError("writing request body", err)
	}
	if err := t.bw.Flush(); err != nil {
		return mapNetError("flushing request", err)
	}

	t.metrics.WroteBytes(httpTransportName, req.Len()+len(body))
	return nil
}

// ReadPacket parses one HTTP response: the header block (bounded, CRLFCRLF
// terminated), the status line, Content-Length, then exactly that many
// body bytes handed to the codec.
func (t *HTTPTransport) ReadPacket(key *AuthKey, info *PacketInfo) (ReadResult, error) {
	if t.state.get() != StateReady {
		return ReadResult{}, failedError("transport is not ready", nil)
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout)); err != nil {
		return ReadResult{}, socketError("setting read deadline", err)
	}

	head, err := readHeaderBlock(t.br)
	if err != nil {
		return ReadResult{}, err
	}

	status, contentLength, err := parseResponseHead(head)
	if err != nil {
		return ReadResult{}, err
	}
	if status != 200 {
		return ReadResult{}, failedError(fmt.Sprintf("server replied with status %d", status), nil)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.br, body); err != nil {
		return ReadResult{}, mapNetError("reading response body", err)
	}

	t.metrics.ReadBytes(httpTransportName, len(head)+len(body))
	return t.codec.ReadPacket(body, key, info)
}

func (t *HTTPTransport) Close() error {
	if !t.state.transitionTo(StateClosed) {
		return nil
	}
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return socketError("closing connection", err)
	}
	return nil
}

// readHeaderBlock accumulates bytes until CRLFCRLF, rejecting header
// blocks over maxHeaderBytes.
func readHeaderBlock(r *bufio.Reader) ([]byte, error) {
	var head []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, mapNetError("reading response head", err)
		}
		head = append(head, b)
		if len(head) > maxHeaderBytes {
			return nil, failedError(fmt.Sprintf("response head exceeds %d bytes", maxHeaderBytes), nil)
		}
		if len(head) >= 4 && string(head[len(head)-4:]) == "\r\n\r\n" {
			return head, nil
		}
	}
}

// parseResponseHead extracts the status code and Content-Length from a
// raw header block.
func parseResponseHead(head []byte) (status int, contentLength int, err error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return 0, 0, failedError("empty response head", nil)
	}

	status, err = parseStatusLine(lines[0])
	if err != nil {
		return 0, 0, err
	}

	contentLength = -1
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return 0, 0, failedError(fmt.Sprintf("bad Content-Length %q", strings.TrimSpace(value)), nil)
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return 0, 0, failedError("response missing Content-Length", nil)
	}
	if contentLength > MaxPacketSize {
		return 0, 0, failedError(fmt.Sprintf("response body of %d bytes exceeds the %d byte limit", contentLength, MaxPacketSize), nil)
	}
	return status, contentLength, nil
}

func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/1.") {
		return 0, failedError(fmt.Sprintf("malformed status line %q", line), nil)
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, failedError(fmt.Sprintf("malformed status code in %q", line), nil)
	}
	return status, nil
}
