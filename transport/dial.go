package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

const (
	DefaultConnectTimeout = time.Second * 30
	DefaultReadTimeout    = time.Second * 15
	DefaultWriteTimeout   = time.Second * 15
)

// DialOpts describes one endpoint and the deadlines applied to every
// operation against it.
type DialOpts struct {
	Host string

	// If non-empty, overrides DNS lookup from Host
	Addrs []netip.Addr

	Port uint16

	// If zero, uses default of 30 seconds
	ConnectTimeout time.Duration

	// Per-operation deadlines; if zero, use defaults of 15 seconds
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (opts *DialOpts) SetDefaults() {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
}

// HostPort renders the endpoint for request lines and CONNECT targets.
func (opts *DialOpts) HostPort() string {
	return fmt.Sprintf("%s:%d", opts.Host, opts.Port)
}

// dialTCP resolves the endpoint (unless Addrs is set) and races one dial
// per address, returning the first that lands. Losing dials are closed.
func dialTCP(ctx context.Context, opts DialOpts) (net.Conn, error) {
	opts.SetDefaults()

	var err error

	if len(opts.Addrs) == 0 {
		opts.Addrs, err = net.DefaultResolver.LookupNetIP(ctx, "ip", opts.Host)
		if err != nil {
			return nil, socketError(fmt.Sprintf("failed to lookup %s", opts.Host), err)
		}

		if len(opts.Addrs) == 0 {
			return nil, socketError(fmt.Sprintf("DNS for %s returned no IP addresses", opts.Host), nil)
		}
	}
	// At this point, opts.Addrs has at least 1 IP we can try.

	type dialResult struct {
		c net.Conn
		e error
	}

	dialCtx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()

	results := make(chan dialResult)

	returned := make(chan struct{})
	defer close(returned)

	for _, addr := range opts.Addrs {
		ap := netip.AddrPortFrom(addr.Unmap(), opts.Port)
		go func() {
			conn, err := dialOneTCP(dialCtx, ap)

			select {
			case results <- dialResult{c: conn, e: err}:
			case <-returned:
				if conn != nil {
					if err := conn.Close(); err != nil {
						slog.Error("failed to close tcp connection while multi-dialing", "err", err)
					}
				}
			}
		}()
	}

	timer := time.NewTimer(opts.ConnectTimeout)
	defer timer.Stop()

	var errs []error

	for {
		select {
		case <-timer.C:
			return nil, timeoutError("dial timeout", errors.Join(errs...))
		case res := <-results:
			if res.e == nil {
				return res.c, nil
			}

			errs = append(errs, res.e)

			if len(errs) >= len(opts.Addrs) {
				return nil, socketError("dial failure", errors.Join(errs...))
			}
		}
	}
}

func dialOneTCP(ctx context.Context, ap netip.AddrPort) (net.Conn, error) {
	// For some reason, DialTCP does not have a *Context variant.
	// So for now we put the AddrPort back into a string and pass it to our dialer.
	// see: https://github.com/golang/go/issues/49097

	var d net.Dialer
	d.LocalAddr = nil
	d.KeepAlive = time.Second * 10

	return d.DialContext(ctx, "tcp", ap.String())
}
