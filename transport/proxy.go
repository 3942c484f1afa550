package transport

import (
	"encoding/base64"
	"fmt"

	"github.com/LukaGiorgadze/gonull"
)

// ProxyType enumerates the supported outbound proxy flavors.
type ProxyType int

const (
	ProxyNone ProxyType = iota
	ProxySocks5
	ProxyMTProto
	ProxyHTTPTCP
	ProxyHTTPCaching
)

func (t ProxyType) String() string {
	switch t {
	case ProxyNone:
		return "none"
	case ProxySocks5:
		return "socks5"
	case ProxyMTProto:
		return "mtproto"
	case ProxyHTTPTCP:
		return "http_tcp"
	case ProxyHTTPCaching:
		return "http_caching"
	default:
		return fmt.Sprintf("ProxyType(%d)", int(t))
	}
}

// ParseProxyType maps a config string to a ProxyType.
func ParseProxyType(s string) (ProxyType, error) {
	switch s {
	case "", "none":
		return ProxyNone, nil
	case "socks5":
		return ProxySocks5, nil
	case "mtproto":
		return ProxyMTProto, nil
	case "http_tcp", "http":
		return ProxyHTTPTCP, nil
	case "http_caching":
		return ProxyHTTPCaching, nil
	default:
		return ProxyNone, newProxyError(ProxyErrUnsupportedType, "unknown proxy type %q", s)
	}
}

// Proxy is a single outbound proxy configuration, constructed once and
// validated before any connect.
type Proxy struct {
	Type   ProxyType
	Server string
	Port   uint16

	User     gonull.Nullable[string]
	Password gonull.Nullable[string]

	// Secret is required for MTProto proxies and unused otherwise.
	Secret []byte
}

func Socks5Proxy(server string, port uint16, user, password gonull.Nullable[string]) Proxy {
	return Proxy{Type: ProxySocks5, Server: server, Port: port, User: user, Password: password}
}

func MTProtoProxy(server string, port uint16, secret []byte) Proxy {
	return Proxy{Type: ProxyMTProto, Server: server, Port: port, Secret: secret}
}

func HTTPTCPProxy(server string, port uint16, user, password gonull.Nullable[string]) Proxy {
	return Proxy{Type: ProxyHTTPTCP, Server: server, Port: port, User: user, Password: password}
}

func HTTPCachingProxy(server string, port uint16, user, password gonull.Nullable[string]) Proxy {
	return Proxy{Type: ProxyHTTPCaching, Server: server, Port: port, User: user, Password: password}
}

// IsActive reports whether the proxy does anything at all.
func (p Proxy) IsActive() bool {
	return p.Type != ProxyNone
}

// HasCredentials reports whether both a user and a password are set.
func (p Proxy) HasCredentials() bool {
	return p.User.Valid && p.Password.Valid
}

// HostPort renders the proxy endpoint for dialing.
func (p Proxy) HostPort() string {
	return fmt.Sprintf("%s:%d", p.Server, p.Port)
}

// Validate enforces the type-specific invariants. An inactive proxy is
// always valid.
func (p Proxy) Validate() error {
	if !p.IsActive() {
		return nil
	}

	if p.Server == "" {
		return newProxyError(ProxyErrInvalidAddress, "%s proxy requires a server", p.Type)
	}
	if p.Port == 0 {
		return newProxyError(ProxyErrInvalidAddress, "%s proxy requires a non-zero port", p.Type)
	}

	if p.Type == ProxyMTProto && len(p.Secret) == 0 {
		return newProxyError(ProxyErrInvalidType, "mtproto proxy requires a secret")
	}

	return nil
}

// basicAuth encodes user:pass for Proxy-Authorization headers.
func basicAuth(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}
