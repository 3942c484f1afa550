package netq

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"go4.org/netipx"

	"github.com/mtpline/mtpline/types"
)

// DCOption is one known endpoint of a datacenter.
type DCOption struct {
	DC       types.DCID
	AddrPort netip.AddrPort

	// Static marks compiled-in defaults, which survive Clear.
	Static bool
}

func (o DCOption) String() string {
	return fmt.Sprintf("%s@%s", o.DC, o.AddrPort)
}

// reservedAddrs covers address space that can never be a production
// datacenter endpoint. Options inside it are rejected unless the set is
// created with AllowReserved (local test servers).
var reservedAddrs = func() *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"::1/128",
		"fe80::/10",
	} {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	s, err := b.IPSet()
	if err != nil {
		panic(fmt.Sprintf("building reserved address set: %v", err))
	}
	return s
}()

// DCOptionsSet is the per-DC endpoint book consulted when opening a
// transport. Lookups and updates may happen from different goroutines.
type DCOptionsSet struct {
	mu            sync.RWMutex
	options       map[types.DCID][]DCOption
	allowReserved bool
}

// NewDCOptionsSet creates an empty endpoint book.
func NewDCOptionsSet() *DCOptionsSet {
	return &DCOptionsSet{options: make(map[types.DCID][]DCOption)}
}

// defaultEndpoints are the well-known production datacenter addresses,
// used until the server hands out fresher options.
var defaultEndpoints = map[types.DCID]string{
	1: "149.154.175.50:443",
	2: "149.154.167.51:443",
	3: "149.154.175.100:443",
	4: "149.154.167.91:443",
	5: "149.154.171.5:443",
}

// DefaultDCOptionsSet creates an endpoint book pre-seeded with the static
// production endpoints. These survive Clear.
func DefaultDCOptionsSet() *DCOptionsSet {
	s := NewDCOptionsSet()
	for dc, ep := range defaultEndpoints {
		s.options[dc] = append(s.options[dc], DCOption{
			DC:       dc,
			AddrPort: netip.MustParseAddrPort(ep),
			Static:   true,
		})
	}
	return s
}

// AllowReserved permits loopback/link-local endpoints, for tests against
// local servers.
func (s *DCOptionsSet) AllowReserved() *DCOptionsSet {
	s.mu.Lock()
	s.allowReserved = true
	s.mu.Unlock()
	return s
}

// Add records an endpoint for a datacenter. Duplicate and reserved-range
// endpoints are rejected.
func (s *DCOptionsSet) Add(opt DCOption) error {
	if !opt.DC.IsValid() {
		return fmt.Errorf("invalid datacenter id %d", opt.DC)
	}
	if !opt.AddrPort.IsValid() || opt.AddrPort.Port() == 0 {
		return fmt.Errorf("invalid endpoint %s for %s", opt.AddrPort, opt.DC)
	}

	addr := opt.AddrPort.Addr().Unmap()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allowReserved && reservedAddrs.Contains(addr) {
		return fmt.Errorf("endpoint %s for %s is in reserved address space", opt.AddrPort, opt.DC)
	}

	opt.AddrPort = netip.AddrPortFrom(addr, opt.AddrPort.Port())
	existing := s.options[opt.DC]
	for _, have := range existing {
		if have.AddrPort == opt.AddrPort {
			return nil
		}
	}
	s.options[opt.DC] = append(existing, opt)
	return nil
}

// Lookup returns the known endpoints of a datacenter, IPv4 first.
func (s *DCOptionsSet) Lookup(dc types.DCID) []DCOption {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts := slices.Clone(s.options[dc])
	slices.SortStableFunc(opts, func(a, b DCOption) int {
		av, bv := 0, 0
		if a.AddrPort.Addr().Is6() {
			av = 1
		}
		if b.AddrPort.Addr().Is6() {
			bv = 1
		}
		return av - bv
	})
	return opts
}

// First returns the preferred endpoint for a datacenter.
func (s *DCOptionsSet) First(dc types.DCID) (DCOption, bool) {
	opts := s.Lookup(dc)
	if len(opts) == 0 {
		return DCOption{}, false
	}
	return opts[0], true
}

// Clear drops all dynamically learned endpoints, keeping static defaults.
func (s *DCOptionsSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dc, opts := range s.options {
		kept := opts[:0]
		for _, o := range opts {
			if o.Static {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			delete(s.options, dc)
		} else {
			s.options[dc] = kept
		}
	}
}
