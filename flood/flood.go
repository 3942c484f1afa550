// Package flood implements outbound rate limiting: a hybrid token-bucket
// (burst absorption) plus fixed-window (sustained rate) limiter, evaluated
// globally and per destination datacenter. It hands out decisions, not
// errors: callers branch on policy, and any backoff is theirs to perform.
package flood

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	"github.com/mtpline/mtpline/stats"
	"github.com/mtpline/mtpline/types"
)

// Verdict is the kind of admission decision.
type Verdict int

const (
	// VerdictAllowed admits the query immediately.
	VerdictAllowed Verdict = iota

	// VerdictDelayed asks the caller to re-check after RetryAfter.
	VerdictDelayed

	// VerdictDropped tells the caller the query is not worth queueing:
	// the computed delay exceeded the configured drop threshold.
	VerdictDropped

	// VerdictFloodWait means a server-issued flood wait is still in
	// force for the target datacenter.
	VerdictFloodWait
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictDelayed:
		return "delayed"
	case VerdictDropped:
		return "dropped"
	case VerdictFloodWait:
		return "flood_wait"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Verdict Verdict

	// RetryAfter is how long the caller should wait before re-checking.
	// Meaningful for VerdictDelayed and VerdictFloodWait.
	RetryAfter time.Duration
}

func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllowed
}

// Config is the flood control surface.
type Config struct {
	// MaxQueriesPerSecond caps sustained throughput per window.
	MaxQueriesPerSecond uint32

	// BurstSize is the token bucket capacity. Burst tokens admit
	// queries without touching the window counter, absorbing short
	// spikes without penalizing sustained low-rate traffic.
	BurstSize uint32

	// WindowDuration is the fixed window length.
	WindowDuration time.Duration

	// PerDCLimits enables a second, per-datacenter check after the
	// global one.
	PerDCLimits bool

	// DropAfter turns a Delayed decision into Dropped when the
	// computed delay exceeds it. Zero means never drop.
	DropAfter time.Duration
}

func (c *Config) SetDefaults() {
	if c.MaxQueriesPerSecond == 0 {
		c.MaxQueriesPerSecond = 100
	}
	if c.BurstSize == 0 {
		c.BurstSize = 10
	}
	if c.WindowDuration == 0 {
		c.WindowDuration = time.Second
	}
}

// scopeStats is the mutable limiter state for one scope (global, or one
// datacenter). Each scope has its own lock, so unrelated datacenters never
// contend.
type scopeStats struct {
	mu sync.Mutex

	queriesInWindow uint32
	windowStart     time.Time

	burstTokens float64
	lastRefill  time.Time

	// floodWaitUntil is set by server flood waits; checks before this
	// instant fail with VerdictFloodWait.
	floodWaitUntil time.Time
}

func newScopeStats(now time.Time, burst uint32) *scopeStats {
	return &scopeStats{
		windowStart: now,
		burstTokens: float64(burst),
		lastRefill:  now,
	}
}

func (s *scopeStats) reset(now time.Time, burst uint32) {
	s.queriesInWindow = 0
	s.windowStart = now
	s.burstTokens = float64(burst)
	s.lastRefill = now
	s.floodWaitUntil = time.Time{}
}

// FloodControl is the admitting gate in front of the transport layer.
type FloodControl struct {
	cfg Config

	// now is replaceable for tests.
	now func() time.Time

	global scopeStats

	mu    sync.RWMutex
	perDC map[types.DCID]*scopeStats

	totalSent      atomic.Uint64
	floodWaitCount atomic.Uint64

	metrics *stats.Metrics
}

// New creates a flood controller with the given config.
func New(cfg Config) *FloodControl {
	cfg.SetDefaults()
	fc := &FloodControl{
		cfg:   cfg,
		now:   time.Now,
		perDC: make(map[types.DCID]*scopeStats),
	}
	fc.global.reset(fc.now(), cfg.BurstSize)
	return fc
}

// WithMetrics attaches a metrics sink.
func (fc *FloodControl) WithMetrics(m *stats.Metrics) *FloodControl {
	fc.metrics = m
	return fc
}

// WithClock replaces the time source, for tests.
func (fc *FloodControl) WithClock(now func() time.Time) *FloodControl {
	fc.now = now
	return fc
}

// CheckQuery decides whether a query for dc may be sent right now. The
// global scope is checked first, then the per-DC scope when enabled; the
// first non-allowed decision short-circuits. The decision is advisory and
// synchronous: a Delayed/FloodWait caller re-checks after RetryAfter,
// nothing is retried internally.
func (fc *FloodControl) CheckQuery(dc types.DCID) Decision {
	d := fc.check(&fc.global)
	if !d.Allowed() {
		return fc.observe(d)
	}

	if fc.cfg.PerDCLimits && dc.IsValid() {
		d = fc.check(fc.dcScope(dc))
		if !d.Allowed() {
			return fc.observe(d)
		}
	}

	fc.totalSent.Add(1)
	fc.metrics.QuerySent(dc)
	return Decision{Verdict: VerdictAllowed}
}

func (fc *FloodControl) observe(d Decision) Decision {
	switch d.Verdict {
	case VerdictDelayed:
		fc.metrics.QueryDelayed()
	case VerdictDropped:
		fc.metrics.QueryDropped()
	}
	return d
}

func (fc *FloodControl) check(s *scopeStats) Decision {
	now := fc.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Before(s.floodWaitUntil) {
		return Decision{Verdict: VerdictFloodWait, RetryAfter: s.floodWaitUntil.Sub(now)}
	}

	// Refill burst tokens proportionally to elapsed time.
	if elapsed := now.Sub(s.lastRefill); elapsed > 0 {
		refill := elapsed.Seconds() / fc.cfg.WindowDuration.Seconds() * float64(fc.cfg.BurstSize)
		s.burstTokens = min(s.burstTokens+refill, float64(fc.cfg.BurstSize))
		s.lastRefill = now
	}

	// A burst token admits without touching the window counter.
	if s.burstTokens >= 1 {
		s.burstTokens--
		return Decision{Verdict: VerdictAllowed}
	}

	if now.Sub(s.windowStart) >= fc.cfg.WindowDuration {
		s.windowStart = now
		s.queriesInWindow = 0
	}

	if s.queriesInWindow < fc.cfg.MaxQueriesPerSecond {
		s.queriesInWindow++
		return Decision{Verdict: VerdictAllowed}
	}

	remaining := s.windowStart.Add(fc.cfg.WindowDuration).Sub(now)
	if fc.cfg.DropAfter > 0 && remaining > fc.cfg.DropAfter {
		return Decision{Verdict: VerdictDropped}
	}
	return Decision{Verdict: VerdictDelayed, RetryAfter: remaining}
}

// OnFloodWait feeds a server-issued flood wait back into the limiter: the
// datacenter's window is saturated, its burst tokens are drained, and
// checks are guaranteed to fail for at least wait.
func (fc *FloodControl) OnFloodWait(dc types.DCID, wait time.Duration) {
	fc.floodWaitCount.Add(1)
	fc.metrics.FloodWait()

	now := fc.now()
	s := fc.dcScope(dc)

	s.mu.Lock()
	s.floodWaitUntil = now.Add(wait)
	s.queriesInWindow = fc.cfg.MaxQueriesPerSecond
	s.windowStart = s.floodWaitUntil
	s.burstTokens = 0
	s.lastRefill = s.floodWaitUntil
	s.mu.Unlock()
}

func (fc *FloodControl) dcScope(dc types.DCID) *scopeStats {
	fc.mu.RLock()
	s, ok := fc.perDC[dc]
	fc.mu.RUnlock()
	if ok {
		return s
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if s, ok = fc.perDC[dc]; ok {
		return s
	}
	s = newScopeStats(fc.now(), fc.cfg.BurstSize)
	fc.perDC[dc] = s
	return s
}

// TotalSent is the number of queries admitted since creation or Reset.
func (fc *FloodControl) TotalSent() uint64 {
	return fc.totalSent.Load()
}

// FloodWaitCount is the number of server flood waits observed.
func (fc *FloodControl) FloodWaitCount() uint64 {
	return fc.floodWaitCount.Load()
}

// TrackedDCs returns the datacenters with live limiter state.
func (fc *FloodControl) TrackedDCs() []types.DCID {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return maps.Keys(fc.perDC)
}

// Reset restores all scopes to their initial state and zeroes the
// counters.
func (fc *FloodControl) Reset() {
	now := fc.now()

	fc.global.mu.Lock()
	fc.global.reset(now, fc.cfg.BurstSize)
	fc.global.mu.Unlock()

	fc.mu.Lock()
	for _, s := range fc.perDC {
		s.mu.Lock()
		s.reset(now, fc.cfg.BurstSize)
		s.mu.Unlock()
	}
	fc.mu.Unlock()

	fc.totalSent.Store(0)
	fc.floodWaitCount.Store(0)
}
