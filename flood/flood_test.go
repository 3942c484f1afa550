package flood

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtpline/mtpline/types"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestControl(cfg Config) (*FloodControl, *fakeClock) {
	clock := newFakeClock()
	fc := New(cfg).WithClock(clock.now)
	// Re-anchor scope state to the fake clock.
	fc.Reset()
	return fc, clock
}

func TestBurstAdmission(t *testing.T) {
	fc, _ := newTestControl(Config{
		MaxQueriesPerSecond: 100,
		BurstSize:           5,
		WindowDuration:      time.Second,
	})

	// First 5 checks consume burst tokens.
	for i := 0; i < 5; i++ {
		d := fc.CheckQuery(types.DCID(1))
		assert.True(t, d.Allowed(), "burst check %d", i)
	}

	// The 6th is admitted by window capacity.
	d := fc.CheckQuery(types.DCID(1))
	assert.True(t, d.Allowed())

	assert.Equal(t, uint64(6), fc.TotalSent())
}

func TestWindowSaturationDelays(t *testing.T) {
	fc, _ := newTestControl(Config{
		MaxQueriesPerSecond: 3,
		BurstSize:           2,
		WindowDuration:      time.Second,
	})

	// 2 burst + 3 window.
	for i := 0; i < 5; i++ {
		require.True(t, fc.CheckQuery(types.DCID(1)).Allowed(), "check %d", i)
	}

	d := fc.CheckQuery(types.DCID(1))
	assert.Equal(t, VerdictDelayed, d.Verdict)
	assert.Equal(t, time.Second, d.RetryAfter, "full window remains on a frozen clock")
}

func TestWindowResetsAfterElapse(t *testing.T) {
	fc, clock := newTestControl(Config{
		MaxQueriesPerSecond: 1,
		BurstSize:           1,
		WindowDuration:      time.Second,
	})

	require.True(t, fc.CheckQuery(types.DCID(1)).Allowed()) // burst
	require.True(t, fc.CheckQuery(types.DCID(1)).Allowed()) // window
	require.Equal(t, VerdictDelayed, fc.CheckQuery(types.DCID(1)).Verdict)

	clock.advance(1100 * time.Millisecond)

	// New window; burst also refilled in the meantime.
	assert.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
}

func TestBurstRefillIsProportional(t *testing.T) {
	fc, clock := newTestControl(Config{
		MaxQueriesPerSecond: 1,
		BurstSize:           10,
		WindowDuration:      time.Second,
	})

	// Drain all 10 burst tokens plus the single window slot.
	for i := 0; i < 11; i++ {
		require.True(t, fc.CheckQuery(types.DCID(1)).Allowed(), "check %d", i)
	}
	require.Equal(t, VerdictDelayed, fc.CheckQuery(types.DCID(1)).Verdict)

	// 200ms refills 2 tokens (10 per second).
	clock.advance(200 * time.Millisecond)
	assert.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
	assert.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
	assert.Equal(t, VerdictDelayed, fc.CheckQuery(types.DCID(1)).Verdict)
}

func TestPerDCLimits(t *testing.T) {
	fc, _ := newTestControl(Config{
		MaxQueriesPerSecond: 100,
		BurstSize:           2,
		WindowDuration:      time.Second,
		PerDCLimits:         true,
	})

	// DC 1 and DC 2 have independent burst buckets; the global scope
	// is wide enough to stay out of the way.
	for i := 0; i < 2; i++ {
		require.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
		require.True(t, fc.CheckQuery(types.DCID(2)).Allowed())
	}

	assert.ElementsMatch(t, []types.DCID{1, 2}, fc.TrackedDCs())
}

func TestOnFloodWait(t *testing.T) {
	fc, clock := newTestControl(Config{
		MaxQueriesPerSecond: 100,
		BurstSize:           5,
		WindowDuration:      time.Second,
		PerDCLimits:         true,
	})

	fc.OnFloodWait(types.DCID(2), 30*time.Second)
	assert.Equal(t, uint64(1), fc.FloodWaitCount())

	d := fc.CheckQuery(types.DCID(2))
	assert.Equal(t, VerdictFloodWait, d.Verdict)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	// Other datacenters are unaffected.
	assert.True(t, fc.CheckQuery(types.DCID(1)).Allowed())

	// Mid-wait checks still fail, with the remaining time.
	clock.advance(10 * time.Second)
	d = fc.CheckQuery(types.DCID(2))
	assert.Equal(t, VerdictFloodWait, d.Verdict)
	assert.Equal(t, 20*time.Second, d.RetryAfter)

	// After the wait elapses traffic flows again.
	clock.advance(21 * time.Second)
	assert.True(t, fc.CheckQuery(types.DCID(2)).Allowed())
}

func TestDropAfterThreshold(t *testing.T) {
	fc, _ := newTestControl(Config{
		MaxQueriesPerSecond: 1,
		BurstSize:           1,
		WindowDuration:      10 * time.Second,
		DropAfter:           time.Second,
	})

	require.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
	require.True(t, fc.CheckQuery(types.DCID(1)).Allowed())

	// Remaining window (10s) exceeds the 1s drop threshold.
	d := fc.CheckQuery(types.DCID(1))
	assert.Equal(t, VerdictDropped, d.Verdict)
}

func TestReset(t *testing.T) {
	fc, _ := newTestControl(Config{
		MaxQueriesPerSecond: 1,
		BurstSize:           1,
		WindowDuration:      time.Second,
		PerDCLimits:         true,
	})

	require.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
	fc.OnFloodWait(types.DCID(1), time.Minute)

	fc.Reset()

	assert.Zero(t, fc.TotalSent())
	assert.Zero(t, fc.FloodWaitCount())
	assert.True(t, fc.CheckQuery(types.DCID(1)).Allowed())
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, uint32(100), cfg.MaxQueriesPerSecond)
	assert.Equal(t, uint32(10), cfg.BurstSize)
	assert.Equal(t, time.Second, cfg.WindowDuration)
}
