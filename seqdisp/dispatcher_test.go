package seqdisp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtpline/mtpline/netq"
	"github.com/mtpline/mtpline/types"
	"github.com/mtpline/mtpline/types/msgactor"
)

const awaitTimeout = 2 * time.Second

func newQuery(id netq.QueryID) *netq.NetQuery {
	return netq.New(id, []byte{0x1, 0x2}, types.DCID(2), netq.TypeCommon, netq.AuthOn, netq.GzipOn, 0)
}

// sendRecorder captures dispatched queries and lets the test complete them
// at its own pace, standing in for the network.
type sendRecorder struct {
	mu       sync.Mutex
	sent     []netq.QueryID
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	arrived  chan netq.QueryID
}

func newSendRecorder() *sendRecorder {
	return &sendRecorder{arrived: make(chan netq.QueryID, 64)}
}

func (r *sendRecorder) send(_ context.Context, _ ChainID, q *netq.NetQuery) {
	cur := r.inFlight.Add(1)
	for {
		max := r.maxSeen.Load()
		if cur <= max || r.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}

	r.mu.Lock()
	r.sent = append(r.sent, q.ID())
	r.mu.Unlock()

	r.arrived <- q.ID()
}

func (r *sendRecorder) complete() {
	r.inFlight.Add(-1)
}

func (r *sendRecorder) waitForSend(t *testing.T) netq.QueryID {
	t.Helper()
	select {
	case id := <-r.arrived:
		return id
	case <-time.After(awaitTimeout):
		t.Fatal("timed out waiting for a query to be dispatched")
		return 0
	}
}

func (r *sendRecorder) sentIDs() []netq.QueryID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]netq.QueryID(nil), r.sent...)
}

func TestChainDispatchesInOrder(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	defer d.Close()

	const chain = ChainID(7)

	futures := make(map[netq.QueryID]*msgactor.ResponseFuture[*netq.NetQuery])
	for id := netq.QueryID(1); id <= 3; id++ {
		futures[id] = d.AddToChain(chain, newQuery(id))
	}

	for want := netq.QueryID(1); want <= 3; want++ {
		got := rec.waitForSend(t)
		require.Equal(t, want, got)

		// Nothing further dispatches until this one completes.
		assert.Equal(t, int32(1), rec.inFlight.Load())

		q := newQuery(got)
		q.SetOK([]byte{0x42})
		rec.complete()
		d.OnQueryComplete(chain, got, q)

		res, ok, err := futures[got].TryAwait()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, res.IsOK())
	}

	assert.Equal(t, []netq.QueryID{1, 2, 3}, rec.sentIDs())
	assert.Equal(t, int32(1), rec.maxSeen.Load())
	assert.Equal(t, uint64(3), d.NextSeq(chain))
}

func TestIndependentChainsRunConcurrently(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	defer d.Close()

	d.AddToChain(ChainID(1), newQuery(10))
	d.AddToChain(ChainID(2), newQuery(20))

	first := rec.waitForSend(t)
	second := rec.waitForSend(t)
	assert.ElementsMatch(t, []netq.QueryID{10, 20}, []netq.QueryID{first, second})

	// Both are in flight at once: chains do not serialize each other.
	assert.Equal(t, int32(2), rec.inFlight.Load())
}

func TestStaleCompletionIgnored(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	defer d.Close()

	const chain = ChainID(3)
	f1 := d.AddToChain(chain, newQuery(1))
	f2 := d.AddToChain(chain, newQuery(2))

	require.Equal(t, netq.QueryID(1), rec.waitForSend(t))

	// A completion for a query that is not the in-flight one does nothing.
	d.OnQueryComplete(chain, 99, newQuery(99))
	_, ok, _ := f1.TryAwait()
	assert.False(t, ok)
	assert.Equal(t, 1, d.PendingCount(chain))

	rec.complete()
	done := newQuery(1)
	done.SetOK(nil)
	d.OnQueryComplete(chain, 1, done)

	_, ok, err := f1.TryAwait()
	require.NoError(t, err)
	assert.True(t, ok)

	require.Equal(t, netq.QueryID(2), rec.waitForSend(t))

	// Completing query 1 twice must not resolve query 2's future.
	d.OnQueryComplete(chain, 1, done)
	_, ok, _ = f2.TryAwait()
	assert.False(t, ok)
}

func TestDropOnFullEvictsOldest(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{
		Send:          rec.send,
		ChainCapacity: 2,
		DropOnFull:    true,
	})
	defer d.Close()

	const chain = ChainID(5)

	// Query 1 dispatches immediately; 2 and 3 fill the pending queue.
	f1 := d.AddToChain(chain, newQuery(1))
	require.Equal(t, netq.QueryID(1), rec.waitForSend(t))
	f2 := d.AddToChain(chain, newQuery(2))
	f3 := d.AddToChain(chain, newQuery(3))
	require.Equal(t, 2, d.PendingCount(chain))

	// Query 4 overflows the queue: the oldest pending entry (2) is
	// evicted with an explicit error, never silently lost.
	f4 := d.AddToChain(chain, newQuery(4))
	require.Equal(t, 2, d.PendingCount(chain))

	evicted, ok, err := f2.TryAwait()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, evicted.IsError())
	assert.Equal(t, netq.CodeCanceled, evicted.Err().Code)

	// The survivors still dispatch in order: 1, then 3, then 4.
	for _, want := range []struct {
		id netq.QueryID
		f  *msgactor.ResponseFuture[*netq.NetQuery]
	}{{1, f1}, {3, f3}, {4, f4}} {
		rec.complete()
		done := newQuery(want.id)
		done.SetOK(nil)
		d.OnQueryComplete(chain, want.id, done)

		_, ok, err := want.f.TryAwait()
		require.NoError(t, err)
		assert.True(t, ok)

		if want.id != 4 {
			rec.waitForSend(t)
		}
	}

	assert.Equal(t, []netq.QueryID{1, 3, 4}, rec.sentIDs())
}

func TestCloseChainCancelsPending(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	defer d.Close()

	const chain = ChainID(9)
	f1 := d.AddToChain(chain, newQuery(1))
	f2 := d.AddToChain(chain, newQuery(2))
	require.Equal(t, netq.QueryID(1), rec.waitForSend(t))

	d.CloseChain(chain)

	// The pending query resolves with a canceled error.
	res, ok, err := f2.TryAwait()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, res.IsError())
	assert.Equal(t, netq.CodeCanceled, res.Err().Code)

	// The in-flight query's future is dropped, not left hanging.
	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()
	_, err = f1.Await(ctx)
	assert.Error(t, err)

	// A late completion for the closed chain is a no-op.
	d.OnQueryComplete(chain, 1, newQuery(1))
	assert.Equal(t, uint64(0), d.NextSeq(chain))
}

func TestClearClosesAllChains(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	defer d.Close()

	d.AddToChain(ChainID(1), newQuery(1))
	d.AddToChain(ChainID(2), newQuery(2))
	rec.waitForSend(t)
	rec.waitForSend(t)

	d.Clear()

	_, ok := d.CurrentQuery(ChainID(1))
	assert.False(t, ok)
	_, ok = d.CurrentQuery(ChainID(2))
	assert.False(t, ok)
}

func TestAddToChainAfterClose(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	d.Close()

	q := newQuery(1)
	f := d.AddToChain(ChainID(1), q)

	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()
	got, err := f.Await(ctx)
	require.NoError(t, err)
	require.Same(t, q, got)

	require.True(t, got.IsError())
	assert.Equal(t, netq.CodeCanceled, got.Err().Code)
	assert.False(t, got.InSequenceDispatcher())
	assert.Empty(t, rec.sentIDs())
}

func TestQueryMarkedInDispatcher(t *testing.T) {
	rec := newSendRecorder()
	d := New(context.Background(), Config{Send: rec.send})
	defer d.Close()

	q := newQuery(1)
	require.False(t, q.InSequenceDispatcher())
	d.AddToChain(ChainID(1), q)
	assert.True(t, q.InSequenceDispatcher())
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 64, cfg.ChainCapacity)
}
