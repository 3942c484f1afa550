// Package seqdisp guarantees strict in-order, one-at-a-time execution of
// queries that share a logical chain (say, all edits to one message),
// while unrelated chains proceed fully concurrently.
package seqdisp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/mtpline/mtpline/netq"
	"github.com/mtpline/mtpline/stats"
	"github.com/mtpline/mtpline/types"
	"github.com/mtpline/mtpline/types/msgactor"
)

// ChainID names a caller-defined ordered group of queries.
type ChainID uint64

// chainState is an explicit per-chain state machine. Dispatching means
// exactly one query from this chain is in flight; the re-entrancy guard in
// processChain keys off it rather than an ad hoc pointer check, so racing
// completions and enqueues cannot double-dispatch.
type chainState int

const (
	chainIdle chainState = iota
	chainDispatching
)

// SendFunc performs the actual network send of a dispatched query. It is
// invoked from worker goroutines; completion is reported back through
// OnQueryComplete by whoever reads the response.
type SendFunc func(ctx context.Context, chain ChainID, query *netq.NetQuery)

// Config for a Dispatcher.
type Config struct {
	// Workers is the size of the send worker pool.
	Workers int

	// ChainCapacity bounds the pending queue of one chain.
	ChainCapacity int

	// DropOnFull evicts the oldest pending entry of a full chain,
	// resolving it with a queue-full error. When unset, a full chain
	// simply keeps growing.
	DropOnFull bool

	// Send dispatches one query to the network.
	Send SendFunc

	Metrics *stats.Metrics
}

func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ChainCapacity <= 0 {
		c.ChainCapacity = 64
	}
}

type pendingEntry struct {
	query   *netq.NetQuery
	promise *msgactor.Promise[*netq.NetQuery]
}

// QueryChain is the per-chain dispatch state: a pending FIFO, the
// currently executing query (if any) and a monotonic sequence counter
// that advances only on completion.
type QueryChain struct {
	mu sync.Mutex

	id      ChainID
	pending []pendingEntry
	state   chainState

	currentID      netq.QueryID
	currentPromise *msgactor.Promise[*netq.NetQuery]

	nextSeq uint64
}

type submission struct {
	chain ChainID
	query *netq.NetQuery
}

// Dispatcher owns the chain registry and the worker pool. Each chain has
// its own lock; the registry map has a separate one, so unrelated chains
// never contend.
type Dispatcher struct {
	cfg Config
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	chains map[ChainID]*QueryChain

	subCh chan submission
	wg    sync.WaitGroup
}

// New creates a dispatcher and starts its worker pool. The workers stop
// when pCtx is canceled or Close is called.
func New(pCtx context.Context, cfg Config) *Dispatcher {
	cfg.SetDefaults()
	ctx, cancel := context.WithCancel(pCtx)

	d := &Dispatcher{
		cfg:    cfg,
		log:    slog.With("component", "seqdisp"),
		ctx:    ctx,
		cancel: cancel,
		chains: make(map[ChainID]*QueryChain),
		subCh:  make(chan submission, 16*cfg.Workers),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case sub := <-d.subCh:
			// A queued submission can race the shutdown; never start a
			// send on a dead dispatcher.
			if types.IsContextDone(d.ctx) {
				return
			}
			if d.cfg.Send != nil {
				d.cfg.Send(d.ctx, sub.chain, sub.query)
			}
		}
	}
}

// AddToChain enqueues a query on the given chain and returns a future for
// its eventual completed NetQuery. If the chain is at capacity and
// DropOnFull is set, the oldest pending entry is evicted and resolved with
// an explicit queue-full error, never silently dropped.
func (d *Dispatcher) AddToChain(chain ChainID, query *netq.NetQuery) *msgactor.ResponseFuture[*netq.NetQuery] {
	promise, future := msgactor.NewAsk[*netq.NetQuery]()

	if types.IsContextDone(d.ctx) {
		query.SetError(netq.NewQueryError(netq.CodeCanceled, "dispatcher closed"))
		promise.Resolve(query)
		return future
	}

	query.SetInSequenceDispatcher(true)

	c := d.chain(chain)

	var evicted *pendingEntry
	c.mu.Lock()
	if d.cfg.DropOnFull && len(c.pending) >= d.cfg.ChainCapacity {
		evicted = &c.pending[0]
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, pendingEntry{query: query, promise: promise})
	c.mu.Unlock()

	d.cfg.Metrics.ChainPendingAdd(1)

	if evicted != nil {
		d.cfg.Metrics.ChainPendingAdd(-1)
		d.cfg.Metrics.QueryDropped()
		evicted.query.SetError(netq.NewQueryError(netq.CodeCanceled, "sequence chain queue full"))
		evicted.promise.Resolve(evicted.query)
		d.log.Debug("evicted oldest pending query", "chain", chain, "query", evicted.query.ID())
	}

	d.processChain(c)
	return future
}

// processChain releases the next pending query iff the chain is idle.
// Never more than one query per chain is in flight.
func (d *Dispatcher) processChain(c *QueryChain) {
	c.mu.Lock()
	if c.state == chainDispatching || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}

	entry := c.pending[0]
	c.pending = c.pending[1:]
	c.state = chainDispatching
	c.currentID = entry.query.ID()
	c.currentPromise = entry.promise
	chain := c.id
	c.mu.Unlock()

	// Submissions must not block enqueuers or completers; the worker
	// pool drains this channel.
	go func() {
		select {
		case d.subCh <- submission{chain: chain, query: entry.query}:
		case <-d.ctx.Done():
			d.failCurrent(c, entry.query.ID(), "dispatcher closed")
		}
	}()
}

// OnQueryComplete reports the completion of the chain's in-flight query.
// A completion whose id does not match the recorded current id is stale
// (the chain was reset or cleared since) and is ignored; otherwise the
// result resolves the caller's future, the sequence number advances and
// the next pending query is released.
func (d *Dispatcher) OnQueryComplete(chain ChainID, id netq.QueryID, result *netq.NetQuery) {
	c := d.lookup(chain)
	if c == nil {
		d.log.Debug("completion for unknown chain", "chain", chain, "query", id)
		return
	}

	c.mu.Lock()
	if c.state != chainDispatching || c.currentID != id {
		c.mu.Unlock()
		d.log.Debug("stale completion ignored", "chain", chain, "query", id)
		return
	}
	promise := c.currentPromise
	c.currentPromise = nil
	c.state = chainIdle
	c.nextSeq++
	c.mu.Unlock()

	d.cfg.Metrics.ChainPendingAdd(-1)
	promise.Resolve(result)

	d.processChain(c)
}

// failCurrent resolves the chain's in-flight query with an error, used
// when a submission could not reach the worker pool.
func (d *Dispatcher) failCurrent(c *QueryChain, id netq.QueryID, msg string) {
	c.mu.Lock()
	if c.state != chainDispatching || c.currentID != id {
		c.mu.Unlock()
		return
	}
	promise := c.currentPromise
	c.currentPromise = nil
	c.state = chainIdle
	c.mu.Unlock()

	promise.Drop()
	d.log.Debug("in-flight query failed before send", "chain", c.id, "query", id, "reason", msg)
}

// CurrentQuery returns the id of the chain's in-flight query, if any.
func (d *Dispatcher) CurrentQuery(chain ChainID) (netq.QueryID, bool) {
	c := d.lookup(chain)
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != chainDispatching {
		return 0, false
	}
	return c.currentID, true
}

// NextSeq returns the chain's monotonic sequence counter: the number of
// completed queries.
func (d *Dispatcher) NextSeq(chain ChainID) uint64 {
	c := d.lookup(chain)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq
}

// PendingCount returns the number of queued (not yet dispatched) queries
// on a chain.
func (d *Dispatcher) PendingCount(chain ChainID) int {
	c := d.lookup(chain)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// CloseChain drops a chain, resolving every pending future with a
// canceled error. The in-flight query, if any, becomes stale: its eventual
// completion is ignored.
func (d *Dispatcher) CloseChain(chain ChainID) {
	d.mu.Lock()
	c, ok := d.chains[chain]
	delete(d.chains, chain)
	d.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	inFlight := c.currentPromise
	c.currentPromise = nil
	c.state = chainIdle
	c.mu.Unlock()

	for _, e := range pending {
		d.cfg.Metrics.ChainPendingAdd(-1)
		e.query.SetError(netq.NewQueryError(netq.CodeCanceled, "sequence chain closed"))
		e.promise.Resolve(e.query)
	}
	if inFlight != nil {
		d.cfg.Metrics.ChainPendingAdd(-1)
		inFlight.Drop()
	}
}

// Clear closes every chain.
func (d *Dispatcher) Clear() {
	d.mu.RLock()
	ids := maps.Keys(d.chains)
	d.mu.RUnlock()

	for _, id := range ids {
		d.CloseChain(id)
	}
}

// Close stops the worker pool and cancels all chains.
func (d *Dispatcher) Close() {
	d.Clear()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) chain(id ChainID) *QueryChain {
	d.mu.RLock()
	c, ok := d.chains[id]
	d.mu.RUnlock()
	if ok {
		return c
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok = d.chains[id]; ok {
		return c
	}
	c = &QueryChain{id: id}
	d.chains[id] = c
	return c
}

func (d *Dispatcher) lookup(id ChainID) *QueryChain {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chains[id]
}

func (c *QueryChain) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("chain(%d, pending=%d, seq=%d)", c.id, len(c.pending), c.nextSeq)
}
