package netq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mtpline/mtpline/types"
)

// QueryID uniquely identifies a query. IDs are caller-chosen and used to
// correlate responses back to their origin, so they must be unique within
// a client instance.
type QueryID uint64

// State of a query's lifecycle.
type State int32

const (
	StateEmpty State = iota
	StateQuery
	StateOK
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateQuery:
		return "query"
	case StateOK:
		return "ok"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Type distinguishes regular queries from file transfer queries, which are
// rate-limited and routed differently.
type Type int

const (
	TypeCommon Type = iota
	TypeUpload
	TypeDownload
	TypeDownloadSmall
)

// AuthFlag marks whether the query needs an authorized session.
type AuthFlag int

const (
	AuthOff AuthFlag = iota
	AuthOn
)

// GzipFlag marks whether the payload should be gzip-wrapped on the wire.
type GzipFlag int

const (
	GzipOff GzipFlag = iota
	GzipOn
)

// NetQuery is a single outbound network request: an opaque, TL-encoded
// payload plus the routing metadata the dispatch layer needs. The payload
// and routing fields are immutable after creation; only the result state
// changes, exactly once, when the query completes.
//
// A NetQuery is shared between the caller, the dispatcher and the
// transport, so all mutable state is safe for concurrent access.
type NetQuery struct {
	id            QueryID
	data          []byte
	dc            types.DCID
	queryType     Type
	authFlag      AuthFlag
	gzipFlag      GzipFlag
	tlConstructor int32

	state atomic.Int32

	mu     sync.Mutex
	answer []byte
	err    *QueryError

	cancelToken  atomic.Int32
	sessionID    atomic.Uint64
	messageID    atomic.Uint64
	highPriority atomic.Bool
	inSeqDisp    atomic.Bool

	chainMu  sync.Mutex
	chainIDs []uint64
}

// New creates a query in the StateQuery state.
func New(id QueryID, data []byte, dc types.DCID, queryType Type, authFlag AuthFlag, gzipFlag GzipFlag, tlConstructor int32) *NetQuery {
	q := &NetQuery{
		id:            id,
		data:          data,
		dc:            dc,
		queryType:     queryType,
		authFlag:      authFlag,
		gzipFlag:      gzipFlag,
		tlConstructor: tlConstructor,
	}
	q.state.Store(int32(StateQuery))
	q.cancelToken.Store(-1)
	return q
}

func (q *NetQuery) ID() QueryID          { return q.id }
func (q *NetQuery) Data() []byte         { return q.data }
func (q *NetQuery) DC() types.DCID       { return q.dc }
func (q *NetQuery) Type() Type           { return q.queryType }
func (q *NetQuery) AuthFlag() AuthFlag   { return q.authFlag }
func (q *NetQuery) GzipFlag() GzipFlag   { return q.gzipFlag }
func (q *NetQuery) TLConstructor() int32 { return q.tlConstructor }

func (q *NetQuery) State() State {
	return State(q.state.Load())
}

// IsReady reports whether the query has completed, successfully or not.
func (q *NetQuery) IsReady() bool {
	return q.State() != StateQuery
}

func (q *NetQuery) IsOK() bool {
	return q.State() == StateOK
}

func (q *NetQuery) IsError() bool {
	return q.State() == StateError
}

// SetOK stores the successful answer and moves the query to StateOK.
func (q *NetQuery) SetOK(answer []byte) {
	q.mu.Lock()
	q.answer = answer
	q.mu.Unlock()
	q.state.Store(int32(StateOK))
}

// SetError stores the error and moves the query to StateError.
func (q *NetQuery) SetError(err *QueryError) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()
	q.state.Store(int32(StateError))
}

// Answer returns the successful result payload, or nil if the query has
// not completed successfully.
func (q *NetQuery) Answer() []byte {
	if !q.IsOK() {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.answer
}

// Err returns the query error, or nil if the query has not failed.
func (q *NetQuery) Err() *QueryError {
	if !q.IsError() {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Clear resets the result state back to StateEmpty.
func (q *NetQuery) Clear() {
	q.state.Store(int32(StateEmpty))
	q.mu.Lock()
	q.answer = nil
	q.err = nil
	q.mu.Unlock()
}

func (q *NetQuery) IsEmpty() bool {
	return q.State() == StateEmpty
}

// SetCancellationToken arms the query for cancellation with the given
// token.
func (q *NetQuery) SetCancellationToken(token int32) {
	q.cancelToken.Store(token)
}

// Cancel marks the query canceled iff token matches the armed token, so a
// stale cancel (from a previous incarnation of the query) is a no-op.
func (q *NetQuery) Cancel(token int32) bool {
	return q.cancelToken.CompareAndSwap(token, 0)
}

func (q *NetQuery) IsCanceled() bool {
	return q.cancelToken.Load() == 0
}

func (q *NetQuery) SessionID() uint64 {
	return q.sessionID.Load()
}

func (q *NetQuery) SetSessionID(id uint64) {
	q.sessionID.Store(id)
}

func (q *NetQuery) MessageID() uint64 {
	return q.messageID.Load()
}

func (q *NetQuery) SetMessageID(id uint64) {
	q.messageID.Store(id)
}

func (q *NetQuery) IsHighPriority() bool {
	return q.highPriority.Load()
}

func (q *NetQuery) MakeHighPriority() {
	q.highPriority.Store(true)
}

func (q *NetQuery) InSequenceDispatcher() bool {
	return q.inSeqDisp.Load()
}

func (q *NetQuery) SetInSequenceDispatcher(v bool) {
	q.inSeqDisp.Store(v)
}

// ChainIDs returns a copy of the sequence chains this query belongs to.
func (q *NetQuery) ChainIDs() []uint64 {
	q.chainMu.Lock()
	defer q.chainMu.Unlock()
	out := make([]uint64, len(q.chainIDs))
	copy(out, q.chainIDs)
	return out
}

func (q *NetQuery) SetChainIDs(ids []uint64) {
	q.chainMu.Lock()
	q.chainIDs = ids
	q.chainMu.Unlock()
}

func (q *NetQuery) String() string {
	return fmt.Sprintf("query(id=%d, %s, %s)", q.id, q.dc, q.State())
}
