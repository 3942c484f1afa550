package netq

// The actor contract: the minimal capability set a query-issuing component
// implements, and the callback capability a query-consuming parent
// implements. The two sides are decoupled so managers can be composed
// without a concrete object hierarchy.

// ActorQueryCallback is implemented by whoever completes queries: it
// receives the finished query or the error that killed it.
type ActorQueryCallback interface {
	OnResult(query *NetQuery)
	OnError(err *QueryError)
}

// NetActor is implemented by components that issue queries and consume
// their results. OnResultFinish is a post-processing hook invoked after
// OnResult; embed NetActorBase to get the default no-op.
type NetActor interface {
	ActorQueryCallback

	OnResultFinish()
}

// NetActorBase carries the upward link of an actor: an outbound channel to
// its parent. Parent-less actors simply have no channel configured, and
// SendQuery reports ErrNoParent. The parent is attached once, before the
// actor starts issuing queries; detaching is not modeled.
type NetActorBase struct {
	parent chan<- *NetQuery
}

// AttachParent wires the actor's outbound query channel.
func (b *NetActorBase) AttachParent(parent chan<- *NetQuery) {
	b.parent = parent
}

// HasParent reports whether an upward link is configured.
func (b *NetActorBase) HasParent() bool {
	return b.parent != nil
}

// SendQuery forwards a query to the parent. Without a parent this is a
// hard, immediately-reported error, never a silent drop.
func (b *NetActorBase) SendQuery(query *NetQuery) error {
	if b.parent == nil {
		return ErrNoParent
	}
	b.parent <- query
	return nil
}

// OnResultFinish is the default no-op post-processing hook.
func (b *NetActorBase) OnResultFinish() {}

// HandleQuery routes a completed query to the right actor callback: a
// query carrying an error goes to OnError and is also surfaced to the
// caller as a QueryFailedError; a successful query goes to OnResult
// followed by OnResultFinish.
func HandleQuery(a NetActor, query *NetQuery) error {
	if query.IsError() {
		err := query.Err()
		a.OnError(err)
		return &QueryFailedError{Query: err}
	}
	a.OnResult(query)
	a.OnResultFinish()
	return nil
}
