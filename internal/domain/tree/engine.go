package tree

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/spandeck/spandeck/internal/domain/event"
)

// Engine incrementally folds wire events into a span forest. It tolerates
// arbitrary arrival order: ends before starts, responses before requests,
// children before parents. Apply mutates the owned tree in place and returns
// it; the caller treats the return value as the authoritative tree.
//
// The engine is synchronous and single-threaded. Each viewer owns its own
// instance; there is no shared state between engines.
type Engine struct {
	logger  *zap.Logger
	tree    Tree
	pending *ttlcache.Cache[string, event.SpanRecord]

	// expiring records that the cache's expiry goroutine was started;
	// ttlcache's Stop blocks unless Start is running.
	expiring bool
}

// Options bound the pending span-end buffer. Zero values keep it unbounded,
// preserving legitimately-late start/end pairs at the cost of leaking ends
// whose start never arrives.
type Options struct {
	PendingTTL time.Duration
	PendingCap uint64
}

// NewEngine creates an engine with an empty tree.
func NewEngine(logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	var cacheOpts []ttlcache.Option[string, event.SpanRecord]
	if opts.PendingTTL > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithTTL[string, event.SpanRecord](opts.PendingTTL))
	}
	if opts.PendingCap > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, event.SpanRecord](opts.PendingCap))
	}
	pending := ttlcache.New[string, event.SpanRecord](cacheOpts...)
	if opts.PendingTTL > 0 {
		go pending.Start() // automatic expired item deletion
	}

	return &Engine{
		logger:   logger,
		tree:     make(Tree),
		pending:  pending,
		expiring: opts.PendingTTL > 0,
	}
}

// Apply folds one event into the tree. Malformed events (missing ids) are
// logged and discarded; Apply never fails for well-typed input.
func (e *Engine) Apply(ev event.Event) Tree {
	switch v := ev.(type) {
	case event.SpanStart:
		e.applySpanStart(v.Span)
	case event.SpanEnd:
		e.applySpanEnd(v.Span)
	case event.Request:
		e.applyRequest(v.Request)
	case event.Response:
		e.applyResponse(v.Response)
	case event.CatchUp:
		for _, inner := range v.Events {
			e.Apply(inner)
		}
	case event.ClearAll:
		e.Reset()
	default:
		e.logger.Warn("discarding event of unknown type", zap.String("kind", string(ev.Kind())))
	}
	return e.tree
}

// Tree returns the current forest.
func (e *Engine) Tree() Tree { return e.tree }

// Roots returns every node not owned by another node's children list.
// Orphans whose parent never arrived show up here alongside true roots.
func (e *Engine) Roots() []*Node {
	return Roots(e.tree)
}

// PendingEnds reports how many span-end records are buffered awaiting their
// start.
func (e *Engine) PendingEnds() int { return e.pending.Len() }

// Close stops the pending buffer's expiry goroutine. Required for engines
// built with a PendingTTL; a no-op otherwise.
func (e *Engine) Close() {
	if e.expiring {
		e.pending.Stop()
		e.expiring = false
	}
}

// Reset discards the tree and the pending buffer. Used on reconnect and on
// clear-all.
func (e *Engine) Reset() {
	e.tree = make(Tree)
	e.pending.DeleteAll()
}

func (e *Engine) applySpanStart(rec event.SpanRecord) {
	if rec.SpanID == "" {
		e.logger.Warn("discarding span-start without spanId", zap.String("name", rec.Name))
		return
	}

	node := e.fetchOrCreate(SpanKey(rec.SpanID))
	node.SpanID = rec.SpanID
	node.IsServerSpan = true
	if node.ServerSpan == nil {
		node.ServerSpan = &ServerSpan{}
	}
	start := rec
	node.ServerSpan.Start = &start
	// A redelivered start must not reopen a span whose end already merged.
	node.ServerSpan.IsActive = node.ServerSpan.End == nil
	if rec.ParentSpan != nil {
		node.ParentSpanID = rec.ParentSpan.SpanID
	}

	// Absorb an end that arrived before this start.
	if item := e.pending.Get(rec.SpanID); item != nil {
		end := item.Value()
		node.ServerSpan.End = &end
		node.ServerSpan.IsActive = false
		e.pending.Delete(rec.SpanID)
	}

	e.linkToParent(node)

	// Adopt children that arrived before this span. The sweep is O(tree)
	// per span-start; span frequency is bounded by instrumentation density,
	// not client traffic.
	for _, other := range e.tree {
		if other == node || !other.IsServerSpan {
			continue
		}
		if other.ParentSpanID == rec.SpanID && !node.hasChildSpan(other.SpanID) {
			node.appendChild(other)
		}
	}
}

func (e *Engine) applySpanEnd(rec event.SpanRecord) {
	if rec.SpanID == "" {
		e.logger.Warn("discarding span-end without spanId", zap.String("name", rec.Name))
		return
	}

	node, ok := e.tree[SpanKey(rec.SpanID)]
	if !ok {
		// An end alone carries too little identity to justify a node;
		// buffer it until the start arrives.
		e.pending.Set(rec.SpanID, rec, ttlcache.DefaultTTL)
		return
	}

	node.SpanID = rec.SpanID
	node.IsServerSpan = true
	if node.ServerSpan == nil {
		node.ServerSpan = &ServerSpan{}
	}
	end := rec
	node.ServerSpan.End = &end
	node.ServerSpan.IsActive = false
	if node.ParentSpanID == "" && rec.ParentSpan != nil {
		node.ParentSpanID = rec.ParentSpan.SpanID
	}

	e.linkToParent(node)
}

func (e *Engine) applyRequest(rec event.RequestRecord) {
	if rec.ID == "" {
		e.logger.Warn("discarding request without correlation id", zap.String("url", rec.URL))
		return
	}

	node := e.fetchOrCreate(RequestKey(rec.ID))
	req := rec
	node.Request = &req
	if rec.SpanID != "" {
		node.ParentSpanID = rec.SpanID
	}

	if parent := e.parentSpan(node.ParentSpanID); parent != nil && !parent.hasChildRequest(rec.ID) {
		parent.appendChild(node)
	}
}

func (e *Engine) applyResponse(rec event.ResponseRecord) {
	if rec.ID == "" {
		e.logger.Warn("discarding response without correlation id", zap.Int("status", rec.Status))
		return
	}

	node := e.fetchOrCreate(RequestKey(rec.ID))
	resp := rec
	node.Response = &resp
	if rec.SpanID != "" {
		node.ParentSpanID = rec.SpanID
	}

	parent := e.parentSpan(node.ParentSpanID)
	if parent == nil {
		return
	}

	// Three-tier reconciliation: exact correlation-id match, then a
	// best-effort same-span pairing for sources that lost the id, then a
	// fresh response-only child.
	for _, child := range parent.Children {
		if child.Request != nil && child.Request.ID == rec.ID {
			child.Response = &resp
			return
		}
	}
	for _, child := range parent.Children {
		if child.Request != nil && child.Response == nil && child.ParentSpanID == node.ParentSpanID {
			e.logger.Warn("pairing response by span instead of correlation id",
				zap.String("responseId", rec.ID),
				zap.String("requestId", child.Request.ID),
				zap.String("spanId", node.ParentSpanID),
			)
			child.Response = &resp
			return
		}
	}
	if !parent.hasChildRequest(rec.ID) {
		parent.appendChild(node)
	}
}

func (e *Engine) fetchOrCreate(key Key) *Node {
	if node, ok := e.tree[key]; ok {
		return node
	}
	node := &Node{}
	e.tree[key] = node
	return node
}

// parentSpan resolves a parent span id to an existing server-span node.
func (e *Engine) parentSpan(spanID string) *Node {
	if spanID == "" {
		return nil
	}
	parent, ok := e.tree[SpanKey(spanID)]
	if !ok || !parent.IsServerSpan {
		return nil
	}
	return parent
}

// linkToParent attaches a server-span node under its parent if the parent is
// present, guarding against duplicate edges by span id.
func (e *Engine) linkToParent(node *Node) {
	if node.ParentSpanID == "" || node.SpanID == "" {
		return
	}
	parent := e.parentSpan(node.ParentSpanID)
	if parent == nil || parent == node {
		return
	}
	if !parent.hasChildSpan(node.SpanID) {
		parent.appendChild(node)
	}
}
