package tree

import (
	"github.com/spandeck/spandeck/internal/domain/event"
)

// keySpace distinguishes the two id namespaces sharing the flat node map.
// Server spans are keyed by span id; HTTP exchanges are keyed by request
// correlation id. Typed keys keep the two from ever being compared directly.
type keySpace uint8

const (
	spanSpace keySpace = iota + 1
	requestSpace
)

// Key addresses a node in a Tree.
type Key struct {
	space keySpace
	id    string
}

// SpanKey addresses a server-span node by its span id.
func SpanKey(id string) Key {
	return Key{space: spanSpace, id: id}
}

// RequestKey addresses an HTTP exchange node by its request correlation id.
func RequestKey(id string) Key {
	return Key{space: requestSpace, id: id}
}

// ID returns the raw identifier without its namespace.
func (k Key) ID() string { return k.id }

// IsSpan reports whether the key lives in the span-id namespace.
func (k Key) IsSpan() bool { return k.space == spanSpace }

// ServerSpan holds the start/end pair of a tracing span. Either side may be
// missing while events are still in flight.
type ServerSpan struct {
	Start    *event.SpanRecord `json:"start,omitempty"`
	End      *event.SpanRecord `json:"end,omitempty"`
	IsActive bool              `json:"isActive"`
}

// Node is the mutable unit of the reconstructed forest. Partial states are
// valid: a node may hold only a response, only a request, or only a span end
// buffered elsewhere; later events complete it without data loss.
type Node struct {
	SpanID       string                `json:"spanId,omitempty"`
	ParentSpanID string                `json:"parentSpanId,omitempty"`
	IsServerSpan bool                  `json:"isServerSpan"`
	ServerSpan   *ServerSpan           `json:"serverSpan,omitempty"`
	Request      *event.RequestRecord  `json:"request,omitempty"`
	Response     *event.ResponseRecord `json:"response,omitempty"`
	Children     []*Node               `json:"children,omitempty"`

	// owned marks a node that appears in some parent's Children list,
	// so root iteration can skip it.
	owned bool
}

// Tree is a flat map over every node, roots and children alike.
type Tree map[Key]*Node

// Label returns the node's identifying string: the span name for server
// spans, the request URL for HTTP exchanges.
func (n *Node) Label() string {
	if n.IsServerSpan && n.ServerSpan != nil {
		if n.ServerSpan.Start != nil {
			return n.ServerSpan.Start.Name
		}
		if n.ServerSpan.End != nil {
			return n.ServerSpan.End.Name
		}
	}
	if n.Request != nil {
		return n.Request.URL
	}
	return ""
}

// IsLeaf reports whether the node carries request/response data or has no
// children.
func (n *Node) IsLeaf() bool {
	return n.Request != nil || n.Response != nil || len(n.Children) == 0
}

// hasChildSpan reports whether Children already holds a server span with the
// given span id. Identity is by span id, not pointer, so redelivered events
// cannot append a second edge.
func (n *Node) hasChildSpan(spanID string) bool {
	for _, c := range n.Children {
		if c.IsServerSpan && c.SpanID == spanID {
			return true
		}
	}
	return false
}

// hasChildRequest reports whether Children already holds an exchange with
// the given request correlation id.
func (n *Node) hasChildRequest(id string) bool {
	for _, c := range n.Children {
		if c.Request != nil && c.Request.ID == id {
			return true
		}
		if c.Response != nil && c.Response.ID == id {
			return true
		}
	}
	return false
}

func (n *Node) appendChild(child *Node) {
	n.Children = append(n.Children, child)
	child.owned = true
}
