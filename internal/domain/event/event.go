package event

// Kind identifies the wire frame type
type Kind string

const (
	KindSpanStart Kind = "span-start"
	KindSpanEnd   Kind = "span-end"
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
	KindCatchUp   Kind = "catch-up"
	KindClearAll  Kind = "clear-all"
)

// SpanRef references another span within the same trace
type SpanRef struct {
	SpanID  string `json:"spanId"`
	TraceID string `json:"traceId"`
}

// SpanRecord is the payload of span-start and span-end frames.
// Name carries the human-readable identifier ("id" on the wire,
// distinct from the opaque spanId).
type SpanRecord struct {
	SpanID     string   `json:"spanId"`
	TraceID    string   `json:"traceId"`
	ParentSpan *SpanRef `json:"parentSpan,omitempty"`
	Start      int64    `json:"start"`
	End        int64    `json:"end,omitempty"`
	Name       string   `json:"id,omitempty"`
}

// RequestRecord describes an outbound HTTP request observed inside a span.
// ID is the request correlation id, a namespace separate from span ids;
// SpanID names the containing span.
type RequestRecord struct {
	ID      string            `json:"id"`
	SpanID  string            `json:"spanId,omitempty"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Start   int64             `json:"start"`
}

// ResponseRecord pairs with a RequestRecord via the shared correlation ID.
type ResponseRecord struct {
	ID         string            `json:"id"`
	SpanID     string            `json:"spanId,omitempty"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	End        int64             `json:"end"`
}

// Event is the tagged union of all wire frames. The set is sealed: only
// the six types in this package implement it.
type Event interface {
	Kind() Kind
}

// SpanStart announces that a server span began.
type SpanStart struct {
	Span SpanRecord
}

// SpanEnd announces that a server span completed.
type SpanEnd struct {
	Span SpanRecord
}

// Request announces an outbound HTTP request.
type Request struct {
	Request RequestRecord
}

// Response announces the response to a previously announced request.
type Response struct {
	Response ResponseRecord
}

// CatchUp wraps a replay of historical events, delivered once per new
// connection before any live event. Order within the batch is meaningful.
type CatchUp struct {
	Events []Event
}

// ClearAll instructs the relay to discard its replay log; viewers discard
// their local tree in response.
type ClearAll struct{}

func (SpanStart) Kind() Kind { return KindSpanStart }
func (SpanEnd) Kind() Kind   { return KindSpanEnd }
func (Request) Kind() Kind   { return KindRequest }
func (Response) Kind() Kind  { return KindResponse }
func (CatchUp) Kind() Kind   { return KindCatchUp }
func (ClearAll) Kind() Kind  { return KindClearAll }
