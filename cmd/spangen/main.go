// spangen pushes a synthetic trace at a spandeck relay so the relay and
// its viewers can be exercised without a real instrumentation agent.
//
// The generated trace is a root span containing a configurable number of
// child spans, each issuing one or more outbound request/response pairs.
// With -shuffle the frames are delivered out of causal order, which is the
// interesting case for the reconstruction engine.
package main

import (
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spandeck/spandeck/internal/domain/event"
	"github.com/spandeck/spandeck/internal/shared/id"
)

func main() {
	relay := flag.String("relay", "http://localhost:8090", "Relay base URL")
	children := flag.Int("children", 3, "Child spans under the root")
	requests := flag.Int("requests", 2, "Outbound requests per child span")
	shuffle := flag.Bool("shuffle", false, "Deliver frames out of causal order")
	flag.Parse()

	events := generateTrace(*children, *requests)
	if *shuffle {
		rand.Shuffle(len(events), func(i, j int) {
			events[i], events[j] = events[j], events[i]
		})
	}

	batch, err := event.EncodeBatch(events)
	if err != nil {
		log.Fatalf("Failed to encode batch: %v", err)
	}

	client := resty.New().
		SetBaseURL(*relay).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond)

	resp, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(batch).
		Post("/ingest")
	if err != nil {
		log.Fatalf("Failed to push batch: %v", err)
	}

	log.Printf("Pushed %d frames: %s", len(events), resp.Status())
}

func generateTrace(children, requests int) []event.Event {
	traceID := id.NewTraceID().String()
	rootID := id.NewSpanID().String()
	now := time.Now().UnixMilli()

	root := event.SpanRecord{
		SpanID:  rootID,
		TraceID: traceID,
		Start:   now,
		Name:    "GET /checkout",
	}

	events := []event.Event{event.SpanStart{Span: root}}
	cursor := now

	for i := 0; i < children; i++ {
		childID := id.NewSpanID().String()
		cursor += int64(5 + rand.Intn(20))
		child := event.SpanRecord{
			SpanID:  childID,
			TraceID: traceID,
			ParentSpan: &event.SpanRef{
				SpanID:  rootID,
				TraceID: traceID,
			},
			Start: cursor,
			Name:  childName(i),
		}
		events = append(events, event.SpanStart{Span: child})

		for r := 0; r < requests; r++ {
			reqID := id.NewRequestID().String()
			cursor += int64(2 + rand.Intn(10))
			events = append(events, event.Request{Request: event.RequestRecord{
				ID:     reqID,
				SpanID: childID,
				Method: "GET",
				URL:    requestURL(i, r),
				Headers: map[string]string{
					"accept": "application/json",
				},
				Start: cursor,
			}})
			cursor += int64(10 + rand.Intn(40))
			events = append(events, event.Response{Response: event.ResponseRecord{
				ID:         reqID,
				SpanID:     childID,
				Status:     200,
				StatusText: "OK",
				End:        cursor,
			}})
		}

		cursor += int64(2 + rand.Intn(10))
		child.End = cursor
		events = append(events, event.SpanEnd{Span: child})
	}

	cursor += int64(5 + rand.Intn(20))
	root.End = cursor
	events = append(events, event.SpanEnd{Span: root})
	return events
}

func childName(i int) string {
	names := []string{"loadCart", "priceItems", "checkInventory", "applyPromotions", "renderSummary"}
	return names[i%len(names)]
}

func requestURL(i, r int) string {
	urls := []string{
		"https://api.internal/cart",
		"https://api.internal/pricing",
		"https://api.internal/inventory",
		"https://api.internal/promotions",
	}
	return urls[(i+r)%len(urls)]
}
