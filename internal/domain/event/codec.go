package event

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// envelope is the generic wire frame: {"type": ..., "data": ...}
type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses a single wire frame into its concrete event type.
// Catch-up batches are decoded recursively.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return decodeEnvelope(env)
}

// DecodeBatch parses a JSON array of frames, preserving order.
func DecodeBatch(frames []byte) ([]Event, error) {
	var envs []envelope
	if err := sonic.Unmarshal(frames, &envs); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	events := make([]Event, 0, len(envs))
	for i, env := range envs {
		ev, err := decodeEnvelope(env)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeEnvelope(env envelope) (Event, error) {
	switch env.Type {
	case KindSpanStart:
		var rec SpanRecord
		if err := sonic.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("span-start payload: %w", err)
		}
		return SpanStart{Span: rec}, nil
	case KindSpanEnd:
		var rec SpanRecord
		if err := sonic.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("span-end payload: %w", err)
		}
		return SpanEnd{Span: rec}, nil
	case KindRequest:
		var rec RequestRecord
		if err := sonic.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("request payload: %w", err)
		}
		return Request{Request: rec}, nil
	case KindResponse:
		var rec ResponseRecord
		if err := sonic.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("response payload: %w", err)
		}
		return Response{Response: rec}, nil
	case KindCatchUp:
		if len(env.Data) == 0 {
			return CatchUp{}, nil
		}
		events, err := DecodeBatch(env.Data)
		if err != nil {
			return nil, fmt.Errorf("catch-up payload: %w", err)
		}
		return CatchUp{Events: events}, nil
	case KindClearAll:
		return ClearAll{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

// Encode serializes an event back to its wire frame.
func Encode(ev Event) ([]byte, error) {
	env, err := toEnvelope(ev)
	if err != nil {
		return nil, err
	}
	frame, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", ev.Kind(), err)
	}
	return frame, nil
}

// EncodeBatch serializes events as a JSON array of frames.
func EncodeBatch(events []Event) ([]byte, error) {
	envs := make([]envelope, 0, len(events))
	for _, ev := range events {
		env, err := toEnvelope(ev)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	out, err := sonic.Marshal(envs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return out, nil
}

func toEnvelope(ev Event) (envelope, error) {
	var payload any
	switch e := ev.(type) {
	case SpanStart:
		payload = e.Span
	case SpanEnd:
		payload = e.Span
	case Request:
		payload = e.Request
	case Response:
		payload = e.Response
	case CatchUp:
		batch, err := EncodeBatch(e.Events)
		if err != nil {
			return envelope{}, err
		}
		return envelope{Type: KindCatchUp, Data: batch}, nil
	case ClearAll:
		return envelope{Type: KindClearAll}, nil
	default:
		return envelope{}, fmt.Errorf("unknown event type %T", ev)
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("failed to encode %s payload: %w", ev.Kind(), err)
	}
	return envelope{Type: ev.Kind(), Data: data}, nil
}
