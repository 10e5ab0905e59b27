// Package broker publishes the session event stream to Kafka and reads it
// back. Events travel as JSON or as a protobuf envelope.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"tradingfloor/events"
)

// Codec converts events to and from message values.
type Codec interface {
	Encode(e events.Event) ([]byte, error)
	Decode(b []byte) (events.Event, error)
	ContentType() string
}

// CodecByName resolves "json" or "proto".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "proto", "protobuf":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown event codec %q", name)
	}
}

type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(e events.Event) ([]byte, error) {
	return json.Marshal(e)
}

func (JSONCodec) Decode(b []byte) (events.Event, error) {
	var raw struct {
		Seq       int64           `json:"seq"`
		SessionID string          `json:"sessionId"`
		Kind      events.Kind     `json:"kind"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return events.Event{}, fmt.Errorf("decode event: %w", err)
	}
	payload := events.NewPayload(raw.Kind)
	if len(raw.Payload) > 0 {
		if err := json.Unmarshal(raw.Payload, payload); err != nil {
			return events.Event{}, fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
	}
	return events.Event{Seq: raw.Seq, SessionID: raw.SessionID, Kind: raw.Kind, Timestamp: raw.Timestamp, Payload: payload}, nil
}

// ProtoCodec wraps each event in a structpb.Struct envelope:
//
//	{seq, sessionId, kind, tsSeconds, tsNanos, payload}
//
// The payload is carried in its JSON shape. Numbers travel as doubles, which
// is exact for every price, quantity and sequence a session produces.
type ProtoCodec struct{}

func (ProtoCodec) ContentType() string { return "application/x-protobuf" }

func (ProtoCodec) Encode(e events.Event) ([]byte, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	payload := &structpb.Value{}
	if err := protojson.Unmarshal(payloadJSON, payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	ts := timestamppb.New(e.Timestamp)
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		"seq":       structpb.NewNumberValue(float64(e.Seq)),
		"sessionId": structpb.NewStringValue(e.SessionID),
		"kind":      structpb.NewStringValue(string(e.Kind)),
		"tsSeconds": structpb.NewNumberValue(float64(ts.GetSeconds())),
		"tsNanos":   structpb.NewNumberValue(float64(ts.GetNanos())),
		"payload":   payload,
	}}
	return proto.Marshal(env)
}

func (ProtoCodec) Decode(b []byte) (events.Event, error) {
	env := &structpb.Struct{}
	if err := proto.Unmarshal(b, env); err != nil {
		return events.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	f := env.GetFields()
	ts := &timestamppb.Timestamp{
		Seconds: int64(f["tsSeconds"].GetNumberValue()),
		Nanos:   int32(f["tsNanos"].GetNumberValue()),
	}
	if err := ts.CheckValid(); err != nil {
		return events.Event{}, fmt.Errorf("decode timestamp: %w", err)
	}
	e := events.Event{
		Seq:       int64(f["seq"].GetNumberValue()),
		SessionID: f["sessionId"].GetStringValue(),
		Kind:      events.Kind(f["kind"].GetStringValue()),
		Timestamp: ts.AsTime(),
	}
	payload := events.NewPayload(e.Kind)
	if v, ok := f["payload"]; ok {
		raw, err := protojson.Marshal(v)
		if err != nil {
			return events.Event{}, fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
		if err := json.Unmarshal(raw, payload); err != nil {
			return events.Event{}, fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
	}
	e.Payload = payload
	return e, nil
}
