package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts envelopes to and from transport frames.
type Codec interface {
	Name() string
	Marshal(env Envelope) ([]byte, error)
	Unmarshal(data []byte) (Envelope, error)
	// Binary reports whether frames should be sent as binary messages.
	Binary() bool
}

var (
	// JSON encodes envelopes as JSON text, as browsers expect.
	JSON Codec = jsonCodec{}

	// Proto encodes envelopes as a protobuf google.protobuf.Struct.
	Proto Codec = protoCodec{}
)

// CodecFor returns the codec registered under name. An empty name selects JSON.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "proto", "protobuf":
		return Proto, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte) (Envelope, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Binary() bool { return true }

func (protoCodec) Marshal(env Envelope) ([]byte, error) {
	st, err := toProto(env)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (protoCodec) Unmarshal(data []byte) (Envelope, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromProto(st)
}

// toProto converts the envelope to a protobuf Struct with the same shape as
// its JSON form, so both codecs describe a single schema.
func toProto(env Envelope) (*structpb.Struct, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to convert envelope: %w", err)
	}
	return st, nil
}

// fromProto converts a protobuf Struct back into an envelope.
func fromProto(st *structpb.Struct) (Envelope, error) {
	data, err := protojson.Marshal(st)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return JSON.Unmarshal(data)
}
