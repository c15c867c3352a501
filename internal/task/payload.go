package task

import (
	"encoding/json"
	"fmt"
)

// envelopeVersion is the schema_version stamped on every envelope placed on
// Q, per spec §9 ("a versioned, self-describing binary envelope
// {kind_tag, schema_version, payload_bytes}").
const envelopeVersion = 1

// envelope is the opaque byte-string payload spec §4.4 describes: produced
// by a general-purpose serializer (encoding/json here), containing only
// trivially serializable data (scalars, strings, byte strings, time values,
// and references to the task's data directory).
type envelope struct {
	Token         string          `json:"token"`
	Kind          string          `json:"kind"`
	SchemaVersion int             `json:"schema_version"`
	Params        json.RawMessage `json:"params"`
}

// marshalPayload serializes params to JSON and, per spec §4.4, attempts a
// round trip through a fresh instance of the variant's parameter type. This
// is the only defense available in a statically-typed rewrite against a
// caller smuggling a non-serializable value (a live callable, an open file
// descriptor) into a task body: anything that fails to decode back into the
// declared parameter shape is rejected before it ever reaches Q.
func marshalPayload(v Variant, token string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("serialize task payload: %w", err)
	}
	if _, err := v.decodeParams(raw); err != nil {
		return nil, fmt.Errorf("payload failed round-trip check: %w", err)
	}
	env := envelope{
		Token:         token,
		Kind:          v.Kind,
		SchemaVersion: envelopeVersion,
		Params:        raw,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("serialize envelope: %w", err)
	}
	return out, nil
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
