package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Names of the fields the gateway injects into structured payloads. The
// cachedError/cache_error spelling difference is part of the wire format.
const (
	FieldCachedResponse = "cachedResponse"
	FieldCachedError    = "cachedError"
	FieldCacheError     = "cache_error"
)

// errNotObject reports a body that is valid JSON but not an object.
var errNotObject = errors.New("payload is not a JSON object")

type payloadKind int

const (
	payloadRaw payloadKind = iota
	payloadObject
)

type member struct {
	name  string
	value json.RawMessage
}

// Payload is either raw bytes passed through untouched or a JSON object whose
// field order is preserved from the upstream body.
type Payload struct {
	kind    payloadKind
	raw     []byte
	members []member
}

// RawPayload wraps bytes that must be returned verbatim.
func RawPayload(data []byte) Payload {
	return Payload{kind: payloadRaw, raw: data}
}

// ParseObject decodes data as a single JSON object. Duplicate names keep
// their first position and their last value.
func ParseObject(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return Payload{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Payload{}, errNotObject
	}

	p := Payload{kind: payloadObject}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Payload{}, err
		}
		name, ok := tok.(string)
		if !ok {
			return Payload{}, fmt.Errorf("unexpected object key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return Payload{}, err
		}
		p.set(name, compact(value))
	}
	if _, err := dec.Token(); err != nil {
		return Payload{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, errors.New("unexpected data after JSON object")
	}
	return p, nil
}

// NewObject returns an empty structured payload.
func NewObject() Payload {
	return Payload{kind: payloadObject}
}

// IsObject reports whether the payload is structured.
func (p Payload) IsObject() bool {
	return p.kind == payloadObject
}

// Field returns the raw JSON value stored under name.
func (p Payload) Field(name string) (json.RawMessage, bool) {
	for _, m := range p.members {
		if m.name == name {
			return m.value, true
		}
	}
	return nil, false
}

// StringField returns the value under name when it is a JSON string.
func (p Payload) StringField(name string) (string, bool) {
	raw, ok := p.Field(name)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// MarkCachedResponse sets cachedResponse to true.
func (p *Payload) MarkCachedResponse() {
	p.set(FieldCachedResponse, json.RawMessage("true"))
}

// SetCachedError records the outcome of a fallback read; nil encodes as null.
func (p *Payload) SetCachedError(info *ErrorInfo) {
	if info == nil {
		p.set(FieldCachedError, json.RawMessage("null"))
		return
	}
	p.set(FieldCachedError, encodeValue(info))
}

// SetCacheError records a failed cache write.
func (p *Payload) SetCacheError(info ErrorInfo) {
	p.set(FieldCacheError, encodeValue(info))
}

// Set stores an arbitrary JSON-encodable value under name.
func (p *Payload) Set(name string, value interface{}) {
	p.set(name, encodeValue(value))
}

// Bytes renders the payload: raw bytes unchanged, objects as compact JSON.
func (p Payload) Bytes() []byte {
	if p.kind == payloadRaw {
		return p.raw
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range p.members {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(encodeValue(m.name))
		buf.WriteByte(':')
		buf.Write(m.value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func (p *Payload) set(name string, value json.RawMessage) {
	if p.kind != payloadObject {
		return
	}
	for i := range p.members {
		if p.members[i].name == name {
			p.members[i].value = value
			return
		}
	}
	p.members = append(p.members, member{name: name, value: value})
}

func encodeValue(v interface{}) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n"))
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}
