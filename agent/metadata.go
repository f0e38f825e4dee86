package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Metadata is an insertion-ordered map of string keys to JSON-primitive
// values. Order matters because the legacy wire envelope serializes metadata
// verbatim and consumers diff it byte-for-byte.
type Metadata struct {
	keys   []string
	values map[string]any
}

// NewMetadata returns an empty Metadata.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]any)}
}

// Set stores value under key, preserving first-insertion order.
// It returns the receiver for chaining. A zero-value Metadata is usable.
func (m *Metadata) Set(key string, value any) *Metadata {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// GetString returns the value under key as a string, or defaultValue.
func (m *Metadata) GetString(key, defaultValue string) string {
	v, ok := m.Get(key)
	if !ok {
		return defaultValue
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultValue
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order. The slice is a snapshot.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Metadata) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// MarshalJSON serializes entries in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	if m == nil || len(m.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving the key order of the input.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	m.keys = nil
	m.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata must be a JSON object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("metadata key %q: %w", key, err)
		}
		m.Set(key, value)
	}
	_, err = dec.Token() // closing brace
	return err
}

// EncodeHeaders projects each entry onto h as an x-agentuity-<key> header.
// String, number, and boolean values are written as-is; anything else is
// JSON-encoded.
func (m *Metadata) EncodeHeaders(h http.Header) {
	m.Range(func(key string, value any) bool {
		h.Set(HeaderPrefix+key, HeaderValue(value))
		return true
	})
}

// HeaderValue renders a metadata value for transport in a header.
func HeaderValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// controlHeaders are runtime-owned and never decoded into metadata. A
// handler forwarding metadata to a nested invocation must not re-emit them;
// a leaked protocol header would flip the sibling's wire format.
var controlHeaders = map[string]bool{
	HeaderTrigger:    true,
	HeaderProtocol:   true,
	HeaderSessionID:  true,
	HeaderReplyToken: true,
}

// MetadataFromHeaders reconstructs metadata from x-agentuity-* headers,
// excluding the runtime's own control headers. Values that parse as JSON
// are decoded; everything else stays a string. Header order is not
// preserved by HTTP, so keys are sorted for determinism.
func MetadataFromHeaders(h http.Header) *Metadata {
	m := NewMetadata()
	keys := make([]string, 0, len(h))
	for name := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, HeaderPrefix) || controlHeaders[lower] {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		key := strings.TrimPrefix(strings.ToLower(name), HeaderPrefix)
		m.Set(key, decodeHeaderValue(h.Get(name)))
	}
	return m
}

func decodeHeaderValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}
