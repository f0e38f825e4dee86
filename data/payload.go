package data

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultContentType is used when a payload is constructed without one.
// Content types are never inferred from content.
const DefaultContentType = "application/octet-stream"

// ErrInvalidJSON is returned by the JSON views when the payload text is
// empty or does not parse.
var ErrInvalidJSON = errors.New("data is not valid JSON")

// Category classifies how a payload is split for streaming. It is computed
// once at construction instead of re-matching the content type on every
// streaming call.
type Category int

const (
	// CategoryOpaque content streams as a single chunk.
	CategoryOpaque Category = iota
	// CategoryText (text/*) streams in word-boundary chunks.
	CategoryText
	// CategoryLines (application/json and +json types) streams in
	// line-boundary chunks.
	CategoryLines
)

type payloadState int

const (
	stateCached payloadState = iota
	stateUnconsumed
	stateDraining
)

// Payload owns one byte payload and exposes derived views of it.
// All views are side-effect-free after the first drain.
type Payload struct {
	contentType string
	category    Category
	chunkDelay  time.Duration

	mu       sync.Mutex
	state    payloadState
	source   io.Reader
	buf      []byte
	drainErr error
	done     chan struct{} // closed when the drain settles
}

// Option configures a Payload at construction.
type Option func(*Payload)

// WithChunkDelay overrides the fixed delay emitted between synthesized
// stream chunks. Zero disables the delay.
func WithChunkDelay(d time.Duration) Option {
	return func(p *Payload) {
		p.chunkDelay = d
	}
}

const defaultChunkDelay = 10 * time.Millisecond

func newPayload(contentType string, opts ...Option) *Payload {
	if contentType == "" {
		contentType = DefaultContentType
	}
	p := &Payload{
		contentType: contentType,
		category:    Classify(contentType),
		chunkDelay:  defaultChunkDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromString builds a payload from a UTF-8 string.
func FromString(s string, contentType string, opts ...Option) *Payload {
	p := newPayload(contentType, opts...)
	p.buf = []byte(s)
	return p
}

// FromBytes builds a payload from an in-memory byte buffer.
// The slice is not copied; callers must not mutate it afterwards.
func FromBytes(b []byte, contentType string, opts ...Option) *Payload {
	p := newPayload(contentType, opts...)
	p.buf = b
	return p
}

// FromReader builds a payload from a pull-based byte source. The source is
// not read until a view requires it; it is drained at most once and closed
// after the drain if it implements io.Closer.
func FromReader(r io.Reader, contentType string, opts ...Option) *Payload {
	p := newPayload(contentType, opts...)
	p.state = stateUnconsumed
	p.source = r
	return p
}

// Classify maps a content type to its streaming category.
func Classify(contentType string) Category {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "text/"):
		return CategoryText
	case ct == "application/json" || strings.HasSuffix(ct, "+json"):
		return CategoryLines
	default:
		return CategoryOpaque
	}
}

// ContentType returns the payload's content type.
func (p *Payload) ContentType() string {
	return p.contentType
}

// Category returns the streaming category computed at construction.
func (p *Payload) Category() Category {
	return p.category
}

// Buffer returns the cached payload bytes, draining the source if it has
// not been consumed yet. The returned slice is the internal cache; callers
// must not modify it. Use Binary for a safe copy.
func (p *Payload) Buffer() ([]byte, error) {
	return p.drain()
}

// Binary returns a copy of the payload bytes.
func (p *Payload) Binary() ([]byte, error) {
	buf, err := p.drain()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// Text returns the payload decoded as a UTF-8 string.
func (p *Payload) Text() (string, error) {
	buf, err := p.drain()
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// JSON parses the payload into v.
func (p *Payload) JSON(v any) error {
	buf, err := p.drain()
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidJSON)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// JSONValue parses the payload into a generic value.
func (p *Payload) JSONValue() (any, error) {
	var v any
	if err := p.JSON(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Base64 returns the payload encoded as standard base64. This is also the
// wire representation used by the legacy envelope protocol.
func (p *Payload) Base64() (string, error) {
	buf, err := p.drain()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Blob is a typed byte view carrying the payload's content type.
type Blob struct {
	ContentType string
	Data        []byte
}

// Blob returns the payload as a typed byte view.
func (p *Payload) Blob() (*Blob, error) {
	buf, err := p.Binary()
	if err != nil {
		return nil, err
	}
	return &Blob{ContentType: p.contentType, Data: buf}, nil
}

// drain transitions the payload to the cached state, reading the source in
// full exactly once. Concurrent callers during a drain block until the
// first drain settles.
func (p *Payload) drain() ([]byte, error) {
	p.mu.Lock()
	switch p.state {
	case stateCached:
		buf, err := p.buf, p.drainErr
		p.mu.Unlock()
		return buf, err

	case stateDraining:
		done := p.done
		p.mu.Unlock()
		<-done
		p.mu.Lock()
		buf, err := p.buf, p.drainErr
		p.mu.Unlock()
		return buf, err

	default: // stateUnconsumed
		src := p.claimSourceLocked()
		p.mu.Unlock()

		buf, err := io.ReadAll(src)
		if err != nil {
			err = fmt.Errorf("draining payload source: %w", err)
		}
		closeSource(src)
		p.settleDrain(buf, err)
		return buf, err
	}
}

// claimSourceLocked moves the payload into the draining state and takes
// ownership of the source. Callers must hold p.mu.
func (p *Payload) claimSourceLocked() io.Reader {
	src := p.source
	p.source = nil
	p.state = stateDraining
	p.done = make(chan struct{})
	return src
}

// settleDrain records the drain result and wakes any waiters.
func (p *Payload) settleDrain(buf []byte, err error) {
	p.mu.Lock()
	p.buf = buf
	p.drainErr = err
	p.state = stateCached
	close(p.done)
	p.mu.Unlock()
}

func closeSource(src io.Reader) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}
