// Package wire encodes an agent response onto an HTTP response body using
// one of three formats: raw binary passthrough (the current default), the
// legacy base64-framed JSON envelope, and Server-Sent Events.
package wire

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/data"
	"github.com/agentuity/runtime-go/internal/observability"
)

// Format is the byte-level encoding of the HTTP response body.
type Format int

const (
	// FormatBinary streams the raw payload bytes; metadata travels as
	// x-agentuity-* headers.
	FormatBinary Format = iota
	// FormatLegacy wraps the payload in a JSON envelope with a streamed
	// base64 payload field.
	FormatLegacy
	// FormatSSE frames each payload chunk as a Server-Sent Event.
	FormatSSE
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatSSE:
		return "sse"
	default:
		return "binary"
	}
}

// Negotiate picks the wire format. An Accept header containing
// text/event-stream always wins; otherwise the legacy protocol flag decides
// between the envelope and raw binary.
func Negotiate(accept string, legacy bool) Format {
	if strings.Contains(accept, "text/event-stream") {
		return FormatSSE
	}
	if legacy {
		return FormatLegacy
	}
	return FormatBinary
}

// NegotiateRequest derives the format from an inbound request's headers.
func NegotiateRequest(r *http.Request) Format {
	return Negotiate(r.Header.Get("Accept"), strings.EqualFold(r.Header.Get(agent.HeaderProtocol), "legacy"))
}

// Encoder writes agent responses in a negotiated wire format.
type Encoder struct {
	// Debug switches 500 bodies from the error message to a full stack.
	Debug bool
}

// Encode writes resp to w in the given format. A failure before any body
// byte has been written is converted to a 500 response carrying the error
// text instead of partial protocol framing; a failure mid-stream aborts the
// body and is returned for logging.
func (e *Encoder) Encode(ctx context.Context, w http.ResponseWriter, format Format, resp *agent.Response) error {
	ctx, span := observability.StartSpan(ctx, "wire.encode", map[string]any{
		"wire.format": format.String(),
	})
	defer span.End()

	if resp == nil {
		resp = &agent.Response{}
	}
	payload := resp.Data
	if payload == nil {
		payload = data.FromBytes(nil, "")
	}

	sink := &trackedWriter{w: w}
	var err error
	switch format {
	case FormatLegacy:
		err = e.encodeLegacy(ctx, sink, payload, resp.Metadata)
	case FormatSSE:
		err = e.encodeSSE(ctx, sink, payload)
	default:
		err = e.encodeBinary(ctx, sink, payload, resp.Metadata)
	}
	if err == nil {
		return nil
	}

	span.RecordError(err)
	if !sink.wrote {
		e.writeError(w, err)
		return nil
	}
	return fmt.Errorf("encoding %s response after %d bytes: %w", format, sink.n, err)
}

func (e *Encoder) encodeBinary(ctx context.Context, sink *trackedWriter, payload *data.Payload, md *agent.Metadata) error {
	h := sink.w.Header()
	h.Set("Content-Type", payload.ContentType())
	md.EncodeHeaders(h)

	for chunk := range payload.Stream(ctx) {
		if chunk.Err != nil {
			return chunk.Err
		}
		if err := sink.write(chunk.Data); err != nil {
			return err
		}
		sink.flush()
	}
	return ctx.Err()
}

func (e *Encoder) encodeLegacy(ctx context.Context, sink *trackedWriter, payload *data.Payload, md *agent.Metadata) error {
	sink.w.Header().Set("Content-Type", "application/json")

	metadataJSON := []byte("null")
	if md != nil {
		var err error
		metadataJSON, err = json.Marshal(md)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
	}
	contentTypeJSON, err := json.Marshal(payload.ContentType())
	if err != nil {
		return err
	}

	prefix := fmt.Sprintf(`{"contentType":%s,"metadata":%s,"payload":"`, contentTypeJSON, metadataJSON)
	if err := sink.write([]byte(prefix)); err != nil {
		return err
	}

	// The base64 encoder emits only whole 3-byte groups per write, holding
	// back 1-2 leftover bytes until the next chunk, and flushes the
	// remainder on Close. Concatenated output stays valid base64 no matter
	// how the chunk boundaries fall.
	b64 := base64.NewEncoder(base64.StdEncoding, sink)
	for chunk := range payload.Stream(ctx) {
		if chunk.Err != nil {
			return chunk.Err
		}
		if _, err := b64.Write(chunk.Data); err != nil {
			return err
		}
		sink.flush()
	}
	if err := b64.Close(); err != nil {
		return err
	}
	if err := sink.write([]byte(`"}`)); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Encoder) encodeSSE(ctx context.Context, sink *trackedWriter, payload *data.Payload) error {
	h := sink.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	for chunk := range payload.Stream(ctx) {
		if chunk.Err != nil {
			return chunk.Err
		}
		if err := sink.write([]byte(fmt.Sprintf("data: %s\n\n", chunk.Data))); err != nil {
			return err
		}
		sink.flush()
	}
	return ctx.Err()
}

func (e *Encoder) writeError(w http.ResponseWriter, err error) {
	body := err.Error()
	if e.Debug {
		body = body + "\n\n" + string(debug.Stack())
	}
	http.Error(w, body, http.StatusInternalServerError)
}

// trackedWriter records whether any body byte has reached the wire, which
// decides between a clean 500 and an aborted stream on failure.
type trackedWriter struct {
	w     http.ResponseWriter
	wrote bool
	n     int
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.wrote = true
		t.n += n
	}
	return n, err
}

func (t *trackedWriter) write(p []byte) error {
	_, err := t.Write(p)
	return err
}

func (t *trackedWriter) flush() {
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
}
