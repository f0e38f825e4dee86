package data

import (
	"bytes"
	"context"
	"io"
	"time"
)

// Chunk is one unit of streamed payload data. A chunk with a non-nil Err
// terminates the stream.
type Chunk struct {
	Data []byte
	Err  error
}

// streamReadSize is the buffer size used when pumping a live source.
const streamReadSize = 32 * 1024

// Stream exposes the payload as a pull-based chunk sequence.
//
// If the payload still holds a live, not-yet-drained source, that exact
// source is consumed and its bytes are teed into the cache so later views
// read the same data without a second drain of the source. Otherwise
// a fresh stream is synthesized by chunking the cached buffer according to
// the payload's category, with a fixed delay between chunks. Any trailing
// partial fragment after the last boundary is flushed before closing.
func (p *Payload) Stream(ctx context.Context) <-chan Chunk {
	ch := make(chan Chunk)

	p.mu.Lock()
	if p.state == stateUnconsumed {
		src := p.claimSourceLocked()
		p.mu.Unlock()
		go p.pumpSource(ctx, src, ch)
		return ch
	}
	p.mu.Unlock()

	go p.synthesize(ctx, ch)
	return ch
}

// pumpSource streams the live source chunk by chunk, accumulating the bytes
// so the cache holds the full payload once the source is exhausted.
func (p *Payload) pumpSource(ctx context.Context, src io.Reader, ch chan<- Chunk) {
	defer close(ch)

	var cache bytes.Buffer
	buf := make([]byte, streamReadSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cache.Write(chunk)
			select {
			case ch <- Chunk{Data: chunk}:
			case <-ctx.Done():
				closeSource(src)
				p.settleDrain(cache.Bytes(), ctx.Err())
				return
			}
		}
		if err == io.EOF {
			closeSource(src)
			p.settleDrain(cache.Bytes(), nil)
			return
		}
		if err != nil {
			closeSource(src)
			p.settleDrain(cache.Bytes(), err)
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// synthesize chunks the cached buffer, waiting for an in-flight drain first.
func (p *Payload) synthesize(ctx context.Context, ch chan<- Chunk) {
	defer close(ch)

	buf, err := p.drain()
	if err != nil {
		select {
		case ch <- Chunk{Err: err}:
		case <-ctx.Done():
		}
		return
	}
	if len(buf) == 0 {
		return
	}

	var chunks [][]byte
	switch p.category {
	case CategoryText:
		chunks = chunkWords(buf)
	case CategoryLines:
		chunks = chunkLines(buf)
	default:
		chunks = [][]byte{buf}
	}

	for i, chunk := range chunks {
		if i > 0 && p.chunkDelay > 0 {
			select {
			case <-time.After(p.chunkDelay):
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- Chunk{Data: chunk}:
		case <-ctx.Done():
			return
		}
	}
}

// chunkWords splits b so each chunk is a non-space run plus the whitespace
// that follows it. A trailing fragment with no boundary is kept as-is.
func chunkWords(b []byte) [][]byte {
	var chunks [][]byte
	start := 0
	inSpace := false
	for i := 0; i < len(b); i++ {
		isSpace := asciiSpace(b[i])
		if inSpace && !isSpace {
			chunks = append(chunks, b[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(b) {
		chunks = append(chunks, b[start:])
	}
	return chunks
}

// chunkLines splits b after each newline. A trailing fragment with no
// newline is kept as-is.
func chunkLines(b []byte) [][]byte {
	var chunks [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			chunks = append(chunks, b)
			break
		}
		chunks = append(chunks, b[:i+1])
		b = b[i+1:]
	}
	return chunks
}

func asciiSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
