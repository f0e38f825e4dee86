package data

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Chunk) []string {
	t.Helper()
	var out []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		out = append(out, string(chunk.Data))
	}
	return out
}

func TestStreamWordBoundaries(t *testing.T) {
	p := FromString("hello\nworld\n", "text/plain", WithChunkDelay(0))
	chunks := collect(t, p.Stream(context.Background()))
	assert.Equal(t, []string{"hello\n", "world\n"}, chunks)
}

func TestStreamTrailingFragmentFlushed(t *testing.T) {
	p := FromString("abc", "text/plain", WithChunkDelay(0))
	chunks := collect(t, p.Stream(context.Background()))
	assert.Equal(t, []string{"abc"}, chunks)
}

func TestStreamWordsKeepTrailingWhitespace(t *testing.T) {
	p := FromString("one two  three ", "text/plain", WithChunkDelay(0))
	chunks := collect(t, p.Stream(context.Background()))
	assert.Equal(t, []string{"one ", "two  ", "three "}, chunks)
	assert.Equal(t, "one two  three ", strings.Join(chunks, ""))
}

func TestStreamLineBoundariesForJSON(t *testing.T) {
	body := "{\n\"a\": 1,\n\"b\": 2\n}"
	p := FromString(body, "application/json", WithChunkDelay(0))
	chunks := collect(t, p.Stream(context.Background()))
	assert.Equal(t, []string{"{\n", "\"a\": 1,\n", "\"b\": 2\n", "}"}, chunks)
	assert.Equal(t, body, strings.Join(chunks, ""))
}

func TestStreamOpaqueSingleChunk(t *testing.T) {
	raw := []byte{0x00, 0x0a, 0x20, 0xff}
	p := FromBytes(raw, "application/octet-stream", WithChunkDelay(0))
	chunks := collect(t, p.Stream(context.Background()))
	require.Len(t, chunks, 1)
	assert.Equal(t, string(raw), chunks[0])
}

func TestStreamEmptyPayloadEmitsNothing(t *testing.T) {
	p := FromString("", "text/plain", WithChunkDelay(0))
	chunks := collect(t, p.Stream(context.Background()))
	assert.Empty(t, chunks)
}

func TestStreamLiveSourceConsumedOnce(t *testing.T) {
	src := &countingReader{r: strings.NewReader("live stream bytes")}
	p := FromReader(src, "text/plain", WithChunkDelay(0))

	chunks := collect(t, p.Stream(context.Background()))
	assert.Equal(t, "live stream bytes", strings.Join(chunks, ""))
	assert.True(t, src.closed)

	reads := src.reads

	// The stream drained the source; later views must read the cache.
	text, err := p.Text()
	require.NoError(t, err)
	assert.Equal(t, "live stream bytes", text)
	assert.Equal(t, reads, src.reads)

	// A second stream is synthesized from the cache, not the source.
	again := collect(t, p.Stream(context.Background()))
	assert.Equal(t, "live stream bytes", strings.Join(again, ""))
	assert.Equal(t, reads, src.reads)
}

func TestStreamAfterDrainSynthesized(t *testing.T) {
	src := &countingReader{r: strings.NewReader("hello world")}
	p := FromReader(src, "text/plain", WithChunkDelay(0))

	_, err := p.Text()
	require.NoError(t, err)

	chunks := collect(t, p.Stream(context.Background()))
	assert.Equal(t, []string{"hello ", "world"}, chunks)
}

func TestStreamContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := FromString("a b c d e", "text/plain", WithChunkDelay(0))

	ch := p.Stream(ctx)
	first := <-ch
	require.NoError(t, first.Err)
	cancel()

	// The stream must terminate rather than leak its goroutine.
	for range ch {
	}
}

func TestChunkWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"abc", []string{"abc"}},
		{"a b", []string{"a ", "b"}},
		{"  leading", []string{"  ", "leading"}},
		{"tab\tsep", []string{"tab\t", "sep"}},
		{"hello\nworld\n", []string{"hello\n", "world\n"}},
	}
	for _, tt := range tests {
		got := chunkWords([]byte(tt.in))
		var gotStr []string
		for _, c := range got {
			gotStr = append(gotStr, string(c))
		}
		assert.Equal(t, tt.want, gotStr, "input %q", tt.in)
	}
}

func TestChunkLines(t *testing.T) {
	got := chunkLines([]byte("a\nb\nc"))
	require.Len(t, got, 3)
	assert.Equal(t, "a\n", string(got[0]))
	assert.Equal(t, "b\n", string(got[1]))
	assert.Equal(t, "c", string(got[2]))
}
