// Package correlate matches asynchronous out-of-band reply callbacks to the
// invocations awaiting them, via an opaque reply token.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/pkg/observability"
)

// ErrReplyTimeout is returned by Pending.Await when no callback arrives
// before the registry's deadline.
var ErrReplyTimeout = errors.New("timed out waiting for agent reply")

// DefaultReplyTTL bounds how long a pending invocation may wait for its
// callback before being rejected and removed.
const DefaultReplyTTL = 5 * time.Minute

// Reply is the payload delivered by a reply callback.
type Reply struct {
	ContentType string          `json:"contentType"`
	Payload     string          `json:"payload"` // base64-encoded body
	Metadata    *agent.Metadata `json:"metadata,omitempty"`
}

// Correlator stores pending invocations and delivers replies to them.
type Correlator interface {
	// Register stores a pending invocation under token.
	Register(ctx context.Context, token string) (*Pending, error)

	// Received delivers a reply for token. An unknown or already-resolved
	// token is a silent no-op.
	Received(ctx context.Context, token string, reply *Reply)
}

type result struct {
	reply *Reply
	err   error
}

// Pending is one invocation awaiting its reply.
type Pending struct {
	token   string
	done    chan result
	settled chan struct{}
	once    sync.Once
}

func newPending(token string) *Pending {
	return &Pending{
		token:   token,
		done:    make(chan result, 1),
		settled: make(chan struct{}),
	}
}

// Token returns the opaque reply token.
func (p *Pending) Token() string {
	return p.token
}

// Await blocks until the reply arrives, the deadline rejects the entry, or
// ctx is done.
func (p *Pending) Await(ctx context.Context) (*Reply, error) {
	select {
	case res := <-p.done:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled is closed once the entry has been resolved or expired. It lets
// auxiliary listeners (e.g. the Redis bridge) release their resources.
func (p *Pending) Settled() <-chan struct{} {
	return p.settled
}

func (p *Pending) settle(res result) {
	p.once.Do(func() {
		p.done <- res
		close(p.settled)
	})
}

// Registry is the in-process correlator: a map of reply token to pending
// invocation. Entries carry a deadline; an expired entry is removed and its
// waiter rejected with ErrReplyTimeout so callers cannot hang forever and
// the map cannot grow without bound.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	ttl     time.Duration
}

type pendingEntry struct {
	p     *Pending
	timer *time.Timer
}

// NewRegistry returns a registry whose entries expire after ttl.
// A zero ttl uses DefaultReplyTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultReplyTTL
	}
	return &Registry{
		pending: make(map[string]*pendingEntry),
		ttl:     ttl,
	}
}

// Register stores a pending invocation under token. A token may hold at
// most one entry: re-registering would leave the first entry's expiry timer
// racing against the second waiter.
func (r *Registry) Register(_ context.Context, token string) (*Pending, error) {
	p := newPending(token)
	entry := &pendingEntry{p: p}
	entry.timer = time.AfterFunc(r.ttl, func() {
		r.expire(token)
	})

	r.mu.Lock()
	if _, exists := r.pending[token]; exists {
		r.mu.Unlock()
		entry.timer.Stop()
		return nil, fmt.Errorf("reply token %q already registered", token)
	}
	r.pending[token] = entry
	r.mu.Unlock()
	return p, nil
}

// Received looks up and removes the entry for token. If found, the waiting
// invocation is resolved with reply; otherwise the call is a no-op.
func (r *Registry) Received(_ context.Context, token string, reply *Reply) {
	entry := r.remove(token)
	if entry == nil {
		observability.RecordReplyCorrelation("unknown")
		return
	}
	entry.timer.Stop()
	entry.p.settle(result{reply: reply})
	observability.RecordReplyCorrelation("delivered")
}

// Len returns the number of outstanding entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) expire(token string) {
	entry := r.remove(token)
	if entry == nil {
		return
	}
	entry.p.settle(result{err: ErrReplyTimeout})
	observability.RecordReplyCorrelation("expired")
}

func (r *Registry) remove(token string) *pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.pending[token]
	if !ok {
		return nil
	}
	delete(r.pending, token)
	return entry
}
