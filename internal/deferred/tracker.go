// Package deferred tracks background work spawned during a request so a
// session is not considered complete until that work drains.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	tracing "github.com/agentuity/runtime-go/internal/observability"
	"github.com/agentuity/runtime-go/pkg/observability"
)

// ErrFinalized is returned when a tracker is used after finalization has
// been invoked. Trackers are single-use: one per request.
var ErrFinalized = errors.New("deferred tracker already finalized")

// SessionCompleter is notified once all deferred work for a session has
// drained. The runtime's control-plane client implements it; downstream
// evaluation jobs hang off that signal.
type SessionCompleter interface {
	CompleteSession(ctx context.Context, sessionID string, elapsed time.Duration) error
}

// Tracker accepts background tasks during a request and gates session
// completion on all of them settling. Tasks start immediately on
// registration; completion order is unconstrained.
type Tracker struct {
	busy      *observability.Busy
	completer SessionCompleter

	mu          sync.Mutex
	finalized   bool
	count       int
	outstanding int
	started     time.Time
	errs        []error
	wg          sync.WaitGroup
}

// NewTracker returns a tracker reporting to busy and completer.
// completer may be nil.
func NewTracker(busy *observability.Busy, completer SessionCompleter) *Tracker {
	return &Tracker{busy: busy, completer: completer}
}

// WaitUntil starts task immediately in its own goroutine and span and
// tracks it until it settles. The first registration marks the session
// start. It fails with ErrFinalized once WaitUntilAll has been invoked.
func (t *Tracker) WaitUntil(task func(ctx context.Context) error) error {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return ErrFinalized
	}
	if t.count == 0 {
		t.started = time.Now()
	}
	t.count++
	t.outstanding++
	t.wg.Add(1)
	t.mu.Unlock()

	t.busy.Add(1)

	go func() {
		defer t.wg.Done()
		ctx, span := tracing.StartSpan(context.Background(), "deferred.task", nil)
		defer span.End()

		err := runTask(ctx, task)
		t.mu.Lock()
		t.outstanding--
		if err != nil {
			t.errs = append(t.errs, err)
		}
		t.mu.Unlock()
		if err != nil {
			span.RecordError(err)
		}
	}()
	return nil
}

// runTask isolates task panics so one misbehaving background task cannot
// crash request handling.
func runTask(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deferred task panic: %v", r)
		}
	}()
	return task(ctx)
}

// HasPending reports whether any tracked task is still outstanding.
func (t *Tracker) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding > 0
}

// WaitUntilAll finalizes the tracker: it awaits every registered task, then
// reports the elapsed wall-clock duration (first registration to drain) to
// the session-completion collaborator. Individual task failures are logged
// and recorded, never re-thrown. With zero registered tasks completion is
// immediate. A second call fails with ErrFinalized.
func (t *Tracker) WaitUntilAll(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return ErrFinalized
	}
	t.finalized = true
	count := t.count
	started := t.started
	t.mu.Unlock()

	if count == 0 {
		return nil
	}

	_, span := tracing.StartSpan(ctx, "deferred.drain", map[string]any{
		"session.id": sessionID,
		"task.count": count,
	})
	defer span.End()

	t.wg.Wait()
	elapsed := time.Since(started)

	t.mu.Lock()
	errs := t.errs
	t.errs = nil
	t.mu.Unlock()
	for _, err := range errs {
		log.Printf("[Deferred] background task failed (session %s): %v", sessionID, err)
		span.RecordError(err)
	}

	observability.RecordSessionDuration(elapsed)
	if t.completer != nil {
		if err := t.completer.CompleteSession(ctx, sessionID, elapsed); err != nil {
			log.Printf("[Deferred] session completion report failed (session %s): %v", sessionID, err)
			span.RecordError(err)
		}
	}

	t.busy.Add(-int64(count))
	return nil
}
