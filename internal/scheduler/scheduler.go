// Package scheduler runs cron-triggered agent invocations declared in the
// runtime configuration.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentuity/runtime-go/internal/observability"
)

// InvokeFunc performs one scheduled invocation of the given agent.
type InvokeFunc func(ctx context.Context, agentID string) error

// Scheduler fires agent invocations on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	invoke InvokeFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a scheduler dispatching through invoke. Schedules use the
// standard five-field cron format.
func New(invoke InvokeFunc) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		invoke:  invoke,
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules agentID on the given cron expression. Re-adding an agent
// replaces its previous schedule.
func (s *Scheduler) Add(agentID, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[agentID]; ok {
		s.cron.Remove(prev)
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(agentID) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for agent %s: %w", spec, agentID, err)
	}
	s.entries[agentID] = id
	return nil
}

// Remove drops the schedule for agentID if one exists.
func (s *Scheduler) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[agentID]; ok {
		s.cron.Remove(id)
		delete(s.entries, agentID)
	}
}

// Len returns the number of scheduled agents.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins firing schedules. It returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	if n == 0 {
		return
	}
	log.Printf("[Scheduler] starting with %d schedule(s)", n)
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight invocations, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(agentID string) {
	ctx, span := observability.StartSpan(context.Background(), "scheduler.invoke", map[string]any{
		"agent.id": agentID,
	})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := s.invoke(ctx, agentID); err != nil {
		span.RecordError(err)
		log.Printf("[Scheduler] scheduled invocation of %s failed: %v", agentID, err)
	}
}
