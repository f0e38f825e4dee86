package agentuity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/internal/controlplane"
	"github.com/agentuity/runtime-go/internal/correlate"
	"github.com/agentuity/runtime-go/internal/deferred"
	"github.com/agentuity/runtime-go/internal/resolve"
	"github.com/agentuity/runtime-go/internal/scheduler"
	"github.com/agentuity/runtime-go/internal/server"
	"github.com/agentuity/runtime-go/pkg/config"
	pkgobs "github.com/agentuity/runtime-go/pkg/observability"
)

// Runtime hosts a set of agent handlers behind the embedded HTTP server and
// wires them to the shared services: resolver, reply correlator, deferred
// work tracking, and the optional cron scheduler.
type Runtime struct {
	cfg *config.Config

	mu       sync.RWMutex
	handlers map[string]agent.Agent
	started  bool

	srv   *server.Server
	sched *scheduler.Scheduler
	rdb   *redis.Client
}

// NewRuntime creates a runtime for the given configuration.
func NewRuntime(cfg *config.Config) *Runtime {
	return &Runtime{
		cfg:      cfg,
		handlers: make(map[string]agent.Agent),
	}
}

// Register adds an agent handler. The handler's Name must match the name of
// a configured agent. Registration after Start is an error.
func (r *Runtime) Register(a agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("runtime already started")
	}
	name := a.Name()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("agent %s already registered", name)
	}
	r.handlers[name] = a
	return nil
}

// List returns the registered handler names.
func (r *Runtime) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Start wires the services and runs the server and scheduler until ctx is
// cancelled. It returns once everything has shut down.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	r.started = true
	r.mu.Unlock()

	if err := r.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	hosted, err := r.matchHandlers()
	if err != nil {
		return err
	}

	pkgobs.InitMetrics()
	busy := pkgobs.NewBusy()

	correlator, err := r.buildCorrelator()
	if err != nil {
		return err
	}

	var cp resolve.ControlPlane
	var completer deferred.SessionCompleter
	if r.cfg.ControlPlaneURL != "" {
		client := controlplane.NewClient(r.cfg.ControlPlaneURL, r.cfg.APIKey)
		cp = client
		completer = client
	}

	siblings := make([]resolve.AgentInfo, 0, len(r.cfg.Agents))
	for _, a := range r.cfg.Agents {
		siblings = append(siblings, resolve.AgentInfo{ID: a.ID, Name: a.Name, ProjectID: a.ProjectID})
	}
	resolver := resolve.New(siblings, cp, correlator, r.cfg.Port, r.cfg.APIKey)

	r.srv = server.New(r.cfg.Port, hosted, resolver, correlator, busy, completer, r.cfg.Debug)

	r.sched = scheduler.New(r.cronInvoke())
	for _, a := range r.cfg.Agents {
		if a.Schedule == "" {
			continue
		}
		if err := r.sched.Add(a.ID, a.Schedule); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.srv.Start(gctx)
	})
	r.sched.Start()

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := r.sched.Stop(stopCtx); serr != nil {
		log.Printf("[Runtime] scheduler stop: %v", serr)
	}
	if r.rdb != nil {
		if cerr := r.rdb.Close(); cerr != nil {
			log.Printf("[Runtime] redis close: %v", cerr)
		}
	}
	return err
}

// matchHandlers pairs each configured agent with its registered handler.
func (r *Runtime) matchHandlers() ([]server.Hosted, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosted := make([]server.Hosted, 0, len(r.cfg.Agents))
	for _, def := range r.cfg.Agents {
		h, ok := r.handlers[def.Name]
		if !ok {
			return nil, fmt.Errorf("no handler registered for configured agent %s", def.Name)
		}
		hosted = append(hosted, server.Hosted{Config: def, Handler: h})
	}
	return hosted, nil
}

// buildCorrelator picks the reply correlator: a Redis-bridged one when a
// Redis address is configured so replies reach the right replica, otherwise
// a process-local registry.
func (r *Runtime) buildCorrelator() (correlate.Correlator, error) {
	ttl, err := r.cfg.ReplyTTLDuration()
	if err != nil {
		return nil, err
	}
	registry := correlate.NewRegistry(ttl)
	if r.cfg.RedisAddr == "" {
		return registry, nil
	}

	r.rdb = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	rc, err := correlate.NewRedisCorrelator(r.rdb, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis correlator: %w", err)
	}
	log.Printf("[Runtime] reply correlation bridged through redis at %s", r.cfg.RedisAddr)
	return rc, nil
}

// cronInvoke returns the scheduler's dispatch function: a loopback POST to
// the agent with the cron trigger.
func (r *Runtime) cronInvoke() scheduler.InvokeFunc {
	base := fmt.Sprintf("http://127.0.0.1:%d", r.cfg.Port)
	client := &http.Client{Timeout: 5 * time.Minute}

	return func(ctx context.Context, agentID string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+agentID, nil)
		if err != nil {
			return fmt.Errorf("failed to build scheduled request: %w", err)
		}
		req.Header.Set(agent.HeaderTrigger, string(agent.TriggerCron))

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("scheduled invocation failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("scheduled invocation returned %d", resp.StatusCode)
		}
		return nil
	}
}
