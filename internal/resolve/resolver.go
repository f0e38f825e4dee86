// Package resolve turns a logical agent reference into an invocable target:
// a sibling agent on the same host, reached over loopback, or a remote agent
// reached through the control plane, optionally with reply correlation.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/internal/controlplane"
	"github.com/agentuity/runtime-go/internal/correlate"
	"github.com/agentuity/runtime-go/internal/observability"
)

// ErrSelfLoop is returned when a reference resolves to the agent that is
// currently executing.
var ErrSelfLoop = errors.New("agent cannot redirect to itself")

// AgentInfo describes a statically known sibling agent hosted by this
// process.
type AgentInfo struct {
	ID        string
	Name      string
	ProjectID string
}

// ControlPlane is the slice of the control-plane client the resolver needs.
type ControlPlane interface {
	Resolve(ctx context.Context, ref agent.Reference) (*controlplane.ResolvedAgent, error)
}

const defaultInvokeTimeout = 2 * time.Minute

// Service resolves references for every agent hosted by this process.
// Bind it to the currently executing agent with ForAgent.
type Service struct {
	siblings   []AgentInfo
	cp         ControlPlane
	correlator correlate.Correlator
	localBase  string
	apiKey     string
	httpc      *http.Client
	replyTTL   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the HTTP client used by invocation strategies.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		s.httpc = hc
	}
}

// WithLocalBaseURL overrides the loopback base URL used by the local
// strategy. Intended for tests.
func WithLocalBaseURL(base string) Option {
	return func(s *Service) {
		s.localBase = base
	}
}

// New creates a resolver service. port is the loopback port sibling agents
// listen on; apiKey is the bearer credential for remote invocation.
func New(siblings []AgentInfo, cp ControlPlane, correlator correlate.Correlator, port int, apiKey string, opts ...Option) *Service {
	s := &Service{
		siblings:   siblings,
		cp:         cp,
		correlator: correlator,
		localBase:  fmt.Sprintf("http://127.0.0.1:%d", port),
		apiKey:     apiKey,
		httpc:      &http.Client{Timeout: defaultInvokeTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForAgent returns a resolver bound to the currently executing agent, so
// self-loops can be detected.
func (s *Service) ForAgent(currentID string) agent.Resolver {
	return &boundResolver{svc: s, currentID: currentID}
}

type boundResolver struct {
	svc       *Service
	currentID string
}

// GetAgent resolves ref. Statically known siblings are scanned first; a
// match whose id equals the current agent's id is a fatal self-loop error.
// Anything else falls through to the control-plane resolve endpoint.
func (b *boundResolver) GetAgent(ctx context.Context, ref agent.Reference) (agent.Invocable, error) {
	ctx, span := observability.StartSpan(ctx, "resolve.get_agent", map[string]any{
		"reference.id":   ref.ID,
		"reference.name": ref.Name,
	})
	defer span.End()

	if info, ok := b.svc.findSibling(ref); ok {
		if info.ID == b.currentID {
			span.RecordError(ErrSelfLoop)
			return nil, ErrSelfLoop
		}
		return &localInvocable{svc: b.svc, target: info}, nil
	}

	resolved, err := b.svc.cp.Resolve(ctx, ref)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &remoteInvocable{svc: b.svc, target: resolved}, nil
}

func (s *Service) findSibling(ref agent.Reference) (AgentInfo, bool) {
	for _, info := range s.siblings {
		if ref.ID != "" && info.ID == ref.ID {
			return info, true
		}
		if ref.ID == "" && ref.Name != "" && info.Name == ref.Name {
			if ref.ProjectID != "" && info.ProjectID != "" && info.ProjectID != ref.ProjectID {
				continue
			}
			return info, true
		}
	}
	return AgentInfo{}, false
}
