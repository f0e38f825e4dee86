package agent

import (
	"context"

	"github.com/agentuity/runtime-go/data"
)

// Header names used to carry invocation metadata over HTTP.
// Every metadata entry is projected to a header named HeaderPrefix + key.
// The control headers below belong to the runtime itself and are never
// decoded into metadata.
const (
	HeaderPrefix     = "x-agentuity-"
	HeaderTrigger    = "x-agentuity-trigger"
	HeaderProtocol   = "x-agentuity-protocol"
	HeaderSessionID  = "x-agentuity-session-id"
	HeaderReplyToken = "x-agentuity-reply-token"
)

// Trigger identifies what caused an agent invocation.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerWebhook Trigger = "webhook"
	TriggerCron    Trigger = "cron"
	TriggerAgent   Trigger = "agent"
	TriggerSMS     Trigger = "sms"
	TriggerEmail   Trigger = "email"
)

// Agent is the interface agent handlers must implement.
// The runtime invokes Run once per inbound request. Implementations must be
// safe for concurrent use; the runtime does not serialize invocations.
type Agent interface {
	// Name returns the unique handler name. The runtime matches it against
	// the configured agent definitions.
	Name() string

	// Run processes one invocation and produces a response.
	Run(ctx context.Context, req *Request) (*Response, error)
}

// Request carries everything a handler needs for one invocation.
type Request struct {
	// AgentID is the id of the agent being invoked.
	AgentID string

	// SessionID identifies the session this invocation belongs to.
	SessionID string

	// Trigger is what caused this invocation.
	Trigger Trigger

	// Metadata holds the x-agentuity-* metadata decoded from the request.
	Metadata *Metadata

	// Data is the request payload. Views are evaluated lazily; a handler
	// that never touches the payload never buffers it.
	Data *data.Payload

	// Agents resolves references to other agents for nested invocation.
	Agents Resolver

	// Background registers work that continues after the response is sent.
	Background BackgroundTasks
}

// Response is what a handler returns from Run.
// It is consumed exactly once by the response encoder.
type Response struct {
	// Data is the response payload.
	Data *data.Payload

	// Metadata is projected onto x-agentuity-* response headers (binary
	// format) or into the legacy envelope's metadata field.
	Metadata *Metadata
}

// Reference identifies an agent by id, or by name optionally scoped to a
// project.
type Reference struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

// InvocationArguments are supplied by a caller invoking another agent.
type InvocationArguments struct {
	// Data is the payload to send: a string, []byte, io.Reader, or nil.
	Data any

	// ContentType of Data. Defaults to application/octet-stream.
	ContentType string

	// Metadata is propagated to the target via headers.
	Metadata *Metadata
}

// Invocable is a resolved agent that can be run.
type Invocable interface {
	Run(ctx context.Context, args InvocationArguments) (*Response, error)
}

// Resolver resolves an agent reference to an invocable target.
type Resolver interface {
	GetAgent(ctx context.Context, ref Reference) (Invocable, error)
}

// BackgroundTasks accepts work that outlives the request/response cycle.
// Registered tasks gate session completion but never block the response.
type BackgroundTasks interface {
	// WaitUntil starts the task immediately and tracks it until it settles.
	// It fails once the tracker has been finalized.
	WaitUntil(task func(context.Context) error) error

	// HasPending reports whether any tracked task is still outstanding.
	HasPending() bool
}
