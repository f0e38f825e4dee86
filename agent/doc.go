// Package agent defines the public contract between the Agentuity runtime
// and the agent handlers it hosts.
//
// A handler implements the Agent interface. For every inbound invocation the
// runtime builds a Request carrying the trigger type, the decoded metadata,
// and the raw payload wrapped in a lazily-evaluated data.Payload. The handler
// returns a Response whose payload is encoded onto the wire by the runtime
// using the negotiated format.
//
// Handlers reach the rest of the system through two narrow interfaces on the
// Request: Resolver turns a Reference into an Invocable (a sibling agent on
// the same host or a remote agent reached through the control plane), and
// BackgroundTasks registers work that continues after the response has been
// sent but still gates session completion.
package agent
