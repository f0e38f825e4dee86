package resolve

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/data"
	"github.com/agentuity/runtime-go/internal/controlplane"
	"github.com/agentuity/runtime-go/internal/correlate"
	"github.com/agentuity/runtime-go/internal/observability"
)

// localInvocable calls a sibling agent on the same host over loopback.
type localInvocable struct {
	svc    *Service
	target AgentInfo
}

func (l *localInvocable) Run(ctx context.Context, args agent.InvocationArguments) (*agent.Response, error) {
	ctx, span := observability.StartSpan(ctx, "invoke.local", map[string]any{
		"agent.id": l.target.ID,
	})
	defer span.End()

	url := l.svc.localBase + "/" + l.target.ID
	resp, err := l.svc.dispatch(ctx, url, args, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out, err := wrapHTTPResponse(resp)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// remoteInvocable calls an agent through its control-plane-issued URL. If
// the control plane accepts the work asynchronously (202), the call switches
// to reply correlation: a pending invocation is registered under the request
// token and the caller suspends until the side-channel callback delivers the
// reply.
type remoteInvocable struct {
	svc    *Service
	target *controlplane.ResolvedAgent
}

func (r *remoteInvocable) Run(ctx context.Context, args agent.InvocationArguments) (*agent.Response, error) {
	ctx, span := observability.StartSpan(ctx, "invoke.remote", map[string]any{
		"agent.id": r.target.ID,
	})
	defer span.End()

	token := uuid.New().String()
	extra := http.Header{}
	extra.Set(agent.HeaderReplyToken, token)
	extra.Set("Authorization", "Bearer "+r.svc.apiKey)

	resp, err := r.svc.dispatch(ctx, r.target.URL, args, extra)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if resp.StatusCode == http.StatusAccepted {
		// Drain the ack; the real reply arrives out-of-band. The pending
		// entry is registered only once the control plane has accepted
		// the handoff.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		pending, err := r.svc.correlator.Register(ctx, token)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		span.SetAttribute("reply.token", token)
		reply, err := pending.Await(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return replyToResponse(reply)
	}

	out, err := wrapHTTPResponse(resp)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// dispatch sends one invocation request with metadata and trace context
// propagated via headers.
func (s *Service) dispatch(ctx context.Context, url string, args agent.InvocationArguments, extra http.Header) (*http.Response, error) {
	body, err := argsBody(args)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	contentType := args.ContentType
	if contentType == "" {
		contentType = data.DefaultContentType
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(agent.HeaderTrigger, string(agent.TriggerAgent))
	args.Metadata.EncodeHeaders(req.Header)
	for name, values := range extra {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	observability.Inject(ctx, req.Header)

	return s.httpc.Do(req)
}

func argsBody(args agent.InvocationArguments) (io.Reader, error) {
	switch v := args.Data.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.NewReader(v), nil
	case []byte:
		return strings.NewReader(string(v)), nil
	case io.Reader:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported invocation data type %T", v)
	}
}

// wrapHTTPResponse turns an invocation response into an agent.Response. The
// body is wrapped lazily; it is drained at most once and closed after the
// drain. Non-2xx surfaces the remote error text.
func wrapHTTPResponse(resp *http.Response) (*agent.Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("agent invocation failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &agent.Response{
		Data:     data.FromReader(resp.Body, resp.Header.Get("Content-Type")),
		Metadata: agent.MetadataFromHeaders(resp.Header),
	}, nil
}

// replyToResponse converts a correlated reply payload into an
// agent.Response.
func replyToResponse(reply *correlate.Reply) (*agent.Response, error) {
	raw, err := base64.StdEncoding.DecodeString(reply.Payload)
	if err != nil {
		return nil, fmt.Errorf("malformed reply payload: %w", err)
	}
	metadata := reply.Metadata
	if metadata == nil {
		metadata = agent.NewMetadata()
	}
	return &agent.Response{
		Data:     data.FromBytes(raw, reply.ContentType),
		Metadata: metadata,
	}, nil
}
