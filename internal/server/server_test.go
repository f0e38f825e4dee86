package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/data"
	"github.com/agentuity/runtime-go/internal/correlate"
	"github.com/agentuity/runtime-go/internal/resolve"
	"github.com/agentuity/runtime-go/pkg/config"
	pkgobs "github.com/agentuity/runtime-go/pkg/observability"
)

type echoAgent struct {
	lastReq *agent.Request
	fail    error
}

func (e *echoAgent) Name() string { return "echo" }

func (e *echoAgent) Run(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	e.lastReq = req
	if e.fail != nil {
		return nil, e.fail
	}
	text, err := req.Data.Text()
	if err != nil {
		return nil, err
	}
	return &agent.Response{
		Data:     data.FromString("echo: "+text, "text/plain", data.WithChunkDelay(time.Nanosecond)),
		Metadata: agent.NewMetadata().Set("handled", true),
	}, nil
}

func newTestServer(t *testing.T, handler agent.Agent) (*Server, *correlate.Registry) {
	t.Helper()
	pkgobs.InitMetrics()

	registry := correlate.NewRegistry(0)
	siblings := []resolve.AgentInfo{{ID: "agent_echo", Name: "echo"}}
	resolver := resolve.New(siblings, nil, registry, 3500, "")

	hosted := []Hosted{{
		Config: config.AgentConfig{
			ID:          "agent_echo",
			Name:        "echo",
			Description: "echoes its input",
			Prompts: []config.PromptConfig{
				{Data: "say hi", ContentType: "text/plain"},
			},
		},
		Handler: handler,
	}}

	return New(3500, hosted, resolver, registry, pkgobs.NewBusy(), nil, false), registry
}

func TestInvokeBinary(t *testing.T) {
	handler := &echoAgent{}
	srv, _ := newTestServer(t, handler)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/agent_echo", strings.NewReader("hello"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(agent.HeaderTrigger, string(agent.TriggerManual))
	req.Header.Set("x-agentuity-thread-id", "t_42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "true", resp.Header.Get("x-agentuity-handled"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", string(body))

	// The handler saw the decoded invocation context.
	require.NotNil(t, handler.lastReq)
	assert.Equal(t, "agent_echo", handler.lastReq.AgentID)
	assert.Equal(t, agent.TriggerManual, handler.lastReq.Trigger)
	assert.Equal(t, "t_42", handler.lastReq.Metadata.GetString("thread-id", ""))
	assert.NotEmpty(t, handler.lastReq.SessionID)
}

func TestInvokeSSE(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/agent_echo", strings.NewReader("hi"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "data: "))
}

func TestInvokeUnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/agent_missing", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvokeHandlerError(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{fail: fmt.Errorf("boom")})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/agent_echo", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "boom")
}

func TestReplyEndpoint(t *testing.T) {
	srv, registry := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	pending, err := registry.Register(context.Background(), "tok_1")
	require.NoError(t, err)

	reply := correlate.Reply{
		ContentType: "text/plain",
		Payload:     base64.StdEncoding.EncodeToString([]byte("done")),
	}
	raw, _ := json.Marshal(reply)

	resp, err := http.Post(ts.URL+"/_reply/tok_1", "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := pending.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reply.Payload, got.Payload)
}

func TestReplyUnknownTokenIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/_reply/tok_unknown", "application/json", strings.NewReader(`{"contentType":"text/plain","payload":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndIdle(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/_health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/_idle")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var idle map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&idle))
	assert.Equal(t, true, idle["idle"])
}

func TestWelcome(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/welcome")
	require.NoError(t, err)
	defer resp.Body.Close()

	var all []welcomeAgent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 1)
	assert.Equal(t, "agent_echo", all[0].ID)
	require.Len(t, all[0].Prompts, 1)

	decoded, err := base64.StdEncoding.DecodeString(all[0].Prompts[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "say hi", string(decoded))
	assert.Equal(t, "text/plain", all[0].Prompts[0].ContentType)
}

func TestWelcomeByID(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/welcome/agent_echo")
	require.NoError(t, err)
	defer resp.Body.Close()

	var one welcomeAgent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	assert.Equal(t, "echo", one.Name)

	resp, err = http.Get(ts.URL + "/welcome/agent_missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &echoAgent{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "agentuity_")
}
