package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentuity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port: 4000
debug: true
control_plane_url: https://api.example.com
api_key: key_abc
reply_ttl: 2m
agents:
  - id: agent_1
    name: concierge
    description: routes inbound requests
    schedule: "*/5 * * * *"
    prompts:
      - data: "hello there"
      - data: '{"q":"status"}'
        content_type: application/json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "https://api.example.com", cfg.ControlPlaneURL)
	assert.Equal(t, "key_abc", cfg.APIKey)

	ttl, err := cfg.ReplyTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, ttl)

	require.Len(t, cfg.Agents, 1)
	a := cfg.Agents[0]
	assert.Equal(t, "agent_1", a.ID)
	assert.Equal(t, "*/5 * * * *", a.Schedule)
	require.Len(t, a.Prompts, 2)
	assert.Equal(t, "text/plain", a.Prompts[0].ContentType)
	assert.Equal(t, "application/json", a.Prompts[1].ContentType)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: agent_1
    name: solo
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3500, cfg.Port)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
}

func TestLoadConfigEnvFallback(t *testing.T) {
	t.Setenv("AGENTUITY_PORT", "9901")
	t.Setenv("AGENTUITY_API_KEY", "key_env")

	path := writeConfig(t, `
agents:
  - id: agent_1
    name: solo
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9901, cfg.Port)
	assert.Equal(t, "key_env", cfg.APIKey)
}

func TestReplyTTLDuration(t *testing.T) {
	cfg := Config{}
	ttl, err := cfg.ReplyTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)

	cfg.ReplyTTL = "not a duration"
	_, err = cfg.ReplyTTLDuration()
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "no agents",
			cfg:     Config{},
			wantErr: "at least one agent",
		},
		{
			name: "missing id",
			cfg: Config{Agents: []AgentConfig{
				{Name: "solo"},
			}},
			wantErr: "id is required",
		},
		{
			name: "missing name",
			cfg: Config{Agents: []AgentConfig{
				{ID: "agent_1"},
			}},
			wantErr: "name is required",
		},
		{
			name: "duplicate id",
			cfg: Config{Agents: []AgentConfig{
				{ID: "agent_1", Name: "a"},
				{ID: "agent_1", Name: "b"},
			}},
			wantErr: "duplicate agent id",
		},
		{
			name: "valid",
			cfg: Config{Agents: []AgentConfig{
				{ID: "agent_1", Name: "a"},
				{ID: "agent_2", Name: "b"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAgentLookup(t *testing.T) {
	cfg := Config{Agents: []AgentConfig{
		{ID: "agent_1", Name: "a"},
		{ID: "agent_2", Name: "b"},
	}}

	require.NotNil(t, cfg.Agent("agent_2"))
	assert.Equal(t, "b", cfg.Agent("agent_2").Name)
	assert.Nil(t, cfg.Agent("agent_3"))
}
