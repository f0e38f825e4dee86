// Package agentuity is the runtime embedded inside an agent process. It
// turns heterogeneous payload sources into lazily-evaluated data objects,
// streams responses over negotiated wire formats, resolves references to
// sibling or remote agents, correlates asynchronous replies, and tracks
// background work so a session completes only after that work drains.
package agentuity

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/internal/observability"
	"github.com/agentuity/runtime-go/pkg/config"
)

// Run loads the configuration, registers the given handlers, and serves
// until interrupted. It is the one-call entrypoint for most agent processes.
func Run(configPath string, agents ...agent.Agent) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return RunWithConfig(cfg, agents...)
}

// RunWithConfig is Run for an already-loaded configuration.
func RunWithConfig(cfg *config.Config, agents ...agent.Agent) error {
	if err := observability.Init(observability.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Enabled:      cfg.Tracing.Exporter != "none",
		ExporterType: cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.Endpoint,
	}); err != nil {
		log.Printf("[Runtime] tracing init failed, continuing without: %v", err)
	}

	rt := NewRuntime(cfg)
	for _, a := range agents {
		if err := rt.Register(a); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", a.Name(), err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rt.Start(ctx)

	if serr := observability.Shutdown(context.Background()); serr != nil {
		log.Printf("[Runtime] tracing shutdown: %v", serr)
	}
	return err
}
