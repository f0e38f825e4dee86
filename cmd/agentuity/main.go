package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentuity/runtime-go"
	"github.com/agentuity/runtime-go/agent"
	"github.com/agentuity/runtime-go/data"
	"github.com/agentuity/runtime-go/pkg/config"
)

// Version is set via ldflags.
var Version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:     "agentuity",
		Short:   "Agentuity agent runtime",
		Version: Version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", envOr("AGENTUITY_CONFIG", "agentuity.yaml"), "runtime configuration file")

	root.AddCommand(serveCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}

			// Without user handlers the binary serves echo agents, which is
			// enough to exercise a deployment end to end.
			handlers := make([]agent.Agent, 0, len(cfg.Agents))
			for _, def := range cfg.Agents {
				handlers = append(handlers, &echoAgent{name: def.Name})
			}

			log.Printf("[CLI] agentuity %s serving %d agent(s) on :%d", Version, len(cfg.Agents), cfg.Port)
			return agentuity.RunWithConfig(cfg, handlers...)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the runtime configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d agent(s))\n", configFile, len(cfg.Agents))
			return nil
		},
	}
}

type echoAgent struct {
	name string
}

func (e *echoAgent) Name() string { return e.name }

func (e *echoAgent) Run(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	text, err := req.Data.Text()
	if err != nil {
		return nil, err
	}
	return &agent.Response{
		Data: data.FromString(text, req.Data.ContentType()),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
