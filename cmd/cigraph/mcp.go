package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/sanonone/cigraph/internal/mcp"
	"github.com/sanonone/cigraph/internal/server"
	"github.com/sanonone/cigraph/pkg/explorer"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the explorer as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			backends, err := server.OpenBackends(cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			manager := explorer.NewManager(backends.Client, cfg.Explorer)
			defer manager.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mcpserver.RunStdio(ctx, manager)
		},
	}
}
