package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/cigraph/internal/server"
)

var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cigraph",
	Short:         "cigraph explores CI relationships from a CMDB",
	Long:          Brand.Sprint("cigraph") + " walks the parents and children of configuration items\n" + Subtle.Sprint("Serve the explorer API, expose it to assistants over MCP, or print a tree"),
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("cigraph {{ .Version }}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CIGRAPH_CONFIG"), "Path to the YAML configuration file")

	rootCmd.AddCommand(
		serveCmd(),
		mcpCmd(),
		exploreCmd(),
		profilesCmd(),
	)
}

// Execute runs the root command and prints the error, if any.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		Bad.Fprintf(os.Stderr, "cigraph: %v\n", err)
		return err
	}
	return nil
}

// loadConfig reads the configuration and installs the default logger.
// Logs always go to stderr so stdout stays usable for MCP and tree output.
func loadConfig() (*server.Config, error) {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	name := cfg.LogLevel
	if name == "" {
		name = "info"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}
