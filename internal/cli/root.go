// Package cli implements the ormbridge command-line interface for
// initializing a project and inspecting persisted store state.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormbridge/ormbridge-go/internal/config"
	"github.com/ormbridge/ormbridge-go/internal/persist"
)

var configKeyFlag string

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Backend persist.Backend
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Backend != nil {
		c.Backend.Close()
	}
}

// initContext loads config and opens the selected backend's persistence
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	b, ok := cfg.Backend(configKeyFlag)
	if !ok {
		exitError("unknown backend %q", configKeyFlag)
	}

	backend, err := cfg.OpenBackend(b)
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	return &cmdContext{Config: cfg, Backend: backend}
}

var rootCmd = &cobra.Command{
	Use:   "ormbridge",
	Short: "Inspect ormbridge client store state",
	Long:  `ormbridge manages and inspects the locally persisted state of the optimistic sync client.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configKeyFlag, "backend", "", "Backend config key (default: the configured default backend)")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
}

// exitError prints an error message and exits with status 1
func exitError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
