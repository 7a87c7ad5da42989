package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormbridge/ormbridge-go/internal/config"
)

var initBaseURL string

var initCmd = &cobra.Command{
	Use:   "init <config-key>",
	Short: "Initialize an ormbridge project in the current directory",
	Args:  cobra.ExactArgs(1),
	Run:   runInit,
}

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "http://localhost:8000", "Backend API base URL")
}

func runInit(cmd *cobra.Command, args []string) {
	cfg, err := config.Initialize(args[0], initBaseURL)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Initialized ormbridge project in %s\n", cfg.Path())
}
