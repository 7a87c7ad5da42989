package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all persisted store state for the selected backend",
	Run:   runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Skip confirmation")
}

func runClear(cmd *cobra.Command, args []string) {
	if !clearYes {
		exitError("refusing to clear without --yes")
	}

	c := initContext()
	defer c.Close()

	keys, err := c.Backend.Keys()
	if err != nil {
		exitError("failed to list keys: %v", err)
	}
	for _, key := range keys {
		if err := c.Backend.Delete(key); err != nil {
			exitError("failed to delete %s: %v", key, err)
		}
	}
	fmt.Printf("Cleared %d keys\n", len(keys))
}
