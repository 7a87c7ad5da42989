package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ormbridge/ormbridge-go/internal/persist"
)

var dumpKeyPrefix string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print persisted store blobs",
	Long:  `Print every persisted key and its JSON value for the selected backend.`,
	Run:   runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpKeyPrefix, "prefix", "", "Only dump keys starting with this prefix")
}

func runDump(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	keys, err := c.Backend.Keys()
	if err != nil {
		exitError("failed to list keys: %v", err)
	}

	cyan := color.New(color.FgCyan)
	magenta := color.New(color.FgMagenta)

	shown := 0
	for _, key := range keys {
		if dumpKeyPrefix != "" && !strings.HasPrefix(key, dumpKeyPrefix) {
			continue
		}
		value, err := c.Backend.Load(key)
		if err != nil {
			exitError("failed to load %s: %v", key, err)
		}

		if persist.IsModelStoreKey(key) {
			cyan.Println(key)
		} else {
			magenta.Println(key)
		}
		fmt.Println(indentJSON(value))
		shown++
	}

	if shown == 0 {
		fmt.Println("No persisted state")
	}
}

// indentJSON pretty-prints a JSON blob, falling back to the raw bytes.
func indentJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "  ", "  "); err != nil {
		return "  " + string(data)
	}
	return "  " + buf.String()
}
