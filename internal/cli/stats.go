package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ormbridge/ormbridge-go/internal/models"
	"github.com/ormbridge/ormbridge-go/internal/persist"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize persisted store state",
	Run:   runStats,
}

func runStats(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	blobs, err := c.Backend.LoadAll()
	if err != nil {
		exitError("failed to load state: %v", err)
	}

	var modelStores, querysetStores int
	var entities, pks int
	var pending, confirmed, rejected int

	for key, value := range blobs {
		switch {
		case persist.IsModelStoreKey(key) && strings.HasSuffix(key, "::groundtruth"):
			modelStores++
			var items []models.Entity
			if json.Unmarshal(value, &items) == nil {
				entities += len(items)
			}
		case persist.IsQuerysetStoreKey(key) && strings.HasSuffix(key, "::groundtruth"):
			querysetStores++
			var items []string
			if json.Unmarshal(value, &items) == nil {
				pks += len(items)
			}
		case strings.HasSuffix(key, "::operations"):
			var ops []*models.Operation
			if json.Unmarshal(value, &ops) != nil {
				continue
			}
			for _, op := range ops {
				switch op.Status {
				case models.StatusConfirmed:
					confirmed++
				case models.StatusRejected:
					rejected++
				default:
					pending++
				}
			}
		}
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Printf("Model stores:    %d (%d entities)\n", modelStores, entities)
	fmt.Printf("Queryset stores: %d (%d primary keys)\n", querysetStores, pks)
	fmt.Println("Operations:")
	yellow.Printf("  inflight:  %d\n", pending)
	green.Printf("  confirmed: %d\n", confirmed)
	red.Printf("  rejected:  %d\n", rejected)
}
