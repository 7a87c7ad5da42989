// Command ormbridge inspects and manages locally persisted sync state.
package main

import "github.com/ormbridge/ormbridge-go/internal/cli"

func main() {
	cli.Execute()
}
