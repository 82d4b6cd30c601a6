// main - entry-point to birdied commands through cobra
// individual commands are outlined in ./cmd/
package main

import (
	"github.com/shinminje20/birdie-buddies-backend/cmd"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
)

var (
	// variables will be overwritten at build time
	version   string
	commit    string
	buildTime string
)

func main() {
	defer func() {
		if logging.Writer != nil {
			logging.Writer.Close()
		}
	}()
	cmd.Execute(version, commit, buildTime)
}
