// mockstage CLI - runs mock HTTP, WebSocket, SSE, FTP and MQTT endpoints
package main

import "github.com/mockstage/mockstage/pkg/cli"

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.Commit = Commit
	cli.BuildDate = BuildDate
	cli.Execute()
}
