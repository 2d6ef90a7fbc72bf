// clr-mcp exposes the router's state and controls as MCP tools over stdio.
// Every tool is a thin call against a running clr HTTP API.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/clr/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	base := os.Getenv("CLR_URL")
	if base == "" {
		base = "http://" + cfg.Addr()
	}
	client := newClient(strings.TrimRight(base, "/"))

	s := server.NewMCPServer(
		"clr-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
