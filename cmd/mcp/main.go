// Load generator MCP server.
// Exposes the status API as tools over the MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/rpcloadgen/internal/mcp"
)

const defaultLoadgenURL = "http://localhost:8080"

func main() {
	loadgenURL := os.Getenv("LOADGEN_URL")
	if loadgenURL == "" {
		loadgenURL = defaultLoadgenURL
	}

	s := server.NewMCPServer(
		"rpcloadgen",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	mcptools.RegisterTools(s, mcptools.NewClient(loadgenURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
