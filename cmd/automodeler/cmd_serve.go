package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"automodeler/internal/logging"
	"automodeler/internal/mcpserver"
)

var serveFlags struct {
	logLevel  string
	logFormat string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout so agent frontends can launch and
monitor modeling runs through the start_model_run, get_run_status and
get_run_report tools.

The server watches for parent process death and self-terminates when the
client disconnects, preventing zombie processes.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&serveFlags.logFormat, "log-format", "json", "Log format (text, json)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(serveFlags.logLevel)
	if err != nil {
		return err
	}
	// stdout carries the JSON-RPC stream; logs stay on stderr.
	logging.Init(level, serveFlags.logFormat)

	srv := mcpserver.NewServer(version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mcpserver.WatchParent(ctx, cancel)

	logging.New("mcp").Info("starting automodeler MCP server over stdio",
		slog.String("version", version))
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
