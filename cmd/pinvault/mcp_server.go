package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/pinvault/internal/logger"
	"github.com/forest6511/pinvault/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI coding assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

AI agents can look up records but never receive plaintext secrets.

Available tools:
  - vault_status:      Lock state, biometric setting and record count
  - record_list:       List records (no secrets), optionally by category
  - record_search:     Fuzzy search records (no secrets)
  - record_get_masked: Masked secret (e.g., "****WXYZ") and its length

Authentication:
  Set PINVAULT_PIN before starting the server. The PIN is read once and
  immediately cleared from the environment. The vault is locked again when
  the server exits.

Example MCP configuration:
  {
    "mcpServers": {
      "pinvault": {
        "type": "stdio",
        "command": "/path/to/pinvault",
        "args": ["mcp-server"],
        "env": {
          "PINVAULT_PIN": "123456"
        }
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	server, err := mcp.NewServer(&mcp.ServerOptions{
		Config: cfg,
		Logger: logger.L(),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
