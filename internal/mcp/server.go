// Package mcp implements the MCP (Model Context Protocol) server for pinvault.
// AI agents see record metadata and masked secrets, never plaintext.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/pinvault/internal/config"
	"github.com/forest6511/pinvault/pkg/audit"
	"github.com/forest6511/pinvault/pkg/gate"
	"github.com/forest6511/pinvault/pkg/vault"
)

// PINEnv is the environment variable the server reads the PIN from.
const PINEnv = "PINVAULT_PIN"

// Version is reported to MCP clients.
const Version = "0.1.0"

// Errors
var (
	ErrNoPIN          = errors.New("mcp: no PIN provided: set " + PINEnv)
	ErrNotInitialized = errors.New("mcp: vault has no PIN yet, run 'pinvault init' first")
	ErrIncorrectPIN   = errors.New("mcp: incorrect PIN")
)

// Server represents the MCP server for pinvault.
type Server struct {
	server *mcp.Server
	vault  *vault.Vault
	owned  bool
	log    *zap.Logger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Config is used to open the vault when Vault is nil.
	Config *config.Config

	// Vault is an already opened vault. The caller keeps ownership.
	Vault *vault.Vault

	// PIN unlocks the vault.
	// If empty, the server reads PINVAULT_PIN and clears it.
	PIN string

	Logger *zap.Logger
}

// NewServer opens and unlocks the vault and registers the tools.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pin := opts.PIN
	if pin == "" {
		pin = os.Getenv(PINEnv)
		// Clear the environment variable after reading
		os.Unsetenv(PINEnv)
	}
	if pin == "" {
		return nil, ErrNoPIN
	}

	v, owned := opts.Vault, false
	if v == nil {
		if opts.Config == nil {
			return nil, fmt.Errorf("mcp: config is required")
		}
		var err error
		v, err = vault.Open(vault.Options{
			Config: opts.Config,
			Source: audit.SourceMCP,
			Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open vault: %w", err)
		}
		owned = true
	}

	if err := unlock(v.Gate(), pin); err != nil {
		if owned {
			v.Close()
		}
		return nil, err
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "pinvault",
			Version: Version,
		},
		nil,
	)

	s := &Server{
		server: mcpServer,
		vault:  v,
		owned:  owned,
		log:    log.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

func unlock(g *gate.Controller, pin string) error {
	switch g.State() {
	case gate.StateUnlocked:
		return nil
	case gate.StateLocked:
	default:
		return ErrNotInitialized
	}

	res, err := g.Submit(pin)
	if err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrIncorrectPIN, err)
	}
	if res.State != gate.StateUnlocked {
		return ErrIncorrectPIN
	}
	return nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether the vault is unlocked, whether biometric unlock is enabled and how many records it holds.",
	}, s.handleVaultStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_list",
		Description: "List records (id, title, username, url, category, updated_at). Secrets are never returned. Optionally filter by a category glob pattern such as 'work*'.",
	}, s.handleRecordList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_search",
		Description: "Fuzzy search records by title, username, url and category. Best matches come first. Secrets are never returned.",
	}, s.handleRecordSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_get_masked",
		Description: "Get a record's secret in masked form (last 4 characters only) with its length. Use this to tell records apart without exposing the secret.",
	}, s.handleRecordGetMasked)
}

// Run starts the MCP server over stdio and locks the vault when it stops.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.log.Warn("failed to lock vault", zap.Error(err))
		}
	}()
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the vault, closing it when the server opened it.
func (s *Server) Close() error {
	if s.owned {
		return s.vault.Close()
	}
	if s.vault.Gate().State() == gate.StateUnlocked {
		return s.vault.Gate().Lock()
	}
	return nil
}
