// Package cmd provides the command-line interface for the Kamui auth CLI.
// It contains all cobra commands and their implementations.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamui-project/kamui-auth/internal/di"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// RootCommand represents the root CLI command
type RootCommand struct {
	container *di.Container
	cmd       *cobra.Command

	// Subcommands
	loginCmd   *LoginCommand
	logoutCmd  *LogoutCommand
	statusCmd  *StatusCommand
	tokenCmd   *TokenCommand
	refreshCmd *RefreshCommand
	whoamiCmd  *WhoAmICommand
}

// NewRootCommand creates a new root command
func NewRootCommand() *RootCommand {
	r := &RootCommand{}

	r.cmd = &cobra.Command{
		Use:   "kamui-auth",
		Short: "Kamui auth - sign in to Kamui Platform and keep the session fresh",
		Long: `kamui-auth signs you in to the Kamui Platform and manages the session tokens.

Tokens are kept in an encrypted store and the access token is refreshed
shortly before it expires. Other tools can read a fresh access token with
'kamui-auth token'.

To get started, run:
  kamui-auth login   - Authenticate with your Kamui account
  kamui-auth status  - Show the current session`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return r.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if r.container == nil {
				return nil
			}
			return r.container.Close(context.Background())
		},
	}

	// Global flags
	flags := r.cmd.PersistentFlags()
	flags.StringP("output", "o", "text", "Output format (text, json)")
	flags.String("api-url", "", "Kamui API URL (overrides config and KAMUI_API_URL)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (auto, json, console)")
	flags.String("telemetry", "", "Telemetry exporter (off, stderr; overrides KAMUI_TELEMETRY)")
	flags.String("config", "", "Config file path (default ~/.kamui/config.json)")
	flags.StringSlice("env-file", nil, "Env files to load (default .env)")

	// Initialize subcommands (will be wired after container init)
	r.loginCmd = NewLoginCommand(r)
	r.logoutCmd = NewLogoutCommand(r)
	r.statusCmd = NewStatusCommand(r)
	r.tokenCmd = NewTokenCommand(r)
	r.refreshCmd = NewRefreshCommand(r)
	r.whoamiCmd = NewWhoAmICommand(r)

	// Add subcommands
	r.cmd.AddCommand(r.loginCmd.Command())
	r.cmd.AddCommand(r.logoutCmd.Command())
	r.cmd.AddCommand(r.statusCmd.Command())
	r.cmd.AddCommand(r.tokenCmd.Command())
	r.cmd.AddCommand(r.refreshCmd.Command())
	r.cmd.AddCommand(r.whoamiCmd.Command())

	return r
}

// initialize sets up the DI container
func (r *RootCommand) initialize(cmd *cobra.Command) error {
	// Skip if container is already set (e.g., for testing)
	if r.container != nil {
		return nil
	}

	flags := r.cmd.PersistentFlags()
	opts := di.Options{Version: Version}
	opts.APIURL, _ = flags.GetString("api-url")
	opts.LogLevel, _ = flags.GetString("log-level")
	opts.LogFormat, _ = flags.GetString("log-format")
	opts.Telemetry, _ = flags.GetString("telemetry")
	opts.ConfigPath, _ = flags.GetString("config")
	opts.EnvFiles, _ = flags.GetStringSlice("env-file")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	r.container, err = di.NewContainer(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

// Execute runs the root command
func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

// Command returns the underlying cobra command
func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

// Container returns the DI container
func (r *RootCommand) Container() *di.Container {
	return r.container
}

// SetContainer sets a custom container (for testing)
func (r *RootCommand) SetContainer(c *di.Container) {
	r.container = c
}

// outputFormat returns the value of the global --output flag
func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

// printJSON writes v to stdout as indented JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Execute is the main entry point for the CLI
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
