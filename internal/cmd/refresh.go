package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RefreshCommand represents the refresh command
type RefreshCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewRefreshCommand creates a new refresh command
func NewRefreshCommand(root *RootCommand) *RefreshCommand {
	r := &RefreshCommand{
		root: root,
	}

	r.cmd = &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token if it is about to expire",
		Long: `Run the refresh check once and report what happened.

A token far from expiry is left alone. After repeated failures refreshing
stops until you pass --reset. With --watch the command keeps the session
fresh until it is interrupted or the session ends.

Examples:
  kamui-auth refresh
  kamui-auth refresh --reset
  kamui-auth refresh --watch`,
		Args: cobra.NoArgs,
		RunE: r.Run,
	}

	r.cmd.Flags().Bool("reset", false, "Clear the failed attempt counter first")
	r.cmd.Flags().Bool("watch", false, "Keep refreshing until interrupted")

	return r
}

// Command returns the underlying cobra command
func (r *RefreshCommand) Command() *cobra.Command {
	return r.cmd
}

// Run executes the refresh command
func (r *RefreshCommand) Run(cmd *cobra.Command, args []string) error {
	authService := r.root.Container().AuthService()
	ctx := cmd.Context()

	reset, _ := cmd.Flags().GetBool("reset")
	result, err := authService.Refresh(ctx, reset)
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Printf("Outcome: %s\n", result.Outcome)
		if result.Reason != "" {
			fmt.Printf("Reason:  %s\n", result.Reason)
		}
		if !result.ExpiresAt.IsZero() {
			fmt.Printf("Expires: %s\n", result.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		}
	}

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return nil
	}

	fmt.Println("Watching session, press Ctrl+C to stop...")
	return authService.Watch(ctx)
}
