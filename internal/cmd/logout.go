package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// LogoutCommand represents the logout command
type LogoutCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewLogoutCommand creates a new logout command
func NewLogoutCommand(root *RootCommand) *LogoutCommand {
	l := &LogoutCommand{
		root: root,
	}

	l.cmd = &cobra.Command{
		Use:   "logout",
		Short: "Log out from Kamui Platform",
		Long: `Log out from the Kamui Platform and clear stored credentials.

This command removes your authentication tokens from the encrypted store.
The registered client is kept so the next login skips registration.

Examples:
  kamui-auth logout
  kamui-auth logout --yes`,
		RunE: l.Run,
	}

	l.cmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")

	return l
}

// Command returns the underlying cobra command
func (l *LogoutCommand) Command() *cobra.Command {
	return l.cmd
}

// Run executes the logout command
func (l *LogoutCommand) Run(cmd *cobra.Command, args []string) error {
	// Get auth service from DI container
	authService := l.root.Container().AuthService()

	if !authService.IsLoggedIn() {
		return fmt.Errorf("not logged in")
	}

	skipConfirm, _ := cmd.Flags().GetBool("yes")
	if !skipConfirm {
		var confirm bool
		if err := survey.AskOne(&survey.Confirm{
			Message: "Log out from Kamui Platform?",
			Default: true,
		}, &confirm); err != nil {
			return err
		}

		if !confirm {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	// Perform logout
	if err := authService.Logout(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("✓ Successfully logged out from Kamui Platform!")
	return nil
}
