package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// WhoAmICommand represents the whoami command
type WhoAmICommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewWhoAmICommand creates a new whoami command
func NewWhoAmICommand(root *RootCommand) *WhoAmICommand {
	w := &WhoAmICommand{
		root: root,
	}

	w.cmd = &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Long: `Fetch the account the session belongs to from the Kamui API.

Examples:
  kamui-auth whoami
  kamui-auth whoami -o json`,
		Args: cobra.NoArgs,
		RunE: w.Run,
	}

	return w
}

// Command returns the underlying cobra command
func (w *WhoAmICommand) Command() *cobra.Command {
	return w.cmd
}

// Run executes the whoami command
func (w *WhoAmICommand) Run(cmd *cobra.Command, args []string) error {
	user, err := w.root.Container().AuthService().WhoAmI(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		return printJSON(user)
	}

	fmt.Printf("Name:  %s\n", user.Name)
	fmt.Printf("Email: %s\n", user.Email)
	fmt.Printf("ID:    %s\n", user.ID)
	return nil
}
