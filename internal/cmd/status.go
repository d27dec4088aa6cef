package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// StatusCommand represents the status command
type StatusCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewStatusCommand creates a new status command
func NewStatusCommand(root *RootCommand) *StatusCommand {
	s := &StatusCommand{
		root: root,
	}

	s.cmd = &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Long: `Show whether you are signed in and when the access token expires.

The session is not refreshed by this command.

Examples:
  kamui-auth status
  kamui-auth status -o json`,
		Args: cobra.NoArgs,
		RunE: s.Run,
	}

	return s
}

// Command returns the underlying cobra command
func (s *StatusCommand) Command() *cobra.Command {
	return s.cmd
}

// Run executes the status command
func (s *StatusCommand) Run(cmd *cobra.Command, args []string) error {
	status, err := s.root.Container().AuthService().Status(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		return printJSON(status)
	}

	if !status.SignedIn {
		fmt.Println("Not logged in.")
		fmt.Println("\nLog in with: kamui-auth login")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", status.State)
	fmt.Fprintf(w, "Expires:\t%s (in %s)\n", status.ExpiresAt.Local().Format("2006-01-02 15:04:05"),
		time.Until(status.ExpiresAt).Round(time.Second))
	fmt.Fprintf(w, "Issued:\t%s\n", status.IssuedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "API:\t%s\n", status.APIURL)
	fmt.Fprintf(w, "Client:\t%s\n", status.ClientID)
	fmt.Fprintf(w, "Store:\t%s\n", status.StorePath)
	if status.Attempts > 0 {
		fmt.Fprintf(w, "Failed refreshes:\t%d\n", status.Attempts)
	}
	return w.Flush()
}
