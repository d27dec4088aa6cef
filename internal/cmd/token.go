package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// TokenCommand represents the token command
type TokenCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewTokenCommand creates a new token command
func NewTokenCommand(root *RootCommand) *TokenCommand {
	t := &TokenCommand{
		root: root,
	}

	t.cmd = &cobra.Command{
		Use:   "token",
		Short: "Print a fresh access token",
		Long: `Print the access token, refreshing it first if it is about to expire.

The token is written to stdout alone so scripts can capture it.

Example:
  curl -H "Authorization: Bearer $(kamui-auth token)" https://api.kamui-platform.com/api/me`,
		Args: cobra.NoArgs,
		RunE: t.Run,
	}

	return t
}

// Command returns the underlying cobra command
func (t *TokenCommand) Command() *cobra.Command {
	return t.cmd
}

// Run executes the token command
func (t *TokenCommand) Run(cmd *cobra.Command, args []string) error {
	token, err := t.root.Container().AuthService().GetAccessToken(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		return printJSON(map[string]string{"access_token": token})
	}

	fmt.Println(token)
	return nil
}
