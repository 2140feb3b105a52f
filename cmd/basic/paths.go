package basic

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/vault/api"
	"github.com/spf13/cobra"

	"github.com/stephnangue/jwtsecrets/cmd/helpers"
)

// pathCommand builds a single-path command whose action returns the
// server's answer, rendered by show when it carries data.
func pathCommand(use, short, long string, do func(context.Context, *api.Logical, string) (*api.Secret, error), show func(io.Writer, map[string]any) error) *cobra.Command {
	return &cobra.Command{
		Use:           use + " PATH",
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			c, err := helpers.Client()
			if err != nil {
				return err
			}
			secret, err := do(cmd.Context(), c.Logical(), path)
			if err != nil {
				return fmt.Errorf("%s %s: %w", use, path, err)
			}
			if secret == nil || secret.Data == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "No data found at path: %s\n", path)
				return nil
			}
			return show(cmd.OutOrStdout(), secret.Data)
		},
	}
}

// formatted renders data as JSON or through table, per *format.
func formatted(format *string, table func(io.Writer, map[string]any)) func(io.Writer, map[string]any) error {
	return func(w io.Writer, data map[string]any) error {
		switch *format {
		case "json":
			return helpers.PrintJSON(w, data)
		case "table":
			table(w, data)
			return nil
		default:
			return fmt.Errorf("unknown output format: %s", *format)
		}
	}
}

var (
	readFormat string
	listFormat string
)

var ReadCmd = pathCommand("read", "Read data from a path", `
Usage: jwtsecrets read PATH

  Read the data at PATH. Paths start with the mount; the /v1/ prefix is
  added for you.

    $ jwtsecrets read jwt/role/web
    $ jwtsecrets read jwt/key/8f14e45f-ceea-467f-a0e6-5b5b5f0f8c3a
    $ jwtsecrets read jwt/jwks
`,
	func(ctx context.Context, l *api.Logical, path string) (*api.Secret, error) {
		return l.ReadWithContext(ctx, path)
	},
	formatted(&readFormat, helpers.PrintMapAsTable),
)

var ListCmd = pathCommand("list", "List the keys under a path", `
Usage: jwtsecrets list PATH

  List the keys under PATH.

    $ jwtsecrets list jwt/role
    $ jwtsecrets list jwt/key
`,
	func(ctx context.Context, l *api.Logical, path string) (*api.Secret, error) {
		return l.ListWithContext(ctx, path)
	},
	formatted(&listFormat, printKeys),
)

var DeleteCmd = pathCommand("delete", "Delete the data at a path", `
Usage: jwtsecrets delete PATH

  Delete the data at PATH. Deleting a role does not revoke tokens already
  issued for it.

    $ jwtsecrets delete jwt/role/web
`,
	func(ctx context.Context, l *api.Logical, path string) (*api.Secret, error) {
		secret, err := l.DeleteWithContext(ctx, path)
		if err == nil && secret == nil {
			secret = &api.Secret{Data: map[string]any{"path": path}}
		}
		return secret, err
	},
	func(w io.Writer, data map[string]any) error {
		fmt.Fprintf(w, "Success! Data deleted (if it existed) at: %v\n", data["path"])
		return nil
	},
)

var PathHelpCmd = pathCommand("path-help", "Display help for a path or mount", `
Usage: jwtsecrets path-help PATH

  Display help for PATH. For a mount such as "jwt/", every path the mount
  serves is listed.

    $ jwtsecrets path-help jwt/
    $ jwtsecrets path-help jwt/role/web
`,
	func(ctx context.Context, l *api.Logical, path string) (*api.Secret, error) {
		return l.ReadWithDataWithContext(ctx, path, map[string][]string{"help": {"1"}})
	},
	func(w io.Writer, data map[string]any) error {
		help, ok := data["help"].(string)
		if !ok {
			return fmt.Errorf("no help text in response")
		}
		fmt.Fprint(w, help)
		return nil
	},
)

func init() {
	ReadCmd.Flags().StringVarP(&readFormat, "format", "f", "table", "Output format: table, json")
	ListCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format: table, json")
}

// printKeys writes a "Keys" header followed by one indented key per line.
func printKeys(w io.Writer, data map[string]any) {
	keys, _ := data["keys"].([]any)
	if len(keys) == 0 {
		fmt.Fprintln(w, "No keys found")
		return
	}
	fmt.Fprintln(w, "Keys")
	for _, k := range keys {
		fmt.Fprintf(w, "  %v\n", k)
	}
}
