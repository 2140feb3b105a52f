package basic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/stephnangue/jwtsecrets/cmd/helpers"
)

var (
	SignCmd = &cobra.Command{
		Use:           "sign",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Issue a token for a role",
		Long: `
Usage: jwtsecrets sign ROLE [CLAIMS]

  Issue a signed JWT for the given role. Caller claims can be provided as
  JSON via stdin, as a JSON argument, or as key=value pairs. They are
  checked against the role schema before the token is signed.

  Examples:

      $ jwtsecrets sign web sub=alice
      $ jwtsecrets sign web '{"sub": "alice", "scopes": ["read"]}'
      $ jwtsecrets sign --mount partners --format claims web
`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSign,
	}

	signMount  string
	signFormat string
)

func init() {
	SignCmd.Flags().StringVarP(&signMount, "mount", "m", "jwt", "Mount path of the jwt backend")
	SignCmd.Flags().StringVarP(&signFormat, "format", "f", "token", "Output format: token, json, claims")
}

func runSign(cmd *cobra.Command, args []string) error {
	role := args[0]

	c, err := helpers.Client()
	if err != nil {
		return err
	}

	claims, err := readClaims(cmd, args[1:])
	if err != nil {
		return err
	}

	data := map[string]interface{}{}
	if claims != "" {
		data["claims"] = claims
	}

	resource, err := c.Logical().WriteWithContext(cmd.Context(), path.Join(signMount, "sign", role), data)
	if err != nil {
		return fmt.Errorf("failed to sign for role %s: %w", role, err)
	}
	if resource == nil {
		return fmt.Errorf("no token returned for role %s", role)
	}
	token, _ := resource.Data["token"].(string)
	if token == "" {
		return fmt.Errorf("no token returned for role %s", role)
	}

	switch signFormat {
	case "token":
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	case "json":
		return helpers.PrintJSON(cmd.OutOrStdout(), resource.Data)
	case "claims":
		parsed := gojwt.MapClaims{}
		if _, _, err := gojwt.NewParser().ParseUnverified(token, parsed); err != nil {
			return fmt.Errorf("failed to decode token: %w", err)
		}
		helpers.PrintMapAsTable(cmd.OutOrStdout(), parsed)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", signFormat)
	}
}

// readClaims returns the caller claims as an encoded JSON object, or ""
// when none were given. In key=value form, JSON arrays and objects are
// decoded so they can be passed inline.
func readClaims(cmd *cobra.Command, args []string) (string, error) {
	var raw []byte

	switch {
	case len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{"):
		raw = []byte(args[0])
	case len(args) > 0:
		claims := make(map[string]interface{}, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || key == "" {
				return "", fmt.Errorf("invalid key=value format: %s", arg)
			}
			var doc interface{}
			if (strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{")) && json.Unmarshal([]byte(value), &doc) == nil {
				claims[key] = doc
				continue
			}
			claims[key] = inferType(value)
		}
		b, err := json.Marshal(claims)
		if err != nil {
			return "", fmt.Errorf("failed to encode claims: %w", err)
		}
		return string(b), nil
	case piped(cmd.InOrStdin()):
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		raw = bytes.TrimSpace(b)
	}

	if len(raw) == 0 {
		return "", nil
	}
	if !json.Valid(raw) {
		return "", fmt.Errorf("failed to parse claims: invalid JSON")
	}
	return string(raw), nil
}
