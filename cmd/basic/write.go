package basic

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stephnangue/jwtsecrets/cmd/helpers"
)

var (
	WriteCmd = &cobra.Command{
		Use:           "write",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Write data to a path",
		Long: `
Usage: jwtsecrets write PATH [DATA]

  Write data to the given path. The data can be provided as JSON via stdin,
  as a JSON argument, or as key=value pairs. A value starting with "@" is
  replaced with the contents of the named file.

  Create a role using JSON via stdin:

      $ jwtsecrets write jwt/role/web <<EOF
      {
        "ttl": "15m",
        "defaults": {"aud": "web"},
        "overrides": {"iss": "https://issuer.example.com"}
      }
      EOF

  Create a role using key=value format:

      $ jwtsecrets write jwt/role/web ttl=15m schema=@web-schema.json

  Rotate the signing key:

      $ jwtsecrets write jwt/rotate
`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWrite,
	}
)

func runWrite(cmd *cobra.Command, args []string) error {
	path := args[0]

	c, err := helpers.Client()
	if err != nil {
		return err
	}

	data, err := readData(cmd.InOrStdin(), args[1:])
	if err != nil {
		return err
	}
	if data, err = helpers.ResolveFileRefs(data); err != nil {
		return err
	}

	resource, err := c.Logical().WriteWithContext(cmd.Context(), path, data)
	if err != nil {
		return fmt.Errorf("failed to write to %s: %w", path, err)
	}

	if resource != nil && len(resource.Data) > 0 {
		helpers.PrintMapAsTable(cmd.OutOrStdout(), resource.Data)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Success! Data written to: %s\n", path)
	return nil
}

// readData reads the request data from piped stdin or from args, which
// are either key=value pairs or a single JSON document.
func readData(stdin io.Reader, args []string) (map[string]interface{}, error) {
	data := make(map[string]interface{})

	if piped(stdin) {
		bytes, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		if len(strings.TrimSpace(string(bytes))) > 0 {
			if err := json.Unmarshal(bytes, &data); err != nil {
				return nil, fmt.Errorf("failed to parse JSON: %w", err)
			}
			return encodeDocuments(data)
		}
	}

	if len(args) == 0 {
		return data, nil
	}

	if !strings.Contains(args[0], "=") || strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		jsonStr := strings.Join(args, " ")
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			return nil, fmt.Errorf("failed to parse JSON from arguments: %w", err)
		}
		return encodeDocuments(data)
	}

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value format: %s", arg)
		}
		data[key] = inferType(value)
	}
	return data, nil
}

// piped reports whether r has data redirected into it. Readers that are
// not files always count as piped.
func piped(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return r != nil
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

// encodeDocuments re-encodes nested objects and arrays as JSON strings.
func encodeDocuments(data map[string]interface{}) (map[string]interface{}, error) {
	for k, v := range data {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %q: %w", k, err)
			}
			data[k] = string(b)
		}
	}
	return data, nil
}

// inferType attempts to infer the type of a string value. JSON documents
// are left as strings since claims, defaults, overrides and schema are
// all sent as encoded JSON.
func inferType(value string) interface{} {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return value
}
