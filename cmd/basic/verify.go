package basic

import (
	"errors"
	"fmt"
	"io"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/stephnangue/jwtsecrets/cmd/helpers"
	"github.com/stephnangue/jwtsecrets/jwtutil"
	"github.com/stephnangue/jwtsecrets/logger"
)

var (
	VerifyCmd = &cobra.Command{
		Use:           "verify",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Verify a token and print its claims",
		Long: `
Usage: jwtsecrets verify [TOKEN]

  Verify the signature and time claims of a token issued by a mount and
  print its claims. The token is read from stdin when not given.

  By default the signing key is looked up by kid under key/<kid>. With
  --jwks the mount's published key set is downloaded instead, the way a
  third-party verifier would.

  Examples:

      $ jwtsecrets verify eyJhbGciOiJSUzI1NiIs...
      $ jwtsecrets sign web | jwtsecrets verify --jwks
`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}

	verifyMount string
	verifyJWKS  bool
)

func init() {
	VerifyCmd.Flags().StringVarP(&verifyMount, "mount", "m", jwtutil.DefaultMount, "Mount path of the jwt backend")
	VerifyCmd.Flags().BoolVar(&verifyJWKS, "jwks", false, "Verify against the published JWKS")
}

func runVerify(cmd *cobra.Command, args []string) error {
	token, err := readToken(cmd, args)
	if err != nil {
		return err
	}

	c, err := helpers.Client()
	if err != nil {
		return err
	}

	var keyfunc gojwt.Keyfunc
	if verifyJWKS {
		log, _ := logger.NewGatedLogger(&logger.Config{
			Level:   logger.WarnLevel,
			Format:  logger.DefaultFormat,
			Outputs: []io.Writer{cmd.ErrOrStderr()},
		}, logger.GatedWriterConfig{Underlying: cmd.ErrOrStderr(), InitialState: logger.GateOpen})

		set, err := jwtutil.FetchJWKS(cmd.Context(), jwtutil.JWKSURL(c.Address(), verifyMount), logger.NewHCLogAdapter(log))
		if err != nil {
			return err
		}
		keyfunc = func(t *gojwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if keys := set.Key(kid); len(keys) > 0 {
				return keys[0].Key, nil
			}
			return nil, jwtutil.ErrKeyNotFound
		}
	} else {
		ks, err := jwtutil.NewKeySource(jwtutil.KeySourceConfig{Mount: verifyMount, Client: c})
		if err != nil {
			return err
		}
		defer ks.Close()
		keyfunc = ks.Keyfunc(cmd.Context())
	}

	claims := gojwt.MapClaims{}
	if _, err := gojwt.ParseWithClaims(token, claims, keyfunc, gojwt.WithValidMethods([]string{"RS256"})); err != nil {
		return fmt.Errorf("token is not valid: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Token is valid")
	helpers.PrintMapAsTable(cmd.OutOrStdout(), claims)
	return nil
}

func readToken(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	if !piped(cmd.InOrStdin()) {
		return "", errors.New("a token is required")
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errors.New("a token is required")
	}
	return token, nil
}
