package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stephnangue/jwtsecrets/cmd/basic"
	"github.com/stephnangue/jwtsecrets/cmd/helpers"
	"github.com/stephnangue/jwtsecrets/cmd/server"
)

var (
	flagAddress string

	rootCmd = &cobra.Command{
		Use:   "jwtsecrets",
		Short: "jwtsecrets issues signed JWTs for named roles",
		Long: `jwtsecrets is a token issuing service. Operators define roles with default
claims, enforced claims and a JSON schema for caller claims; callers ask for a
token for a role and receive an RS256 JWT signed with a rotating key that is
published as a JWKS.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagAddress != "" {
				os.Setenv(helpers.EnvAddress, flagAddress)
			}
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagAddress, "address", "a", "", "Address of the server (can also use "+helpers.EnvAddress+" env var)")

	rootCmd.AddCommand(server.ServerCmd)
	rootCmd.AddCommand(basic.ReadCmd)
	rootCmd.AddCommand(basic.WriteCmd)
	rootCmd.AddCommand(basic.ListCmd)
	rootCmd.AddCommand(basic.DeleteCmd)
	rootCmd.AddCommand(basic.PathHelpCmd)
	rootCmd.AddCommand(basic.SignCmd)
	rootCmd.AddCommand(basic.VerifyCmd)
}
