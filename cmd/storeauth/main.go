// Command storeauth exercises the storefront session controller: scripted
// simulations against the in-memory provider, a read-only debug server and a
// rate limiter load test.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "storeauth",
		Short:         "Storefront session lifecycle and abuse-control tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSimulateCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newLoadtestCommand())
	return cmd
}
