// Command avapd runs the line-oriented script execution service: the
// HTTP surface (serve, which `serve --workers N` also re-execs as its
// worker children with AVAP_WORKER=1), a one-shot compiler (compile),
// a signing/master key generator (keygen), and the $SECRET: store
// manager (secrets).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avapd",
		Short: "avapd script execution daemon",
		Long:  "Run the avapd scripting service: parse, compile, and execute line-oriented DSL scripts behind an HTTP surface.",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(secretsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
