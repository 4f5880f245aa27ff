// automodeler searches for the simplest component model that adequately fits
// an interferometric visibility dataset: it alternates residual imaging,
// single-component proposals and joint refits until the stopping criteria
// agree, then walks the accumulated history back to the preferred complexity.
//
// Usage:
//
//	automodeler model  --data <uvf> --out-dir <dir> --script <wrapper> [flags]
//	automodeler select --dir <dir> [flags]
//	automodeler serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "automodeler",
	Short: "Automatic component-model search for VLBI visibility data",
	Long: "Automodeler grows a difmap component model one component per iteration,\n" +
		"stopping when a configurable criterion bank agrees, and then selects the\n" +
		"simplest plausible complexity level from the iteration history.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
