// Personifai is a companion daemon that turns photos of everyday objects into
// talking friends. Replies stream from an LLM with inline [[ACTION]] markers
// that drive the friend's 3D body while the prose is spoken aloud.
//
// Usage:
//
//	personifai serve [--config /path/to/personifai.yaml]
//	personifai parse [file] [--chunk N]
//	personifai version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "personifai",
		Short:         "Talk to the objects around you",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "personifai %s\n", version)
		},
	}
}
