// Command roseglass serves the co-creation API and its operator tooling.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. With no subcommand it serves.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = badColor.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var noColor bool
	root := &cobra.Command{
		Use:           "roseglass",
		Short:         "Rose Glass co-creation API server",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)
	root.AddCommand(
		newServeCmd(stderr),
		newMigrateCmd(stdout),
		newHealthCmd(stdout),
		newPriceCmd(stdout),
		newEventsCmd(stdout),
	)
	return root
}

func printKV(w io.Writer, label string, value any) {
	_, _ = labelColor.Fprintf(w, "%-14s", label+":")
	_, _ = fmt.Fprintf(w, " %v\n", value)
}
