// Package cli implements the weaveflow command line.
package cli

import (
	"io"

	"github.com/spf13/cobra"
)

const (
	// Version is the current release.
	Version = "0.1.0"

	serviceName = "weaveflow"
)

// NewRootCommand builds the weaveflow command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "weaveflow",
		Short:         "DAG run engine for AI media workflows",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newServeCommand())
	root.AddCommand(newRunCommand())
	return root
}
