package cmd

import (
	"github.com/spf13/cobra"
)

// Version is the application version.
// Set it at build time: go build -ldflags "-X github.com/xkilldash9x/quill/cmd.Version=1.2.0"
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quill version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("quill version %s\n", Version)
			return nil
		},
	}
}
