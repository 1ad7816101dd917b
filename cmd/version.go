package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/hostkeep/internal/identity"
)

// Version is the application version.
// This value is intended to be set at build time using ldflags.
// Example: go build -ldflags "-X github.com/xkilldash9x/hostkeep/cmd.Version=1.0.0"
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the fingerprint catalog in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "hostkeep %s (identity catalog %s, %s %s/%s)\n",
				Version, identity.CatalogVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
