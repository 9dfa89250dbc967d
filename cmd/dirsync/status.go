package main

import (
	"github.com/spf13/cobra"

	"dirsync/internal/server"
)

// newStatusCmd creates the `status` command, which reports the configured
// domains and their changelog statistics from disk and the state store.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show changelog status for all configured domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadedManifest()
			if err != nil {
				return err
			}

			store, err := openStateStore(manifest)
			if err != nil {
				return err
			}
			defer store.Close()

			return renderStatus(server.Inspect(manifest, store))
		},
	}
}
