package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dirsync/internal/changelog"
	"dirsync/internal/csn"
	"dirsync/pkg/config"
)

// newClearCmd creates the `clear` command, which deletes every file in a
// changelog directory and reinitializes an empty head.
func newClearCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all records in a changelog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("clear: --dir is required")
			}
			if !force {
				return fmt.Errorf("clear: refusing to delete %q without --force", dir)
			}

			registry := changelog.NewRegistry[csn.CSN, []byte](nil)
			log, err := registry.Open(dir, csn.Parser{}, config.DefaultSizeLimit)
			if err != nil {
				return err
			}
			defer log.Close()

			return log.Clear()
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "changelog directory")
	cmd.Flags().BoolVar(&force, "force", false, "confirm the deletion")
	return cmd
}
