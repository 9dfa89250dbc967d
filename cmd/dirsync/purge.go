package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dirsync/internal/changelog"
	"dirsync/internal/csn"
	"dirsync/pkg/config"
)

// newPurgeCmd creates the `purge` command, which deletes every changelog
// file that only contains changes below a CSN boundary.
func newPurgeCmd() *cobra.Command {
	var (
		dir       string
		upTo      string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete changelog files below a CSN boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("purge: --dir is required")
			}

			var boundary csn.CSN
			switch {
			case upTo != "":
				parsed, err := csn.Parse(upTo)
				if err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				boundary = parsed
			case olderThan > 0:
				boundary = csn.New(time.Now().Add(-olderThan), 0, 0)
			default:
				return fmt.Errorf("purge: one of --up-to or --older-than is required")
			}

			registry := changelog.NewRegistry[csn.CSN, []byte](nil)
			log, err := registry.Open(dir, csn.Parser{}, config.DefaultSizeLimit)
			if err != nil {
				return err
			}
			defer log.Close()

			oldest, err := log.PurgeUpTo(boundary)
			if err != nil {
				return err
			}
			if oldest == nil {
				fmt.Println("changelog is empty after purge")
				return nil
			}
			fmt.Printf("oldest remaining record: %s\n", oldest.Key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "changelog directory")
	cmd.Flags().StringVar(&upTo, "up-to", "", "purge files wholly below this CSN")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "purge files wholly older than this duration")
	return cmd
}
