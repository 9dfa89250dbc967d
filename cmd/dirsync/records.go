package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dirsync/internal/changelog"
	"dirsync/internal/csn"
	"dirsync/pkg/colors"
	"dirsync/pkg/config"
)

// newRecordsCmd creates the `records` command, which walks a changelog with
// a cursor and prints each record in key order.
func newRecordsCmd() *cobra.Command {
	var (
		dir     string
		from    string
		nearest bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Dump changelog records in key order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("records: --dir is required")
			}

			registry := changelog.NewRegistry[csn.CSN, []byte](nil)
			log, err := registry.Open(dir, csn.Parser{}, config.DefaultSizeLimit)
			if err != nil {
				return err
			}
			defer log.Close()

			var cursor changelog.Cursor[csn.CSN, []byte]
			switch {
			case from == "":
				cursor = log.Cursor()
			default:
				key, err := csn.Parse(from)
				if err != nil {
					return fmt.Errorf("records: %w", err)
				}
				if nearest {
					cursor = log.NearestCursor(key)
				} else {
					cursor = log.CursorAt(key)
				}
			}
			defer cursor.Close()

			printed := 0
			if rec := cursor.Record(); rec != nil {
				printRecord(rec.Key, rec.Value)
				printed++
			}
			for (limit <= 0 || printed < limit) && cursor.Next() {
				rec := cursor.Record()
				if rec == nil {
					break
				}
				printRecord(rec.Key, rec.Value)
				printed++
			}

			if printed == 0 {
				fmt.Println("no records")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "changelog directory")
	cmd.Flags().StringVar(&from, "from", "", "start at this CSN")
	cmd.Flags().BoolVar(&nearest, "nearest", false, "with --from, start at the nearest following CSN")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum records to print (0 = all)")
	return cmd
}

func printRecord(key csn.CSN, value []byte) {
	fmt.Printf("%s %s %s\n",
		colors.Colorize(key.String(), colors.Green),
		colors.Colorize(key.Time().Format("2006-01-02 15:04:05.000"), colors.Blue),
		value)
}
