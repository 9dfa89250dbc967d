package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dirsync/internal/changelog"
	"dirsync/internal/csn"
	"dirsync/internal/record"
	"dirsync/pkg/config"
)

// appendEntry is one stdin line for the `append` command. The CSN may be
// omitted, in which case one is generated from the wall clock and the
// supplied replica id.
type appendEntry struct {
	CSN  string `json:"csn,omitempty"`
	Data string `json:"data"`
}

// newAppendCmd creates the `append` command, which reads JSON change entries
// from stdin and appends them to a changelog directory. This lets external
// tools and tests feed a changelog without running the server.
func newAppendCmd() *cobra.Command {
	var (
		dir       string
		sizeLimit int64
		replicaID uint16
	)

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append change entries from stdin to a changelog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("append: --dir is required")
			}

			registry := changelog.NewRegistry[csn.CSN, []byte](nil)
			log, err := registry.Open(dir, csn.Parser{}, sizeLimit)
			if err != nil {
				return err
			}
			defer log.Close()

			var seq uint32
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}

				var entry appendEntry
				if err := json.Unmarshal(line, &entry); err != nil {
					fmt.Fprintf(os.Stderr, "append: skipping invalid JSON: %s\n", err)
					continue
				}

				var key csn.CSN
				if entry.CSN != "" {
					key, err = csn.Parse(entry.CSN)
					if err != nil {
						fmt.Fprintf(os.Stderr, "append: skipping entry: %s\n", err)
						continue
					}
				} else {
					key = csn.New(time.Now(), seq, replicaID)
					seq++
				}

				rec := record.Record[csn.CSN, []byte]{Key: key, Value: []byte(entry.Data)}
				if err := log.Append(rec); err != nil {
					return err
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("append: stdin read error: %w", err)
			}

			return log.Sync()
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "changelog directory")
	cmd.Flags().Int64Var(&sizeLimit, "size-limit", config.DefaultSizeLimit, "head rotation threshold in bytes")
	cmd.Flags().Uint16Var(&replicaID, "replica-id", 1, "replica id for generated CSNs")
	return cmd
}
