package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates [image...]",
	Short: "Group byte-identical images",
	Long: `Group images whose file contents are identical, using cached MD5 digests.
Near-duplicates (re-encoded, resized) are not grouped; use similar for those.

Examples:
  photo-dedup duplicates --dir ./photos
  photo-dedup duplicates --dir ./photos --json`,
	RunE: runDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)
	duplicatesCmd.Flags().Int("concurrency", 0, "Maximum images read at the same time")
	duplicatesCmd.Flags().String("store", "", "Cache store: file, memory, sqlite, postgres or mysql")
	duplicatesCmd.Flags().Int("cache-size", 0, "Maximum cached digests; 0 disables and clears the cache")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.Close()

	startTime := time.Now()
	groups, err := s.finder.FindDuplicates(s.ctx, s.ids)
	if err != nil {
		return err
	}

	return s.printGroups(GroupsOutput{
		Images:     len(s.ids),
		Groups:     groups,
		Count:      len(groups),
		DurationMs: time.Since(startTime).Milliseconds(),
	}, "duplicate")
}
