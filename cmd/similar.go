package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
)

var similarCmd = &cobra.Command{
	Use:   "similar [image...]",
	Short: "Group near-duplicate images",
	Long: `Group images whose perceptual fingerprints are within --threshold bits of a
group anchor. Every image belongs to at most one group; groups have at least
two members and list the anchor first.

Strategies:
  allPairs    compare every anchor with every later image (exhaustive)
  index       ask a similarity index for each anchor's nearest candidates
  concurrent  build groups per batch in parallel and reconcile them

Examples:
  # Group the images under ./photos with the defaults
  photo-dedup similar --dir ./photos

  # Stricter threshold, exhaustive comparison
  photo-dedup similar --dir ./photos --threshold 4 --strategy allPairs

  # Large library: concurrent grouping over an HNSW index
  photo-dedup similar --dir ./photos --strategy concurrent --index hnsw

  # Output as JSON
  photo-dedup similar --dir ./photos --json`,
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)
	addFingerprintFlags(similarCmd)
	addGroupingFlags(similarCmd)
}

// GroupsOutput represents the JSON output of the similar and duplicates commands.
type GroupsOutput struct {
	Threshold  *int            `json:"threshold,omitempty"`
	Images     int             `json:"images"`
	Groups     []cluster.Group `json:"groups"`
	Count      int             `json:"count"`
	DurationMs int64           `json:"duration_ms"`
}

func runSimilar(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.Close()

	startTime := time.Now()
	groups, err := s.finder.FindSimilar(s.ctx, s.ids)
	if err != nil {
		return err
	}

	threshold := s.cfg.MaxHammingDistance
	return s.printGroups(GroupsOutput{
		Threshold:  &threshold,
		Images:     len(s.ids),
		Groups:     groups,
		Count:      len(groups),
		DurationMs: time.Since(startTime).Milliseconds(),
	}, "similar")
}

func (s *session) printGroups(output GroupsOutput, kind string) error {
	if output.Groups == nil {
		output.Groups = []cluster.Group{}
	}
	if s.json {
		return s.outputJSON(output)
	}

	if output.Count == 0 {
		s.printf("No %s images found among %d.\n", kind, output.Images)
		return nil
	}
	for i, g := range output.Groups {
		s.printf("Group %d (%d images):\n", i+1, len(g.IDs))
		for _, id := range g.IDs {
			s.printf("  %s\n", id)
		}
	}
	s.printf("\n%d groups among %d images in %s\n", output.Count, output.Images,
		formatDuration(time.Duration(output.DurationMs)*time.Millisecond))
	return nil
}
