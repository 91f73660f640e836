package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
)

var pairsCmd = &cobra.Command{
	Use:   "pairs [image...]",
	Short: "List every pair of similar images",
	Long: `List every pair of images whose fingerprints are within --threshold bits,
with their Hamming distance. Unlike similar, an image may appear in many pairs.

Examples:
  photo-dedup pairs --dir ./photos --threshold 6
  photo-dedup pairs --dir ./photos --json`,
	RunE: runPairs,
}

func init() {
	rootCmd.AddCommand(pairsCmd)
	addFingerprintFlags(pairsCmd)
	pairsCmd.Flags().Int("threshold", 0, "Maximum Hamming distance in bits (0-64)")
}

// PairsOutput represents the JSON output of the pairs command.
type PairsOutput struct {
	Threshold int            `json:"threshold"`
	Pairs     []cluster.Pair `json:"pairs"`
	Count     int            `json:"count"`
}

func runPairs(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.Close()

	pairs, err := s.finder.FindPairs(s.ctx, s.ids)
	if err != nil {
		return err
	}
	if pairs == nil {
		pairs = []cluster.Pair{}
	}

	if s.json {
		return s.outputJSON(PairsOutput{Threshold: s.cfg.MaxHammingDistance, Pairs: pairs, Count: len(pairs)})
	}

	if len(pairs) == 0 {
		s.printf("No similar pairs found.\n")
		return nil
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIRST\tSECOND\tDISTANCE")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.First, p.Second, p.Distance)
	}
	return w.Flush()
}
