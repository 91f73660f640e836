package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash [image...]",
	Short: "Print the perceptual fingerprint of each image",
	Long: `Print the 64-character binary fingerprint of each image, in input order.

Images that cannot be read or decoded print null.

Examples:
  # Fingerprint every image under ./photos
  photo-dedup hash --dir ./photos

  # Fingerprint two images with dHash
  photo-dedup hash --dir ./photos --algorithm dHash a.jpg b.jpg

  # Output as JSON
  photo-dedup hash --dir ./photos --json`,
	RunE: runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
	addFingerprintFlags(hashCmd)
}

// HashEntry is one image's fingerprint; Fingerprint is nil when absent.
type HashEntry struct {
	ID          string  `json:"id"`
	Fingerprint *string `json:"fingerprint"`
}

// HashOutput represents the JSON output of the hash command.
type HashOutput struct {
	Algorithm  string      `json:"algorithm"`
	Results    []HashEntry `json:"results"`
	Count      int         `json:"count"`
	Absent     int         `json:"absent"`
	DurationMs int64       `json:"duration_ms"`
}

func runHash(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.Close()

	startTime := time.Now()
	res, err := s.finder.Fingerprints(s.ctx, s.ids)
	if err != nil {
		return err
	}

	output := HashOutput{
		Algorithm:  s.cfg.HashAlgorithmName,
		Results:    make([]HashEntry, len(res.Records)),
		Count:      len(res.Records),
		DurationMs: time.Since(startTime).Milliseconds(),
	}
	for i, r := range res.Records {
		output.Results[i] = HashEntry{ID: r.ID, Fingerprint: r.Text()}
		if !r.Present {
			output.Absent++
		}
	}

	if s.json {
		return s.outputJSON(output)
	}

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, e := range output.Results {
		fp := "null"
		if e.Fingerprint != nil {
			fp = *e.Fingerprint
		}
		fmt.Fprintf(w, "%s\t%s\n", e.ID, fp)
	}
	return w.Flush()
}
