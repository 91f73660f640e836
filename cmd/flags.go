package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// overrideString copies a string flag into dst when the user set it.
func overrideString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst = mustGetString(cmd, name)
	}
}

// overrideInt copies an int flag into dst when the user set it.
func overrideInt(cmd *cobra.Command, name string, dst *int) {
	if cmd.Flags().Changed(name) {
		*dst = mustGetInt(cmd, name)
	}
}

// addFingerprintFlags registers the flags shared by every command that hashes images.
func addFingerprintFlags(cmd *cobra.Command) {
	cmd.Flags().String("algorithm", "", "Hash algorithm: pHash, dHash or aHash")
	cmd.Flags().String("hasher", "", "Hash primitive: goimagehash or builtin")
	cmd.Flags().String("quality", "", "Image quality: fastFormat or highQualityFormat")
	cmd.Flags().Int("concurrency", 0, "Maximum images hashed at the same time")
	cmd.Flags().Int("batch-size", 0, "Images per pipeline batch")
	cmd.Flags().String("store", "", "Cache store: file, memory, sqlite, postgres or mysql")
	cmd.Flags().Int("cache-size", 0, "Maximum cached fingerprints; 0 disables and clears the cache")
}

// addGroupingFlags registers the flags shared by every command that compares fingerprints.
func addGroupingFlags(cmd *cobra.Command) {
	cmd.Flags().Int("threshold", 0, "Maximum Hamming distance in bits (0-64)")
	cmd.Flags().Int("nearest", 0, "Maximum members collected per group anchor")
	cmd.Flags().String("strategy", "", "Grouping strategy: allPairs, index or concurrent")
	cmd.Flags().String("index", "", "Similarity index: kdtree, bktree or hnsw")
	cmd.Flags().String("limit", "", "Group limit policy: inclusive or exclusive")
}
