package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photo-dedup",
	Short: "Find near-duplicate photos using perceptual hashes",
	Long: `Photo Dedup computes 64-bit perceptual fingerprints (pHash, dHash, aHash)
for the images in a directory, caches them in a local or SQL store and groups
images whose fingerprints are within a Hamming distance threshold.

Images are identified by their path relative to --dir. When no ids are given
on the command line, the directory is walked for supported image files.

Configuration comes from built-in defaults, an optional --config YAML file,
PHASH_* environment variables (a .env file is loaded if present) and flags,
in increasing order of precedence.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML file overriding the built-in defaults")
	pf.String("dir", ".", "Image directory; ids are paths relative to it")
	pf.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	pf.Bool("json", false, "Output as JSON instead of text and progress bars")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
