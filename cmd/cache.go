package cmd

import (
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long:  `Commands for managing the persisted fingerprint cache.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many entries the cache holds",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached fingerprint and digest",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	for _, c := range []*cobra.Command{cacheStatsCmd, cacheClearCmd} {
		c.Flags().String("store", "", "Cache store: file, sqlite, postgres or mysql")
	}
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args, false)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.finder.Stats(s.ctx)
	if err != nil {
		return err
	}
	if s.json {
		return s.outputJSON(stats)
	}

	s.printf("Cache %q (%s store)\n", stats.Namespace, s.cfg.Store.Backend)
	s.printf("  Entries:     %d\n", stats.Entries)
	s.printf("  Max entries: %d\n", stats.MaxEntries)
	return nil
}

// CacheClearResult represents the JSON output of cache clear.
type CacheClearResult struct {
	Success   bool   `json:"success"`
	Namespace string `json:"namespace"`
	Removed   int    `json:"removed"`
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args, false)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.finder.Stats(s.ctx)
	if err != nil {
		return err
	}
	if err := s.finder.ClearCache(s.ctx); err != nil {
		return err
	}

	if s.json {
		return s.outputJSON(CacheClearResult{Success: true, Namespace: stats.Namespace, Removed: stats.Entries})
	}
	s.printf("Removed %d entries from cache %q\n", stats.Entries, stats.Namespace)
	return nil
}
