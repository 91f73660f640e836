package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/asset"
	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/events"
	"github.com/kozaktomas/photo-dedup/internal/finder"
	"github.com/kozaktomas/photo-dedup/internal/logging"
)

// session holds everything a command needs for one invocation.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	logger *slog.Logger
	finder *finder.Finder
	ids    []string
	json   bool
	out    io.Writer
}

// loadConfig reads defaults, --config, the environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := mustGetString(cmd, "config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	overrideString(cmd, "log-level", &cfg.Log.Level)
	overrideString(cmd, "algorithm", &cfg.HashAlgorithmName)
	overrideString(cmd, "hasher", &cfg.Hasher)
	overrideString(cmd, "quality", &cfg.ImageQuality)
	overrideInt(cmd, "concurrency", &cfg.MaxConcurrent)
	overrideInt(cmd, "batch-size", &cfg.ConcurrentBatchSize)
	overrideString(cmd, "store", &cfg.Store.Backend)
	overrideInt(cmd, "cache-size", &cfg.MaxCacheSize)
	overrideInt(cmd, "threshold", &cfg.MaxHammingDistance)
	overrideInt(cmd, "nearest", &cfg.NearestK)
	overrideString(cmd, "strategy", &cfg.Cluster.Strategy)
	overrideString(cmd, "index", &cfg.Cluster.Index)
	overrideString(cmd, "limit", &cfg.Cluster.Limit)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSession loads configuration, opens the store and resolves the ids to process.
// Positional args are ids; without them the --dir tree is walked when discover is set.
func newSession(cmd *cobra.Command, args []string, discover bool) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	jsonOutput := mustGetBool(cmd, "json")

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), level, cfg.Log.JSON)

	ctx, cancel := context.WithCancel(cmd.Context())

	// Handle Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Warn("received interrupt signal, stopping")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	s := &session{ctx: ctx, cancel: cancel, cfg: cfg, logger: logger, json: jsonOutput, out: cmd.OutOrStdout()}
	if err := s.open(cmd, args, discover); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) open(cmd *cobra.Command, args []string, discover bool) error {
	dir := mustGetString(cmd, "dir")
	quality, err := s.cfg.Quality()
	if err != nil {
		return err
	}
	resolver, err := asset.NewDirResolver(dir, quality)
	if err != nil {
		return err
	}

	sink := events.LogSink(s.logger)
	if !s.json {
		sink = events.Multi(newProgressSink(cmd.ErrOrStderr()), sink)
	}

	s.finder, err = finder.New(s.ctx, s.cfg, resolver, finder.WithSink(sink), finder.WithLogger(s.logger))
	if err != nil {
		return err
	}

	switch {
	case len(args) > 0:
		s.ids = make([]string, len(args))
		for i, a := range args {
			s.ids[i] = asset.NormalizeID(a)
		}
	case discover:
		s.ids, err = asset.Discover(s.ctx, dir)
		if err != nil {
			return err
		}
		s.logger.Debug("discovered images", "dir", dir, "count", len(s.ids))
	}
	return nil
}

func (s *session) Close() {
	if s.finder != nil {
		if err := s.finder.Close(); err != nil {
			s.logger.Warn("failed to close store", "error", err)
		}
	}
	s.cancel()
}

// printf writes human-readable output.
func (s *session) printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}

func (s *session) outputJSON(data any) error {
	encoder := json.NewEncoder(s.out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
