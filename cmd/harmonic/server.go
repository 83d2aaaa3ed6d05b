package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/harmonic/internal/backup"
	"github.com/tinytelemetry/harmonic/internal/httpserver"
	"github.com/tinytelemetry/harmonic/internal/ingest"
	"github.com/tinytelemetry/harmonic/internal/journal"
	"github.com/tinytelemetry/harmonic/internal/logging"
	"github.com/tinytelemetry/harmonic/internal/pipe"
	"github.com/tinytelemetry/harmonic/internal/sink"
)

const shutdownDeadline = 10 * time.Second

// runServer runs the ingestion loop and its collaborators until a signal
// arrives or the loop hits a fatal error.
func runServer(cfg appConfig) error {
	logger, cleanupLogger, err := logging.New(cfg.logConfig(), os.Stderr)
	if err != nil {
		return err
	}
	defer cleanupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(shutdownDeadline)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nForce shutdown.")
		case <-deadline.C:
			fmt.Fprintln(os.Stderr, "Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	return serve(ctx, cfg, os.Stdout, logger, func(r runtimeInfo) {
		if !strings.EqualFold(cfg.LogFormat, logging.FormatJSON) {
			printStartupBanner(os.Stderr, cfg, r)
		}
	})
}

// runtimeInfo describes what serve actually started.
type runtimeInfo struct {
	Sinks    []string
	APIAddr  string // empty when the API is not running
	Replayed int
}

// serve wires the pipeline and blocks until ctx is cancelled or the loop
// terminates. ready, if non-nil, is called once everything is started.
func serve(ctx context.Context, cfg appConfig, stdout io.Writer, logger zerolog.Logger, ready func(runtimeInfo)) error {
	p, err := buildPipeline(ctx, cfg, stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Msg("close sinks")
		}
	}()

	info := runtimeInfo{Sinks: p.names}
	out := p.sink

	// Append-before-apply journal; uncommitted entries from a previous run are
	// applied before the first new line is read.
	if cfg.JournalEnabled {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open ingest journal: %w", err)
		}
		defer j.Close()

		journaled := sink.NewJournaled(j, p.sink, logger)
		info.Replayed, err = journaled.Replay(ctx)
		if err != nil {
			return fmt.Errorf("failed to replay ingest journal: %w", err)
		}
		if info.Replayed > 0 {
			logger.Info().Int("entries", info.Replayed).Msg("replayed uncommitted journal entries")
		}
		out = journaled
	}

	loop := ingest.New(cfg.PipePath, out, ingest.Config{
		Pipe: pipe.Config{
			MaxLineSize: cfg.MaxLineSize,
			RequireFIFO: cfg.RequireFIFO,
		},
		Logger:         &logger,
		ReopenDelay:    cfg.ReopenDelay,
		MaxReopenDelay: cfg.MaxReopenDelay,
	})

	if cfg.APIEnabled {
		if p.graph == nil {
			logger.Warn().Msg("http api disabled: no graph store sink configured")
		} else {
			api := httpserver.NewServer(cfg.APIAddr, p.graph, loop, logger)
			if err := api.Start(); err != nil {
				return fmt.Errorf("failed to start API server: %w", err)
			}
			defer api.Stop()
			info.APIAddr = api.Addr()
		}
	}

	backupManager, err := backup.NewManager(ctx, p.snapshots, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}

	if ready != nil {
		ready(info)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if backupManager != nil {
		g.Go(func() error {
			return backupManager.Run(gctx)
		})
	}

	err = g.Wait()
	stats := loop.Stats()
	logger.Info().
		Uint64("forwarded", stats.Forwarded).
		Uint64("decode_errors", stats.DecodeErrors).
		Uint64("sink_errors", stats.SinkErrors).
		Uint64("reconnects", stats.Reconnects).
		Msg("ingestion stopped")
	return err
}

func printStartupBanner(w io.Writer, cfg appConfig, info runtimeInfo) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦ ╦╔═╗╦═╗╔╦╗╔═╗╔╗╔╦╔═╗
    ╠═╣╠═╣╠╦╝║║║║ ║║║║║║
    ╩ ╩╩ ╩╩╚═╩ ╩╚═╝╝╚╝╩╚═╝`)

	separator := dim.Render("    ─────────────────────────────────")
	row := func(mark, label, value string) string {
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Input"), "")
	lines = append(lines, row(check, "Pipe", cyan.Render(shortenPath(cfg.PipePath))))
	if cfg.ReopenDelay > 0 {
		lines = append(lines, row(check, "Reopen Delay", dim.Render(cfg.ReopenDelay.String()+" .. "+cfg.MaxReopenDelay.String())))
	} else {
		lines = append(lines, row(dot, "Reopen Delay", dim.Render("immediate")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Sinks"), "")
	for _, name := range info.Sinks {
		var target string
		switch name {
		case sinkDuckDB:
			target = shortenPath(cfg.DBPath)
		case sinkPostgres:
			target = cfg.redacted().PostgresURL
		case sinkNATS:
			target = cfg.NATSURL
		case sinkStdout:
			target = "stdout"
		}
		lines = append(lines, row(check, name, dim.Render(target)))
	}
	if cfg.JournalEnabled {
		lines = append(lines, row(check, "Journal", dim.Render(fmt.Sprintf("%s (%d replayed)", shortenPath(cfg.JournalPath), info.Replayed))))
	} else {
		lines = append(lines, row(dot, "Journal", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	if info.APIAddr != "" {
		lines = append(lines, row(check, "HTTP API", cyan.Render(info.APIAddr)))
	} else {
		lines = append(lines, row(dot, "HTTP API", dim.Render("disabled")))
	}
	if cfg.BackupEnabled {
		lines = append(lines, row(check, "Snapshots", dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, row(dot, "Snapshots", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(dot, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
