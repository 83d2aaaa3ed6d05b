// Package backup takes periodic snapshots of the on-disk graph database,
// keeps the newest few locally and optionally copies each one to S3.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24
	filePrefix      = "harmonic-"
	fileSuffix      = ".duckdb"
)

// Manager runs snapshots on a fixed interval until its context ends.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	logger   zerolog.Logger
	now      func() time.Time
}

// NewManager validates cfg and builds a manager. It returns nil, nil when
// backups are disabled.
func NewManager(ctx context.Context, store Snapshotter, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, errors.New("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, errors.New("backup: local-dir is required when backup is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}

	m := &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "backup").Logger(),
		now:    time.Now,
	}
	if strings.TrimSpace(cfg.BucketURL) != "" {
		u, err := NewS3Uploader(ctx, S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			UseSSL:       cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		m.uploader = u
	}
	return m, nil
}

// Run takes a snapshot immediately and then once per interval. Failed
// snapshots are logged and retried on the next tick. Run returns nil when ctx
// is cancelled; an in-flight upload is cancelled with it.
func (m *Manager) Run(ctx context.Context) error {
	m.runLogged(ctx, "startup")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.runLogged(ctx, "periodic")
		}
	}
}

func (m *Manager) runLogged(ctx context.Context, kind string) {
	if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error().Err(err).Str("kind", kind).Msg("snapshot failed")
	}
}

// RunOnce creates one snapshot, uploads it when configured and prunes old
// local copies.
func (m *Manager) RunOnce(ctx context.Context) error {
	name := filePrefix + m.now().UTC().Format("20060102-150405.000") + fileSuffix
	localPath := filepath.Join(m.cfg.LocalDir, name)

	if err := m.store.SnapshotTo(ctx, localPath); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	m.logger.Info().Str("file", localPath).Msg("created snapshot")

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		m.logger.Info().Str("file", name).Msg("uploaded snapshot")
	}

	if err := prune(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune local backups: %w", err)
	}
	return nil
}

// prune keeps the keepLast newest snapshots. Names embed a sortable UTC
// timestamp, so lexical order is chronological.
func prune(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(localDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	slices.Sort(matches)
	for _, old := range matches[:len(matches)-keepLast] {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
