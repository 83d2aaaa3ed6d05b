package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/harmonic/internal/backup"
	"github.com/tinytelemetry/harmonic/internal/duckdb"
	"github.com/tinytelemetry/harmonic/internal/model"
	"github.com/tinytelemetry/harmonic/internal/postgres"
	"github.com/tinytelemetry/harmonic/internal/sink"
)

// pipeline is the set of downstream consumers built from config.
type pipeline struct {
	sink  model.Sink
	names []string

	// graph serves the read API; nil when no store sink is configured.
	graph model.GraphReader
	// snapshots is the DuckDB store when one is configured.
	snapshots backup.Snapshotter

	closers []io.Closer
}

// buildPipeline opens every configured sink in order. On error, whatever was
// already opened is closed.
func buildPipeline(ctx context.Context, cfg appConfig, stdout io.Writer, logger zerolog.Logger) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	var sinks sink.Fanout
	for _, name := range cfg.Sinks {
		switch name {
		case sinkDuckDB:
			store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
			}
			p.closers = append(p.closers, store)
			sinks = append(sinks, store)
			if p.graph == nil {
				p.graph = store
			}
			p.snapshots = store

		case sinkPostgres:
			store, err := postgres.Connect(ctx, postgres.Config{
				URL:      cfg.PostgresURL,
				Schema:   cfg.PostgresSchema,
				MaxConns: cfg.PostgresMaxConns,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
			}
			p.closers = append(p.closers, store)
			sinks = append(sinks, store)
			if p.graph == nil {
				p.graph = store
			}

		case sinkNATS:
			pub, err := sink.DialNATS(ctx, sink.NATSConfig{
				URL:           cfg.NATSURL,
				SubjectPrefix: cfg.NATSSubjectPrefix,
				Stream:        cfg.NATSStream,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to initialize NATS: %w", err)
			}
			p.closers = append(p.closers, pub)
			sinks = append(sinks, pub)

		case sinkStdout:
			sinks = append(sinks, sink.NewPrinter(stdout))

		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
		p.names = append(p.names, name)
		logger.Debug().Str("sink", name).Msg("sink ready")
	}

	switch len(sinks) {
	case 0:
		p.sink = sink.Discard
	case 1:
		p.sink = sinks[0]
	default:
		p.sink = sinks
	}
	return p, nil
}

// Close closes the sinks in reverse order of opening.
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
