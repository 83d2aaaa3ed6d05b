// Package postgres stores the people/company graph in PostgreSQL. It applies
// the same write semantics and serves the same reads as the DuckDB store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinytelemetry/harmonic/internal/model"
)

//go:embed schema.sql
var schema string

const defaultConnectTimeout = 30 * time.Second

var _ model.GraphStore = (*Store)(nil)

// Config selects the database and pool size.
type Config struct {
	URL string
	// Schema, when set, is created if missing and used as the search path.
	Schema   string
	MaxConns int32
}

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool, verifies connectivity and creates the tables.
func Connect(ctx context.Context, conf Config) (*Store, error) {
	if strings.TrimSpace(conf.URL) == "" {
		return nil, errors.New("postgres: url is empty")
	}
	poolConf, err := pgxpool.ParseConfig(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	if conf.MaxConns > 0 {
		poolConf.MaxConns = conf.MaxConns
	}
	if conf.Schema != "" {
		poolConf.ConnConfig.RuntimeParams["search_path"] = conf.Schema
	}

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConf)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if conf.Schema != "" {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{conf.Schema}.Sanitize()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: create schema: %w", err)
		}
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create tables: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Accept applies one message in a single transaction. Linking messages that
// name an unknown person or company write nothing and wrap
// model.ErrUnknownReference.
func (s *Store) Accept(ctx context.Context, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		switch d := msg.Data.(type) {
		case model.Person:
			_, err := tx.Exec(ctx, `
				INSERT INTO people (person_id, name) VALUES ($1, $2)
				ON CONFLICT (person_id) DO UPDATE SET name = EXCLUDED.name`,
				d.PersonID, d.Name)
			return wrap(err, "upsert person %d", d.PersonID)

		case model.Company:
			_, err := tx.Exec(ctx, `
				INSERT INTO companies (company_id, name, headcount) VALUES ($1, $2, $3)
				ON CONFLICT (company_id) DO UPDATE SET name = EXCLUDED.name, headcount = EXCLUDED.headcount`,
				d.CompanyID, d.CompanyName, d.Headcount)
			return wrap(err, "upsert company %d", d.CompanyID)

		case model.CompanyAcquisition:
			return acquire(ctx, tx, d)

		case model.PersonEmployment:
			return employ(ctx, tx, d)
		}
		return fmt.Errorf("postgres: unsupported variant %s", msg.Type)
	})
}

func acquire(ctx context.Context, tx pgx.Tx, a model.CompanyAcquisition) error {
	var parentExists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM companies WHERE company_id = $1)", a.ParentCompanyID).
		Scan(&parentExists); err != nil {
		return wrap(err, "lookup company %d", a.ParentCompanyID)
	}
	if !parentExists {
		return fmt.Errorf("postgres: acquisition by company %d: %w", a.ParentCompanyID, model.ErrUnknownReference)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE companies SET acquired_by = $1, merged_into_parent_company = $2
		WHERE company_id = $3`,
		a.ParentCompanyID, a.MergedIntoParentCompany, a.AcquiredCompanyID)
	if err != nil {
		return wrap(err, "record acquisition of %d", a.AcquiredCompanyID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: acquisition of company %d: %w", a.AcquiredCompanyID, model.ErrUnknownReference)
	}
	return nil
}

func employ(ctx context.Context, tx pgx.Tx, e model.PersonEmployment) error {
	// The insert selects from both endpoints, so a missing one yields no row.
	tag, err := tx.Exec(ctx, `
		INSERT INTO employments (company_id, person_id, employment_title, start_date, end_date)
		SELECT c.company_id, p.person_id, $3::text, $4::timestamptz, $5::timestamptz
		FROM companies c, people p
		WHERE c.company_id = $1 AND p.person_id = $2
		ON CONFLICT (company_id, person_id) DO UPDATE SET
			employment_title = EXCLUDED.employment_title,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date`,
		e.CompanyID, e.PersonID, e.EmploymentTitle, e.StartDate, e.EndDate)
	if err != nil {
		return wrap(err, "upsert employment %d/%d", e.CompanyID, e.PersonID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: employment of person %d at company %d: %w", e.PersonID, e.CompanyID, model.ErrUnknownReference)
	}
	return nil
}

func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("postgres: "+format+": %w", append(args, err)...)
}
