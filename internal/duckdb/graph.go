package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tinytelemetry/harmonic/internal/model"
)

// Accept applies one message to the graph in a single transaction.
//
// Person and Company are upserts. CompanyAcquisition and PersonEmployment
// only link records that already exist; otherwise nothing is written and the
// error wraps model.ErrUnknownReference.
func (s *Store) Accept(ctx context.Context, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdb: begin: %w", err)
	}
	defer tx.Rollback()

	switch d := msg.Data.(type) {
	case model.Person:
		err = upsertPerson(ctx, tx, d)
	case model.Company:
		err = upsertCompany(ctx, tx, d)
	case model.CompanyAcquisition:
		err = recordAcquisition(ctx, tx, d)
	case model.PersonEmployment:
		err = upsertEmployment(ctx, tx, d)
	default:
		err = fmt.Errorf("duckdb: unsupported variant %s", msg.Type)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdb: commit %s: %w", msg.Type, err)
	}
	return nil
}

func upsertPerson(ctx context.Context, tx *sql.Tx, p model.Person) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO people (person_id, name) VALUES (?, ?)
		ON CONFLICT (person_id) DO UPDATE SET name = excluded.name`,
		p.PersonID, p.Name)
	if err != nil {
		return fmt.Errorf("duckdb: upsert person %d: %w", p.PersonID, err)
	}
	return nil
}

func upsertCompany(ctx context.Context, tx *sql.Tx, c model.Company) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO companies (company_id, name, headcount) VALUES (?, ?, ?)
		ON CONFLICT (company_id) DO UPDATE SET name = excluded.name, headcount = excluded.headcount`,
		c.CompanyID, c.CompanyName, nullInt32(c.Headcount))
	if err != nil {
		return fmt.Errorf("duckdb: upsert company %d: %w", c.CompanyID, err)
	}
	return nil
}

func recordAcquisition(ctx context.Context, tx *sql.Tx, a model.CompanyAcquisition) error {
	for _, id := range []int32{a.AcquiredCompanyID, a.ParentCompanyID} {
		ok, err := exists(ctx, tx, "SELECT count(*) FROM companies WHERE company_id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("duckdb: acquisition of %d by %d: company %d: %w",
				a.AcquiredCompanyID, a.ParentCompanyID, id, model.ErrUnknownReference)
		}
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE companies SET acquired_by = ?, merged_into_parent_company = ?
		WHERE company_id = ?`,
		a.ParentCompanyID, a.MergedIntoParentCompany, a.AcquiredCompanyID)
	if err != nil {
		return fmt.Errorf("duckdb: record acquisition of %d: %w", a.AcquiredCompanyID, err)
	}
	return nil
}

func upsertEmployment(ctx context.Context, tx *sql.Tx, e model.PersonEmployment) error {
	ok, err := exists(ctx, tx, "SELECT count(*) FROM companies WHERE company_id = ?", e.CompanyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("duckdb: employment at company %d: %w", e.CompanyID, model.ErrUnknownReference)
	}
	if ok, err = exists(ctx, tx, "SELECT count(*) FROM people WHERE person_id = ?", e.PersonID); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("duckdb: employment of person %d: %w", e.PersonID, model.ErrUnknownReference)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO employments (company_id, person_id, employment_title, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (company_id, person_id) DO UPDATE SET
			employment_title = excluded.employment_title,
			start_date = excluded.start_date,
			end_date = excluded.end_date`,
		e.CompanyID, e.PersonID, e.EmploymentTitle, nullTime(e.StartDate), nullTime(e.EndDate))
	if err != nil {
		return fmt.Errorf("duckdb: upsert employment %d/%d: %w", e.CompanyID, e.PersonID, err)
	}
	return nil
}

func exists(ctx context.Context, tx *sql.Tx, query string, id int32) (bool, error) {
	var n int64
	if err := tx.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("duckdb: lookup %d: %w", id, err)
	}
	return n > 0, nil
}

func nullInt32(v *int32) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
