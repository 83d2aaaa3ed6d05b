package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tinytelemetry/harmonic/internal/model"
)

const companyColumns = "c.company_id, c.name, c.headcount, c.acquired_by, c.merged_into_parent_company"

// namePattern builds a case-insensitive substring pattern with LIKE
// metacharacters escaped.
func namePattern(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(name) + "%"
}

// People lists people ordered by id. A non-empty name filters by
// case-insensitive substring.
func (s *Store) People(ctx context.Context, name string) ([]model.PersonView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := "SELECT person_id, name FROM people"
	var args []any
	if name != "" {
		query += ` WHERE name ILIKE ? ESCAPE '\'`
		args = append(args, namePattern(name))
	}
	query += " ORDER BY person_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query people: %w", err)
	}
	defer rows.Close()

	people := []model.PersonView{}
	for rows.Next() {
		var p model.PersonView
		if err := rows.Scan(&p.PersonID, &p.Name); err != nil {
			return nil, fmt.Errorf("duckdb: scan person: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// PersonByID returns nil when no such person exists.
func (s *Store) PersonByID(ctx context.Context, personID int32) (*model.PersonView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var p model.PersonView
	err := s.db.QueryRowContext(ctx, "SELECT person_id, name FROM people WHERE person_id = ?", personID).
		Scan(&p.PersonID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("duckdb: query person %d: %w", personID, err)
	}
	return &p, nil
}

// PersonEmployers lists the companies a person works or worked at.
func (s *Store) PersonEmployers(ctx context.Context, personID int32) ([]model.Employer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`, e.employment_title, e.start_date, e.end_date
		FROM employments e
		JOIN companies c ON c.company_id = e.company_id
		WHERE e.person_id = ?
		ORDER BY c.company_id`, personID)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query employers of %d: %w", personID, err)
	}
	defer rows.Close()

	employers := []model.Employer{}
	for rows.Next() {
		var (
			e     model.Employer
			c     companyRow
			start sql.NullTime
			end   sql.NullTime
		)
		if err := rows.Scan(c.dest(&e.Company, &e.EmploymentTitle, &start, &end)...); err != nil {
			return nil, fmt.Errorf("duckdb: scan employer: %w", err)
		}
		c.fill(&e.Company)
		e.StartDate, e.EndDate = timePtr(start), timePtr(end)
		employers = append(employers, e)
	}
	return employers, rows.Err()
}

// Companies lists companies ordered by id. A non-empty name filters by
// case-insensitive substring.
func (s *Store) Companies(ctx context.Context, name string) ([]model.CompanyView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := "SELECT " + companyColumns + " FROM companies c"
	var args []any
	if name != "" {
		query += ` WHERE c.name ILIKE ? ESCAPE '\'`
		args = append(args, namePattern(name))
	}
	query += " ORDER BY c.company_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query companies: %w", err)
	}
	defer rows.Close()

	companies := []model.CompanyView{}
	for rows.Next() {
		var (
			v model.CompanyView
			c companyRow
		)
		if err := rows.Scan(c.dest(&v)...); err != nil {
			return nil, fmt.Errorf("duckdb: scan company: %w", err)
		}
		c.fill(&v)
		companies = append(companies, v)
	}
	return companies, rows.Err()
}

// CompanyByID returns nil when no such company exists.
func (s *Store) CompanyByID(ctx context.Context, companyID int32) (*model.CompanyView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var (
		v model.CompanyView
		c companyRow
	)
	err := s.db.QueryRowContext(ctx, "SELECT "+companyColumns+" FROM companies c WHERE c.company_id = ?", companyID).
		Scan(c.dest(&v)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("duckdb: query company %d: %w", companyID, err)
	}
	c.fill(&v)
	return &v, nil
}

// CompanyEmployees lists the people employed by a company.
func (s *Store) CompanyEmployees(ctx context.Context, companyID int32) ([]model.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.person_id, p.name, e.employment_title, e.start_date, e.end_date
		FROM employments e
		JOIN people p ON p.person_id = e.person_id
		WHERE e.company_id = ?
		ORDER BY p.person_id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query employees of %d: %w", companyID, err)
	}
	defer rows.Close()

	employees := []model.Employee{}
	for rows.Next() {
		var (
			e          model.Employee
			start, end sql.NullTime
		)
		if err := rows.Scan(&e.Person.PersonID, &e.Person.Name, &e.EmploymentTitle, &start, &end); err != nil {
			return nil, fmt.Errorf("duckdb: scan employee: %w", err)
		}
		e.StartDate, e.EndDate = timePtr(start), timePtr(end)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// Counts returns the number of stored records of each kind.
func (s *Store) Counts(ctx context.Context) (model.GraphCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var c model.GraphCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM people),
			(SELECT count(*) FROM companies),
			(SELECT count(*) FROM employments),
			(SELECT count(*) FROM companies WHERE acquired_by IS NOT NULL)`).
		Scan(&c.People, &c.Companies, &c.Employments, &c.Acquisitions)
	if err != nil {
		return model.GraphCounts{}, fmt.Errorf("duckdb: counts: %w", err)
	}
	return c, nil
}
