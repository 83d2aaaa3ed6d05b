package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tinytelemetry/harmonic/internal/model"
)

const companyColumns = "c.company_id, c.name, c.headcount, c.acquired_by, c.merged_into_parent_company"

func namePattern(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(name) + "%"
}

func scanCompany(row pgx.Row, v *model.CompanyView, extra ...any) error {
	return row.Scan(append([]any{&v.CompanyID, &v.Name, &v.Headcount, &v.AcquiredBy, &v.MergedIntoParentCompany}, extra...)...)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) People(ctx context.Context, name string) ([]model.PersonView, error) {
	query := "SELECT person_id, name FROM people"
	var args []any
	if name != "" {
		query += ` WHERE name ILIKE $1 ESCAPE '\'`
		args = append(args, namePattern(name))
	}
	rows, err := s.pool.Query(ctx, query+" ORDER BY person_id", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query people: %w", err)
	}
	people, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PersonView, error) {
		var p model.PersonView
		err := row.Scan(&p.PersonID, &p.Name)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan people: %w", err)
	}
	if people == nil {
		people = []model.PersonView{}
	}
	return people, nil
}

func (s *Store) PersonByID(ctx context.Context, personID int32) (*model.PersonView, error) {
	var p model.PersonView
	err := s.pool.QueryRow(ctx, "SELECT person_id, name FROM people WHERE person_id = $1", personID).
		Scan(&p.PersonID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query person %d: %w", personID, err)
	}
	return &p, nil
}

func (s *Store) PersonEmployers(ctx context.Context, personID int32) ([]model.Employer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+companyColumns+`, e.employment_title, e.start_date, e.end_date
		FROM employments e
		JOIN companies c ON c.company_id = e.company_id
		WHERE e.person_id = $1
		ORDER BY c.company_id`, personID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query employers of %d: %w", personID, err)
	}
	employers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Employer, error) {
		var e model.Employer
		err := scanCompany(row, &e.Company, &e.EmploymentTitle, &e.StartDate, &e.EndDate)
		e.StartDate, e.EndDate = utc(e.StartDate), utc(e.EndDate)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan employers: %w", err)
	}
	if employers == nil {
		employers = []model.Employer{}
	}
	return employers, nil
}

func (s *Store) Companies(ctx context.Context, name string) ([]model.CompanyView, error) {
	query := "SELECT " + companyColumns + " FROM companies c"
	var args []any
	if name != "" {
		query += ` WHERE c.name ILIKE $1 ESCAPE '\'`
		args = append(args, namePattern(name))
	}
	rows, err := s.pool.Query(ctx, query+" ORDER BY c.company_id", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query companies: %w", err)
	}
	companies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CompanyView, error) {
		var v model.CompanyView
		err := scanCompany(row, &v)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan companies: %w", err)
	}
	if companies == nil {
		companies = []model.CompanyView{}
	}
	return companies, nil
}

func (s *Store) CompanyByID(ctx context.Context, companyID int32) (*model.CompanyView, error) {
	var v model.CompanyView
	err := scanCompany(s.pool.QueryRow(ctx, "SELECT "+companyColumns+" FROM companies c WHERE c.company_id = $1", companyID), &v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query company %d: %w", companyID, err)
	}
	return &v, nil
}

func (s *Store) CompanyEmployees(ctx context.Context, companyID int32) ([]model.Employee, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.person_id, p.name, e.employment_title, e.start_date, e.end_date
		FROM employments e
		JOIN people p ON p.person_id = e.person_id
		WHERE e.company_id = $1
		ORDER BY p.person_id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query employees of %d: %w", companyID, err)
	}
	employees, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Employee, error) {
		var e model.Employee
		err := row.Scan(&e.Person.PersonID, &e.Person.Name, &e.EmploymentTitle, &e.StartDate, &e.EndDate)
		e.StartDate, e.EndDate = utc(e.StartDate), utc(e.EndDate)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan employees: %w", err)
	}
	if employees == nil {
		employees = []model.Employee{}
	}
	return employees, nil
}

func (s *Store) Counts(ctx context.Context) (model.GraphCounts, error) {
	var c model.GraphCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM people),
			(SELECT count(*) FROM companies),
			(SELECT count(*) FROM employments),
			(SELECT count(*) FROM companies WHERE acquired_by IS NOT NULL)`).
		Scan(&c.People, &c.Companies, &c.Employments, &c.Acquisitions)
	if err != nil {
		return model.GraphCounts{}, fmt.Errorf("postgres: counts: %w", err)
	}
	return c, nil
}
