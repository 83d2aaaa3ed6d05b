package duckdb

import (
	"database/sql"
	"time"

	"github.com/tinytelemetry/harmonic/internal/model"
)

// companyRow holds the nullable columns of a company while scanning.
type companyRow struct {
	headcount  sql.NullInt32
	acquiredBy sql.NullInt32
	merged     sql.NullBool
}

// dest returns scan targets for companyColumns followed by extra.
func (c *companyRow) dest(v *model.CompanyView, extra ...any) []any {
	return append([]any{&v.CompanyID, &v.Name, &c.headcount, &c.acquiredBy, &c.merged}, extra...)
}

func (c *companyRow) fill(v *model.CompanyView) {
	if c.headcount.Valid {
		v.Headcount = &c.headcount.Int32
	}
	if c.acquiredBy.Valid {
		v.AcquiredBy = &c.acquiredBy.Int32
	}
	if c.merged.Valid {
		v.MergedIntoParentCompany = &c.merged.Bool
	}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
