package model

import "time"

// PersonView is a person as returned by the read API.
type PersonView struct {
	PersonID int32  `json:"person_id"`
	Name     string `json:"name"`
}

// CompanyView is a company as returned by the read API.
// AcquiredBy and MergedIntoParentCompany are nil until an acquisition is recorded.
type CompanyView struct {
	CompanyID               int32  `json:"company_id"`
	Name                    string `json:"name"`
	Headcount               *int32 `json:"headcount"`
	AcquiredBy              *int32 `json:"acquired_by"`
	MergedIntoParentCompany *bool  `json:"merged_into_parent_company"`
}

// Employer is one employment edge seen from the person side.
type Employer struct {
	Company         CompanyView `json:"company"`
	EmploymentTitle string      `json:"employment_title"`
	StartDate       *time.Time  `json:"start_date"`
	EndDate         *time.Time  `json:"end_date"`
}

// Employee is one employment edge seen from the company side.
type Employee struct {
	Person          PersonView `json:"person"`
	EmploymentTitle string     `json:"employment_title"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
}

// GraphCounts summarizes the size of the stored graph.
type GraphCounts struct {
	People       int64 `json:"people"`
	Companies    int64 `json:"companies"`
	Employments  int64 `json:"employments"`
	Acquisitions int64 `json:"acquisitions"`
}
