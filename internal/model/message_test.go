package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewMessageSetsType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		data MessageData
		want string
	}{
		{Person{PersonID: 1, Name: "Ada"}, TypePerson},
		{Company{CompanyID: 2, CompanyName: "Acme"}, TypeCompany},
		{CompanyAcquisition{ParentCompanyID: 2, AcquiredCompanyID: 3}, TypeCompanyAcquisition},
		{PersonEmployment{CompanyID: 2, PersonID: 1}, TypePersonEmployment},
	}
	for _, tt := range tests {
		msg := NewMessage(tt.data)
		if msg.Type != tt.want {
			t.Fatalf("NewMessage(%T).Type = %q, want %q", tt.data, msg.Type, tt.want)
		}
		if err := msg.Validate(); err != nil {
			t.Fatalf("Validate(%T): %v", tt.data, err)
		}
	}
}

func TestValidateRejectsMismatch(t *testing.T) {
	t.Parallel()

	msg := Message{Type: TypeCompany, Data: Person{PersonID: 1, Name: "Ada"}}
	if err := msg.Validate(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Validate = %v, want ErrTypeMismatch", err)
	}

	empty := Message{Type: TypePerson}
	if err := empty.Validate(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Validate(nil data) = %v, want ErrTypeMismatch", err)
	}
}

func TestMarshalJSONEnvelope(t *testing.T) {
	t.Parallel()

	start := time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := NewMessage(PersonEmployment{
		CompanyID:       7,
		PersonID:        42,
		EmploymentTitle: "Engineer",
		StartDate:       &start,
	})

	data, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	got := string(data)
	for _, want := range []string{
		`"type":"PersonEmployment"`,
		`"company_id":7`,
		`"person_id":42`,
		`"employment_title":"Engineer"`,
		`"start_date":"2021-03-01T09:00:00Z"`,
		`"end_date":null`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("MarshalJSON = %s, missing %s", got, want)
		}
	}

	bad := Message{Type: TypePerson, Data: Company{CompanyID: 1}}
	if _, err := bad.MarshalJSON(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("MarshalJSON(mismatch) err = %v, want ErrTypeMismatch", err)
	}
}

func TestIsVariant(t *testing.T) {
	t.Parallel()

	for _, v := range Variants {
		if !IsVariant(v) {
			t.Fatalf("IsVariant(%q) = false", v)
		}
	}
	if IsVariant("Bogus") || IsVariant("person") {
		t.Fatal("IsVariant accepted an unknown variant")
	}
}
