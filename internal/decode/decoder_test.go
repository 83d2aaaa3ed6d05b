package decode

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tinytelemetry/harmonic/internal/model"
)

func int32p(v int32) *int32 { return &v }

func timep(t time.Time) *time.Time { return &t }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 12, 31, 17, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		data model.MessageData
	}{
		{"person", model.Person{PersonID: 1, Name: "Grace Hopper"}},
		{"company with headcount", model.Company{CompanyID: 10, CompanyName: "Initech", Headcount: int32p(250)}},
		{"company without headcount", model.Company{CompanyID: 11, CompanyName: "Hooli"}},
		{"acquisition", model.CompanyAcquisition{ParentCompanyID: 10, AcquiredCompanyID: 11, MergedIntoParentCompany: true}},
		{"employment with dates", model.PersonEmployment{CompanyID: 10, PersonID: 1, EmploymentTitle: "CTO", StartDate: timep(start), EndDate: timep(end)}},
		{"employment without dates", model.PersonEmployment{CompanyID: 10, PersonID: 1, EmploymentTitle: "Advisor"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := model.NewMessage(tt.data)
			line, err := Encode(want)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(string(line) + "\n")
			if err != nil {
				t.Fatalf("Decode(%s): %v", line, err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", got, want)
			}
		})
	}
}

func TestDecodeOptionalFieldsAbsent(t *testing.T) {
	t.Parallel()

	msg, err := Decode(`{"type":"PersonEmployment","data":{"company_id":3,"person_id":4,"employment_title":"Intern"}}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	emp, ok := msg.Data.(model.PersonEmployment)
	if !ok {
		t.Fatalf("Data = %T, want model.PersonEmployment", msg.Data)
	}
	if emp.StartDate != nil || emp.EndDate != nil {
		t.Fatalf("dates = %v/%v, want nil/nil", emp.StartDate, emp.EndDate)
	}

	msg, err = Decode(`{"type":"Company","data":{"company_id":3,"company_name":"Acme","headcount":null}}`)
	if err != nil {
		t.Fatalf("Decode company: %v", err)
	}
	if c := msg.Data.(model.Company); c.Headcount != nil {
		t.Fatalf("headcount = %d, want nil", *c.Headcount)
	}
}

func TestDecodeZeroValuesAreNotMissing(t *testing.T) {
	t.Parallel()

	msg, err := Decode(`{"type":"CompanyAcquisition","data":{"parent_company_id":0,"acquired_company_id":0,"merged_into_parent_company":false}}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := model.NewMessage(model.CompanyAcquisition{})
	if !reflect.DeepEqual(msg, want) {
		t.Fatalf("Decode = %#v, want %#v", msg, want)
	}
}

func TestDecodeNaiveDates(t *testing.T) {
	t.Parallel()

	msg, err := Decode(`{"type":"PersonEmployment","data":{"company_id":1,"person_id":2,"employment_title":"VP","start_date":"2020-01-15T08:00:00","end_date":"2021-02-01"}}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	emp := msg.Data.(model.PersonEmployment)
	if want := time.Date(2020, 1, 15, 8, 0, 0, 0, time.UTC); !emp.StartDate.Equal(want) {
		t.Fatalf("start = %s, want %s", emp.StartDate, want)
	}
	if want := time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC); !emp.EndDate.Equal(want) {
		t.Fatalf("end = %s, want %s", emp.EndDate, want)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	msg, err := Decode(`{"type":"Person","data":{"person_id":9,"name":"Linus","nickname":"L"},"trace":"abc"}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := msg.Data.(model.Person); p.PersonID != 9 || p.Name != "Linus" {
		t.Fatalf("Decode = %#v", p)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want *Error
	}{
		{"not json", "not json\n", ErrMalformedSyntax},
		{"truncated", `{"type":"Person","data":{"person_id":1`, ErrMalformedSyntax},
		{"empty", "", ErrMalformedSyntax},
		{"trailing garbage", `{"type":"Person","data":{"person_id":1,"name":"a"}} x`, ErrMalformedSyntax},
		{"trailing comma in data", `{"type":"Person","data":{"person_id":1,"name":"a",}}`, ErrMalformedSyntax},
		{"missing comma in data", `{"type":"Person","data":{"person_id":1 "name":"a"}}`, ErrMalformedSyntax},
		{"bad escape in data", `{"type":"Person","data":{"person_id":1,"name":"\q"}}`, ErrMalformedSyntax},
		{"unquoted key in data", `{"type":"Person","data":{person_id:1}}`, ErrMalformedSyntax},
		{"broken data of unknown variant", `{"type":"Bogus","data":{broken}}`, ErrMalformedSyntax},
		{"unknown variant", `{"type":"Bogus","data":{}}` + "\n", ErrUnknownVariant},
		{"lowercase variant", `{"type":"person","data":{"person_id":1,"name":"a"}}`, ErrUnknownVariant},
		{"missing type", `{"data":{"person_id":1,"name":"a"}}`, ErrSchemaMismatch},
		{"type not string", `{"type":5,"data":{}}`, ErrSchemaMismatch},
		{"missing data", `{"type":"Person"}`, ErrSchemaMismatch},
		{"null data", `{"type":"Person","data":null}`, ErrSchemaMismatch},
		{"data not object", `{"type":"Person","data":[1,2]}`, ErrSchemaMismatch},
		{"missing required field", `{"type":"Person","data":{"person_id":1}}`, ErrSchemaMismatch},
		{"wrong field type", `{"type":"Company","data":{"company_id":"one","company_name":"Acme"}}`, ErrSchemaMismatch},
		{"int32 overflow", `{"type":"Person","data":{"person_id":3000000000,"name":"a"}}`, ErrSchemaMismatch},
		{"fractional id", `{"type":"Person","data":{"person_id":1.5,"name":"a"}}`, ErrSchemaMismatch},
		{"bad date", `{"type":"PersonEmployment","data":{"company_id":1,"person_id":2,"employment_title":"x","start_date":"soon"}}`, ErrSchemaMismatch},
		{"missing merged flag", `{"type":"CompanyAcquisition","data":{"parent_company_id":1,"acquired_company_id":2}}`, ErrSchemaMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.line)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want %s", tt.line, tt.want.Kind)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode(%q) err = %v, want kind %s", tt.line, err, tt.want.Kind)
			}
			var de *Error
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q) err = %T, want *Error", tt.line, err)
			}
		})
	}
}

func TestDecodeErrorReportsMissingFieldNames(t *testing.T) {
	t.Parallel()

	_, err := Decode(`{"type":"PersonEmployment","data":{"company_id":1}}`)
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if de.Type != model.TypePersonEmployment {
		t.Fatalf("Type = %q, want %q", de.Type, model.TypePersonEmployment)
	}
	want := "decode: schema mismatch (type \"PersonEmployment\"): missing required field(s): person_id, employment_title"
	if de.Error() != want {
		t.Fatalf("Error() = %q, want %q", de.Error(), want)
	}
}
