// Package decode turns one line of the ingest stream into a typed model.Message.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tinytelemetry/harmonic/internal/model"
	"github.com/tinytelemetry/harmonic/internal/timestamp"
)

// Kind classifies a decode failure.
type Kind int

const (
	// MalformedSyntax means the line is not valid JSON.
	MalformedSyntax Kind = iota + 1
	// UnknownVariant means the type tag names no supported variant.
	UnknownVariant
	// SchemaMismatch means a required field is missing or has the wrong type.
	SchemaMismatch
)

func (k Kind) String() string {
	switch k {
	case MalformedSyntax:
		return "malformed syntax"
	case UnknownVariant:
		return "unknown variant"
	case SchemaMismatch:
		return "schema mismatch"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a decode Error of the same kind.
var (
	ErrMalformedSyntax = &Error{Kind: MalformedSyntax}
	ErrUnknownVariant  = &Error{Kind: UnknownVariant}
	ErrSchemaMismatch  = &Error{Kind: SchemaMismatch}
)

// Error is returned for every line that cannot be decoded.
type Error struct {
	Kind Kind
	Type string // type tag, when one was read
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("decode: ")
	b.WriteString(e.Kind.String())
	if e.Type != "" {
		fmt.Fprintf(&b, " (type %q)", e.Type)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// envelope fields are pointers so that absence can be told apart from zero values.
type envelope struct {
	Type *string         `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type personFields struct {
	PersonID *int32  `json:"person_id" validate:"required"`
	Name     *string `json:"name" validate:"required"`
}

type companyFields struct {
	CompanyID   *int32  `json:"company_id" validate:"required"`
	CompanyName *string `json:"company_name" validate:"required"`
	Headcount   *int32  `json:"headcount"`
}

type acquisitionFields struct {
	ParentCompanyID         *int32 `json:"parent_company_id" validate:"required"`
	AcquiredCompanyID       *int32 `json:"acquired_company_id" validate:"required"`
	MergedIntoParentCompany *bool  `json:"merged_into_parent_company" validate:"required"`
}

type employmentFields struct {
	CompanyID       *int32  `json:"company_id" validate:"required"`
	PersonID        *int32  `json:"person_id" validate:"required"`
	EmploymentTitle *string `json:"employment_title" validate:"required"`
	StartDate       *date   `json:"start_date"`
	EndDate         *date   `json:"end_date"`
}

// date accepts the ISO 8601 forms understood by the timestamp package.
type date struct{ time.Time }

func (d *date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := timestamp.Parse(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d *date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses one line into a Message. Surrounding whitespace, including the
// line terminator, is ignored. The returned Message always satisfies Validate.
func Decode(line string) (model.Message, error) {
	raw := bytes.TrimSpace([]byte(line))
	// RawMessage fields are captured unchecked, so syntax is verified up front.
	if !json.Valid(raw) {
		return model.Message{}, &Error{Kind: MalformedSyntax, Err: syntaxError(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Message{}, &Error{Kind: SchemaMismatch, Err: err}
	}
	if err := checkRequired(&env); err != nil {
		return model.Message{}, &Error{Kind: SchemaMismatch, Err: err}
	}

	tag := *env.Type
	if !model.IsVariant(tag) {
		return model.Message{}, &Error{Kind: UnknownVariant, Type: tag, Err: fmt.Errorf("want one of %s", strings.Join(model.Variants, ", "))}
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return model.Message{}, &Error{Kind: SchemaMismatch, Type: tag, Err: errors.New("data is missing")}
	}

	data, err := decodeData(tag, env.Data)
	if err != nil {
		return model.Message{}, err
	}
	return model.NewMessage(data), nil
}

func decodeData(tag string, raw json.RawMessage) (model.MessageData, error) {
	switch tag {
	case model.TypePerson:
		var f personFields
		if err := unmarshalFields(tag, raw, &f); err != nil {
			return nil, err
		}
		return model.Person{PersonID: *f.PersonID, Name: *f.Name}, nil

	case model.TypeCompany:
		var f companyFields
		if err := unmarshalFields(tag, raw, &f); err != nil {
			return nil, err
		}
		return model.Company{CompanyID: *f.CompanyID, CompanyName: *f.CompanyName, Headcount: f.Headcount}, nil

	case model.TypeCompanyAcquisition:
		var f acquisitionFields
		if err := unmarshalFields(tag, raw, &f); err != nil {
			return nil, err
		}
		return model.CompanyAcquisition{
			ParentCompanyID:         *f.ParentCompanyID,
			AcquiredCompanyID:       *f.AcquiredCompanyID,
			MergedIntoParentCompany: *f.MergedIntoParentCompany,
		}, nil

	case model.TypePersonEmployment:
		var f employmentFields
		if err := unmarshalFields(tag, raw, &f); err != nil {
			return nil, err
		}
		return model.PersonEmployment{
			CompanyID:       *f.CompanyID,
			PersonID:        *f.PersonID,
			EmploymentTitle: *f.EmploymentTitle,
			StartDate:       f.StartDate.ptr(),
			EndDate:         f.EndDate.ptr(),
		}, nil
	}
	return nil, &Error{Kind: UnknownVariant, Type: tag}
}

func unmarshalFields(tag string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		// The whole line is valid JSON, so any failure here is about shape.
		return &Error{Kind: SchemaMismatch, Type: tag, Err: err}
	}
	if err := checkRequired(dst); err != nil {
		return &Error{Kind: SchemaMismatch, Type: tag, Err: err}
	}
	return nil
}

func checkRequired(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
}

// syntaxError describes why raw is not valid JSON.
func syntaxError(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty line")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return errors.New("invalid JSON")
}

// Encode renders msg as one canonical wire line without the trailing newline.
func Encode(msg model.Message) ([]byte, error) {
	return msg.MarshalJSON()
}
