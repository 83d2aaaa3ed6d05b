package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Variant names carried in the "type" field of the wire envelope.
const (
	TypePerson             = "Person"
	TypeCompany            = "Company"
	TypeCompanyAcquisition = "CompanyAcquisition"
	TypePersonEmployment   = "PersonEmployment"
)

// Variants lists every supported message variant in a stable order.
var Variants = []string{
	TypePerson,
	TypeCompany,
	TypeCompanyAcquisition,
	TypePersonEmployment,
}

// ErrTypeMismatch is returned when Message.Type disagrees with the variant in Message.Data.
var ErrTypeMismatch = errors.New("model: message type does not match data variant")

// MessageData is the closed set of record shapes a Message can carry.
// Only the types in this package implement it.
type MessageData interface {
	Variant() string
	isMessageData()
}

// Person is a single individual.
type Person struct {
	PersonID int32  `json:"person_id"`
	Name     string `json:"name"`
}

// Company is a single organization. Headcount is optional.
type Company struct {
	CompanyID   int32  `json:"company_id"`
	CompanyName string `json:"company_name"`
	Headcount   *int32 `json:"headcount"`
}

// CompanyAcquisition records that the parent company acquired another company.
type CompanyAcquisition struct {
	ParentCompanyID         int32 `json:"parent_company_id"`
	AcquiredCompanyID       int32 `json:"acquired_company_id"`
	MergedIntoParentCompany bool  `json:"merged_into_parent_company"`
}

// PersonEmployment links a person to a company. Both dates are optional.
type PersonEmployment struct {
	CompanyID       int32      `json:"company_id"`
	PersonID        int32      `json:"person_id"`
	EmploymentTitle string     `json:"employment_title"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
}

func (Person) Variant() string             { return TypePerson }
func (Company) Variant() string            { return TypeCompany }
func (CompanyAcquisition) Variant() string { return TypeCompanyAcquisition }
func (PersonEmployment) Variant() string   { return TypePersonEmployment }

func (Person) isMessageData()             {}
func (Company) isMessageData()            {}
func (CompanyAcquisition) isMessageData() {}
func (PersonEmployment) isMessageData()   {}

// Message is the tagged envelope read from the stream, one per line.
type Message struct {
	Type string
	Data MessageData
}

// NewMessage wraps data in an envelope whose Type matches the variant.
func NewMessage(data MessageData) Message {
	return Message{Type: data.Variant(), Data: data}
}

// Validate checks that Type and the variant of Data agree.
func (m Message) Validate() error {
	if m.Data == nil {
		return fmt.Errorf("%w: no data for type %q", ErrTypeMismatch, m.Type)
	}
	if m.Type != m.Data.Variant() {
		return fmt.Errorf("%w: type %q carries %s", ErrTypeMismatch, m.Type, m.Data.Variant())
	}
	return nil
}

type wireMessage struct {
	Type string      `json:"type"`
	Data MessageData `json:"data"`
}

// MarshalJSON encodes the canonical wire envelope {"type": ..., "data": {...}}.
func (m Message) MarshalJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: m.Type, Data: m.Data})
}

// IsVariant reports whether name is one of the supported variants.
func IsVariant(name string) bool {
	for _, v := range Variants {
		if v == name {
			return true
		}
	}
	return false
}
