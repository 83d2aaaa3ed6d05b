package model

import (
	"context"
	"errors"
)

// ErrUnknownReference is returned by graph writers when a message points at a
// person or company that has not been ingested yet.
var ErrUnknownReference = errors.New("model: referenced record does not exist")

// Sink receives decoded messages from the ingestion loop.
type Sink interface {
	Accept(ctx context.Context, msg Message) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Accept(ctx context.Context, msg Message) error { return f(ctx, msg) }

// GraphReader provides the read-side queries over ingested people and companies.
// Lookups by id return (nil, nil) when nothing matches.
type GraphReader interface {
	People(ctx context.Context, name string) ([]PersonView, error)
	PersonByID(ctx context.Context, personID int32) (*PersonView, error)
	PersonEmployers(ctx context.Context, personID int32) ([]Employer, error)
	Companies(ctx context.Context, name string) ([]CompanyView, error)
	CompanyByID(ctx context.Context, companyID int32) (*CompanyView, error)
	CompanyEmployees(ctx context.Context, companyID int32) ([]Employee, error)
	Counts(ctx context.Context) (GraphCounts, error)
}

// GraphStore is a sink that can also answer read queries.
type GraphStore interface {
	Sink
	GraphReader
	Close() error
}
