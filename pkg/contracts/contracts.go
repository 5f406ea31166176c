package contracts

import (
	"context"
	"fmt"

	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

// Extractor lists records from a file-based source. A missing optional
// source yields an empty slice, not an error.
type Extractor interface {
	ListPatients(ctx context.Context) ([]models.SourcePatient, error)
	ListLabResults(ctx context.Context) ([]models.SourceLab, error)
	ListConditions(ctx context.Context) ([]models.Condition, error)
	ListAppointments(ctx context.Context) ([]models.Appointment, error)
}

// UpsertShape tags the three result shapes a CRM upsert endpoint is known
// to produce, depending on create vs. update and API version.
type UpsertShape int

const (
	// ShapeRecordWithID is a structured result carrying the remote id.
	ShapeRecordWithID UpsertShape = iota
	// ShapeRecordNoID is a structured result without an id; the id must be
	// resolved by a point lookup on the external key.
	ShapeRecordNoID
	// ShapeStatusCode is a bare status-code scalar; resolution falls back
	// to a point lookup, then to the code itself.
	ShapeStatusCode
)

func (s UpsertShape) String() string {
	switch s {
	case ShapeRecordWithID:
		return "record-with-id"
	case ShapeRecordNoID:
		return "record-without-id"
	case ShapeStatusCode:
		return "status-code"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// UpsertOutcome is the tagged variant of a CRM upsert response.
type UpsertOutcome struct {
	Shape      UpsertShape
	ID         string
	StatusCode int
	Created    bool
}

// QueryResult is the record page returned by a CRM query.
type QueryResult struct {
	TotalSize int            `json:"totalSize"`
	Done      bool           `json:"done"`
	Records   []utils.Record `json:"records"`
}

// CreateResult is the structured result of a CRM create call.
type CreateResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// CRMClient exposes the three CRM primitives the synchronizer depends on.
type CRMClient interface {
	Upsert(ctx context.Context, object, externalKeyPath string, payload utils.Record) (UpsertOutcome, error)
	Query(ctx context.Context, soql string) (QueryResult, error)
	Create(ctx context.Context, object string, payload utils.Record) (CreateResult, error)
}

// WarehouseClient appends rows to and queries the analytical warehouse.
type WarehouseClient interface {
	InsertRows(ctx context.Context, table string, rows []utils.Record) error
	Query(ctx context.Context, query string) ([]utils.Record, error)
}

// LLMClient is a prompt/response language-model client.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
