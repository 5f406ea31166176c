package extract

import (
	"context"

	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/config"
	"github.com/medbridge/clinsync/pkg/models"
)

// FileExtractor bundles the FHIR and CSV sources behind the extraction
// contract the pipeline consumes.
type FileExtractor struct {
	fhir *FHIRSource
	csv  *CSVSource
}

func NewFileExtractor(cfg config.ExtractConfig, logger *log.Logger) *FileExtractor {
	return &FileExtractor{
		fhir: NewFHIRSource(cfg.FHIRDir, logger),
		csv:  NewCSVSource(cfg.LabResults, cfg.Conditions, cfg.Appointments, logger),
	}
}

func (e *FileExtractor) ListPatients(ctx context.Context) ([]models.SourcePatient, error) {
	return e.fhir.ListPatients(ctx)
}

func (e *FileExtractor) ListLabResults(ctx context.Context) ([]models.SourceLab, error) {
	return e.csv.ListLabResults(ctx)
}

func (e *FileExtractor) ListConditions(ctx context.Context) ([]models.Condition, error) {
	return e.csv.ListConditions(ctx)
}

func (e *FileExtractor) ListAppointments(ctx context.Context) ([]models.Appointment, error) {
	return e.csv.ListAppointments(ctx)
}
