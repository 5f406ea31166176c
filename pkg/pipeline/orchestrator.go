package pipeline

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/contracts"
	"github.com/medbridge/clinsync/pkg/load"
	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/transform"
)

// Summary is the per-run outcome returned to callers and the HTTP API.
type Summary struct {
	ExtractedPatients     int               `json:"extracted_patients"`
	ExtractedLabs         int               `json:"extracted_labs"`
	ExtractedConditions   int               `json:"extracted_conditions"`
	ExtractedAppointments int               `json:"extracted_appointments"`
	InvalidPatients       int               `json:"invalid_patients"`
	InvalidLabs           int               `json:"invalid_labs"`
	Patients              models.SyncResult `json:"patients"`
	Labs                  models.SyncResult `json:"labs"`
	Risks                 models.SyncResult `json:"risks"`
	SnapshotRows          int               `json:"snapshot_rows"`
	EventRows             int               `json:"event_rows"`
	RiskRows              int               `json:"risk_rows"`
}

// Orchestrator sequences a full run: extract, map, validate, score,
// synchronize to the CRM, then append to the warehouse. The identifier
// map produced by the patient sync stage is threaded into every
// dependent write; it is never mutated after that stage returns.
type Orchestrator struct {
	extractor contracts.Extractor
	mapper    *transform.Mapper
	validator *transform.Validator
	risk      *transform.RiskEngine
	crm       *load.CRMSynchronizer
	warehouse *load.WarehouseLoader
	logger    *log.Logger
	lockFile  string
}

type Option func(*Orchestrator)

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithLockFile guards the run with a file lock so overlapping scheduled
// and manual runs cannot interleave writes.
func WithLockFile(path string) Option {
	return func(o *Orchestrator) {
		o.lockFile = path
	}
}

func New(
	extractor contracts.Extractor,
	mapper *transform.Mapper,
	validator *transform.Validator,
	risk *transform.RiskEngine,
	crm *load.CRMSynchronizer,
	warehouse *load.WarehouseLoader,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		mapper:    mapper,
		validator: validator,
		risk:      risk,
		crm:       crm,
		warehouse: warehouse,
		logger:    &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one pipeline pass. Collaborator failures during extraction
// abort the run; per-record failures downstream degrade the batch and are
// reported in the summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if o.lockFile != "" {
		lock := flock.New(o.lockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("another run holds the lock %s", o.lockFile)
		}
		defer func() {
			_ = lock.Unlock()
		}()
	}

	o.logger.Info().Msg("Starting pipeline run")
	summary := &Summary{}

	patients, err := o.extractor.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract patients: %w", err)
	}
	labs, err := o.extractor.ListLabResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract lab results: %w", err)
	}
	conditions, err := o.extractor.ListConditions(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract conditions: %w", err)
	}
	appointments, err := o.extractor.ListAppointments(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract appointments: %w", err)
	}
	summary.ExtractedPatients = len(patients)
	summary.ExtractedLabs = len(labs)
	summary.ExtractedConditions = len(conditions)
	summary.ExtractedAppointments = len(appointments)
	o.logger.Info().
		Int("patients", len(patients)).
		Int("labs", len(labs)).
		Int("conditions", len(conditions)).
		Int("appointments", len(appointments)).
		Msg("Extraction complete")

	mappedPatients := o.mapper.MapPatients(patients)
	mappedLabs := o.mapper.MapLabs(labs)

	validPatients, invalidPatients := o.validator.PartitionPatients(mappedPatients)
	validLabs, invalidLabs := o.validator.PartitionLabs(mappedLabs)
	summary.InvalidPatients = len(invalidPatients)
	summary.InvalidLabs = len(invalidLabs)
	o.logger.Info().
		Int("valid_patients", len(validPatients)).
		Int("valid_labs", len(validLabs)).
		Int("invalid_patients", len(invalidPatients)).
		Int("invalid_labs", len(invalidLabs)).
		Msg("Validation complete")

	assessments := o.risk.ScoreAll(patients, mappedLabs, conditions)
	o.logger.Info().Int("assessments", len(assessments)).Msg("Risk scoring complete")

	summary.Patients = o.crm.UpsertPatients(ctx, validPatients)
	idMap := summary.Patients.IDMap
	summary.Labs = o.crm.InsertLabResults(ctx, validLabs, idMap)
	summary.Risks = o.crm.InsertRiskAssessments(ctx, assessments, idMap)

	if n, err := o.warehouse.LoadPatientsSnapshot(ctx, validPatients, idMap); err != nil {
		o.logger.Error().Err(err).Msg("Patients snapshot load failed")
	} else {
		summary.SnapshotRows = n
	}
	if n, err := o.warehouse.LoadClinicalEvents(ctx, mappedLabs); err != nil {
		o.logger.Error().Err(err).Msg("Clinical events load failed")
	} else {
		summary.EventRows = n
	}
	if n, err := o.warehouse.LoadAppointmentEvents(ctx, appointments); err != nil {
		o.logger.Error().Err(err).Msg("Appointment events load failed")
	} else {
		summary.EventRows += n
	}
	if n, err := o.warehouse.LoadRiskScores(ctx, assessments); err != nil {
		o.logger.Error().Err(err).Msg("Risk scores load failed")
	} else {
		summary.RiskRows = n
	}

	o.logger.Info().
		Int("patients_synced", summary.Patients.Success).
		Int("labs_synced", summary.Labs.Success).
		Int("risks_synced", summary.Risks.Success).
		Int("snapshot_rows", summary.SnapshotRows).
		Int("event_rows", summary.EventRows).
		Int("risk_rows", summary.RiskRows).
		Msg("Pipeline run complete")
	return summary, nil
}
