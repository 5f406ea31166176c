package load

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/contracts"
	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

// CRM object API names for the clinical schema.
const (
	PatientObject        = "Patient_Medical_Record__c"
	LabResultObject      = "Lab_Result__c"
	RiskAssessmentObject = "Risk_Assessment__c"

	patientExternalKey = "Patient_ID__c"
)

// ErrParentNotFound marks a dependent insert whose parent never resolved to
// a remote identifier. It is a local precondition failure, not a remote
// rejection.
var ErrParentNotFound = errors.New("parent identifier not found")

// CRMSynchronizer reconciles locally generated records against the CRM.
// Patients are upserted by external key; lab results and risk assessments
// are created as children of the resolved remote identifier.
type CRMSynchronizer struct {
	client    contracts.CRMClient
	logger    *log.Logger
	decorator func(models.Patient) utils.Record
}

type CRMOption func(*CRMSynchronizer)

func WithCRMLogger(logger *log.Logger) CRMOption {
	return func(s *CRMSynchronizer) {
		s.logger = logger
	}
}

// WithPayloadDecorator merges extra computed fields into every patient
// upsert body.
func WithPayloadDecorator(fn func(models.Patient) utils.Record) CRMOption {
	return func(s *CRMSynchronizer) {
		s.decorator = fn
	}
}

func NewCRMSynchronizer(client contracts.CRMClient, opts ...CRMOption) *CRMSynchronizer {
	s := &CRMSynchronizer{
		client: client,
		logger: &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertPatient writes one patient keyed by its external identifier and
// resolves the remote identifier through the three-shaped fallback chain:
// the structured result's id, a point lookup by external key, and finally
// the bare status code itself.
func (s *CRMSynchronizer) UpsertPatient(ctx context.Context, patient models.Patient) (string, error) {
	if patient.PatientID == "" {
		return "", fmt.Errorf("missing %s", patientExternalKey)
	}
	payload := patient.Payload()
	if s.decorator != nil {
		for k, v := range s.decorator(patient) {
			payload[k] = v
		}
	}
	outcome, err := s.client.Upsert(ctx, PatientObject, patientExternalKey+"/"+patient.PatientID, payload)
	if err != nil {
		return "", fmt.Errorf("upsert failed: %w", err)
	}

	var remoteID string
	switch outcome.Shape {
	case contracts.ShapeRecordWithID:
		remoteID = outcome.ID
	case contracts.ShapeRecordNoID:
		remoteID, err = s.lookupRemoteID(ctx, patient.PatientID)
		if err != nil {
			return "", err
		}
	case contracts.ShapeStatusCode:
		remoteID, err = s.lookupRemoteID(ctx, patient.PatientID)
		if err != nil {
			return "", err
		}
		if remoteID == "" {
			// Last resort: some endpoints only report the status code on
			// creation.
			remoteID = strconv.Itoa(outcome.StatusCode)
		}
	}
	if remoteID == "" {
		s.logger.Error().Str("patient_id", patient.PatientID).Str("shape", outcome.Shape.String()).Msg("Could not resolve remote identifier")
		return "", fmt.Errorf("could not resolve remote identifier, result shape: %s", outcome.Shape)
	}

	s.logger.Debug().Str("patient_id", patient.PatientID).Str("remote_id", remoteID).Msg("Upserted patient")
	return remoteID, nil
}

// lookupRemoteID resolves the internal identifier through a point query on
// the external key.
func (s *CRMSynchronizer) lookupRemoteID(ctx context.Context, patientID string) (string, error) {
	soql := fmt.Sprintf("SELECT Id FROM %s WHERE %s = '%s' LIMIT 1", PatientObject, patientExternalKey, patientID)
	res, err := s.client.Query(ctx, soql)
	if err != nil {
		return "", fmt.Errorf("remote identifier lookup failed: %w", err)
	}
	if len(res.Records) == 0 {
		return "", nil
	}
	id, _ := res.Records[0]["Id"].(string)
	return id, nil
}

// UpsertPatients writes a batch record by record. A failure never aborts
// the rest of the batch; the identifier map holds successes only.
func (s *CRMSynchronizer) UpsertPatients(ctx context.Context, patients []models.Patient) models.SyncResult {
	result := models.SyncResult{Total: len(patients), IDMap: make(map[string]string)}
	s.logger.Info().Int("count", len(patients)).Msg("Starting batch upsert of patients")

	for _, patient := range patients {
		remoteID, err := s.UpsertPatient(ctx, patient)
		if err != nil {
			s.logger.Error().Err(err).Str("patient_id", patient.PatientID).Msg("Error upserting patient")
			result.AddFailure(patient.PatientID, err.Error())
			continue
		}
		result.AddSuccess(patient.PatientID, remoteID)
	}

	s.logBatchSummary("Batch upsert complete", result)
	return result
}

// logBatchSummary reports totals plus a capped error list so one bad batch
// cannot flood the log.
func (s *CRMSynchronizer) logBatchSummary(msg string, result models.SyncResult) {
	e := s.logger.Info().Int("success", result.Success).Int("failed", result.Failed)
	if result.Failed > 0 {
		var descs []string
		for _, batchErr := range utils.Cap(result.Errors, 5) {
			descs = append(descs, batchErr.ID+": "+batchErr.Message)
		}
		e = e.Str("errors", strings.Join(descs, "; "))
	}
	e.Msg(msg)
}

// InsertLabResult creates one lab result linked to an already-resolved
// patient. The payload is always the sanitized allow-listed shape.
func (s *CRMSynchronizer) InsertLabResult(ctx context.Context, lab models.LabObservation, parentRemoteID string) error {
	if parentRemoteID == "" {
		return ErrParentNotFound
	}
	_, err := s.client.Create(ctx, LabResultObject, lab.Payload(parentRemoteID))
	if err != nil {
		return fmt.Errorf("lab result create failed: %w", err)
	}
	s.logger.Debug().Str("parent_id", parentRemoteID).Str("test_type", lab.TestType).Msg("Inserted lab result")
	return nil
}

// InsertLabResults creates a lab batch, resolving each parent through the
// identifier map. Map misses fail locally, without a remote call, and are
// reported distinctly from remote errors.
func (s *CRMSynchronizer) InsertLabResults(ctx context.Context, labs []models.LabObservation, idMap map[string]string) models.SyncResult {
	result := models.SyncResult{Total: len(labs)}
	s.logger.Info().Int("count", len(labs)).Msg("Starting batch insert of lab results")

	for _, lab := range labs {
		parentID := idMap[lab.PatientID]
		if parentID == "" {
			result.AddFailure(lab.PatientID, ErrParentNotFound.Error())
			continue
		}
		if err := s.InsertLabResult(ctx, lab, parentID); err != nil {
			s.logger.Error().Err(err).Str("patient_id", lab.PatientID).Msg("Error inserting lab result")
			result.AddFailure(lab.PatientID, err.Error())
			continue
		}
		result.AddSuccess(lab.PatientID, "")
	}

	s.logBatchSummary("Batch insert complete", result)
	return result
}

// InsertRiskAssessments creates the derived assessments, one per patient,
// under the same per-record independence contract.
func (s *CRMSynchronizer) InsertRiskAssessments(ctx context.Context, risks []models.RiskAssessment, idMap map[string]string) models.SyncResult {
	result := models.SyncResult{Total: len(risks)}
	s.logger.Info().Int("count", len(risks)).Msg("Starting batch insert of risk assessments")

	for _, risk := range risks {
		parentID := idMap[risk.PatientID]
		if parentID == "" {
			result.AddFailure(risk.PatientID, ErrParentNotFound.Error())
			continue
		}
		if _, err := s.client.Create(ctx, RiskAssessmentObject, risk.Payload(parentID)); err != nil {
			s.logger.Error().Err(err).Str("patient_id", risk.PatientID).Msg("Error inserting risk assessment")
			result.AddFailure(risk.PatientID, err.Error())
			continue
		}
		result.AddSuccess(risk.PatientID, "")
	}

	s.logBatchSummary("Batch insert complete", result)
	return result
}
