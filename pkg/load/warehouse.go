package load

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
	"github.com/oarkflow/xid"

	"github.com/medbridge/clinsync/pkg/contracts"
	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

// Warehouse table names.
const (
	PatientsSnapshotTable  = "patients_snapshot"
	ClinicalEventsTable    = "clinical_events"
	RiskScoresHistoryTable = "risk_scores_history"
)

// WarehouseLoader appends analytical rows. It never upserts: every run
// produces new timestamped rows, and deduplication across runs is out of
// scope.
type WarehouseLoader struct {
	client  contracts.WarehouseClient
	logger  *log.Logger
	dataset string
	now     func() time.Time
}

type WarehouseOption func(*WarehouseLoader)

func WithWarehouseLogger(logger *log.Logger) WarehouseOption {
	return func(l *WarehouseLoader) {
		l.logger = logger
	}
}

// WithDataset prefixes table names with a dataset/schema qualifier.
func WithDataset(dataset string) WarehouseOption {
	return func(l *WarehouseLoader) {
		l.dataset = dataset
	}
}

func WithWarehouseClock(now func() time.Time) WarehouseOption {
	return func(l *WarehouseLoader) {
		l.now = now
	}
}

func NewWarehouseLoader(client contracts.WarehouseClient, opts ...WarehouseOption) *WarehouseLoader {
	l := &WarehouseLoader{
		client: client,
		logger: &log.DefaultLogger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *WarehouseLoader) table(name string) string {
	if l.dataset == "" {
		return name
	}
	return l.dataset + "." + name
}

// LoadPatientsSnapshot appends one snapshot row per patient, annotated with
// the remote identifier resolved during CRM synchronization.
func (l *WarehouseLoader) LoadPatientsSnapshot(ctx context.Context, patients []models.Patient, idMap map[string]string) (int, error) {
	snapshotTime := l.now().UTC().Format(time.RFC3339)
	rows := make([]utils.Record, 0, len(patients))
	for _, p := range patients {
		rows = append(rows, utils.Record{
			"patient_id":    p.PatientID,
			"salesforce_id": idMap[p.PatientID],
			"first_name":    p.FirstName,
			"last_name":     p.LastName,
			"date_of_birth": p.DateOfBirth,
			"gender":        string(p.Gender),
			"email":         p.Email,
			"phone":         p.Phone,
			"address":       p.Address,
			"snapshot_date": snapshotTime,
		})
	}
	if err := l.insert(ctx, PatientsSnapshotTable, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// LoadClinicalEvents appends lab observations as clinical events. The test
// metadata travels in a nested event_details document.
func (l *WarehouseLoader) LoadClinicalEvents(ctx context.Context, labs []models.LabObservation) (int, error) {
	timestamp := l.now().UTC().Format(time.RFC3339)
	rows := make([]utils.Record, 0, len(labs))
	for _, lab := range labs {
		details, err := json.Marshal(utils.Record{
			"test_type":       lab.TestType,
			"reference_range": lab.ReferenceRange,
		})
		if err != nil {
			return 0, fmt.Errorf("marshal event details: %w", err)
		}
		rows = append(rows, utils.Record{
			"event_id":          fmt.Sprintf("LAB_%s_%s", lab.PatientID, xid.New().String()),
			"patient_id":        lab.PatientID,
			"event_type":        "LAB",
			"event_date":        lab.TestDatetime,
			"event_value":       fmt.Sprintf("%v", lab.Value),
			"event_status":      string(lab.Status),
			"event_details":     string(details),
			"created_timestamp": timestamp,
		})
	}
	if err := l.insert(ctx, ClinicalEventsTable, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// LoadAppointmentEvents appends scheduled visits as clinical events
// alongside the lab rows the table also holds.
func (l *WarehouseLoader) LoadAppointmentEvents(ctx context.Context, appointments []models.Appointment) (int, error) {
	timestamp := l.now().UTC().Format(time.RFC3339)
	rows := make([]utils.Record, 0, len(appointments))
	for _, appt := range appointments {
		details, err := json.Marshal(utils.Record{
			"appointment_type": appt.Type,
			"provider":         appt.Provider,
		})
		if err != nil {
			return 0, fmt.Errorf("marshal event details: %w", err)
		}
		rows = append(rows, utils.Record{
			"event_id":          fmt.Sprintf("APPT_%s_%s", appt.PatientID, xid.New().String()),
			"patient_id":        appt.PatientID,
			"event_type":        "APPOINTMENT",
			"event_date":        appt.Date,
			"event_value":       appt.Type,
			"event_status":      appt.Status,
			"event_details":     string(details),
			"created_timestamp": timestamp,
		})
	}
	if err := l.insert(ctx, ClinicalEventsTable, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// LoadRiskScores appends assessment history rows.
func (l *WarehouseLoader) LoadRiskScores(ctx context.Context, risks []models.RiskAssessment) (int, error) {
	timestamp := l.now().UTC().Format(time.RFC3339)
	rows := make([]utils.Record, 0, len(risks))
	for _, risk := range risks {
		rows = append(rows, utils.Record{
			"patient_id":        risk.PatientID,
			"risk_level":        string(risk.Level),
			"risk_score":        risk.Score,
			"risk_factors":      risk.FactorSummary(),
			"assessment_date":   risk.AssessmentDate,
			"created_timestamp": timestamp,
		})
	}
	if err := l.insert(ctx, RiskScoresHistoryTable, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// insert performs the single batch call per table load.
func (l *WarehouseLoader) insert(ctx context.Context, table string, rows []utils.Record) error {
	if len(rows) == 0 {
		return nil
	}
	if err := l.client.InsertRows(ctx, l.table(table), rows); err != nil {
		l.logger.Error().Err(err).Str("table", table).Msg("Error loading rows to warehouse")
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	l.logger.Info().Int("count", len(rows)).Str("table", table).Msg("Loaded rows to warehouse")
	return nil
}
