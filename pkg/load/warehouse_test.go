package load

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

type insertCall struct {
	table string
	rows  []utils.Record
}

type fakeWarehouse struct {
	inserts   []insertCall
	insertErr error
}

func (f *fakeWarehouse) InsertRows(_ context.Context, table string, rows []utils.Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, insertCall{table: table, rows: rows})
	return nil
}

func (f *fakeWarehouse) Query(_ context.Context, _ string) ([]utils.Record, error) {
	return nil, nil
}

func warehouseClock() func() time.Time {
	return func() time.Time {
		return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
}

func TestLoadPatientsSnapshot_AnnotatesRemoteID(t *testing.T) {
	wh := &fakeWarehouse{}
	loader := NewWarehouseLoader(wh, WithWarehouseClock(warehouseClock()))
	patients := []models.Patient{
		{PatientID: "P1", FirstName: "Ada", LastName: "Lovelace", Gender: models.GenderFemale},
		{PatientID: "P2", FirstName: "Grace", LastName: "Hopper", Gender: models.GenderFemale},
	}
	idMap := map[string]string{"P1": "SF001"}
	count, err := loader.LoadPatientsSnapshot(context.Background(), patients, idMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
	if len(wh.inserts) != 1 {
		t.Fatalf("expected a single batch call, got %d", len(wh.inserts))
	}
	rows := wh.inserts[0].rows
	if rows[0]["salesforce_id"] != "SF001" {
		t.Fatalf("expected remote id annotation, got %v", rows[0]["salesforce_id"])
	}
	if rows[1]["salesforce_id"] != "" {
		t.Fatalf("unresolved patient should carry empty remote id, got %v", rows[1]["salesforce_id"])
	}
	if rows[0]["snapshot_date"] != "2025-03-10T12:00:00Z" {
		t.Fatalf("unexpected snapshot date: %v", rows[0]["snapshot_date"])
	}
}

func TestLoadClinicalEvents_RowShape(t *testing.T) {
	wh := &fakeWarehouse{}
	loader := NewWarehouseLoader(wh, WithWarehouseClock(warehouseClock()))
	labs := []models.LabObservation{{
		PatientID:      "P1",
		TestType:       "A1C",
		Value:          6.8,
		ReferenceRange: "4.0-5.6",
		TestDatetime:   "2025-03-01T08:00:00Z",
		Status:         models.LabStatusAbnormal,
	}}
	count, err := loader.LoadClinicalEvents(context.Background(), labs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	row := wh.inserts[0].rows[0]
	if row["event_type"] != "LAB" {
		t.Fatalf("expected event_type LAB, got %v", row["event_type"])
	}
	eventID, _ := row["event_id"].(string)
	if !strings.HasPrefix(eventID, "LAB_P1_") {
		t.Fatalf("unexpected event id: %s", eventID)
	}
	details, _ := row["event_details"].(string)
	if !strings.Contains(details, `"test_type"`) || !strings.Contains(details, "A1C") {
		t.Fatalf("event details must embed test metadata: %s", details)
	}
	if row["event_value"] != "6.8" {
		t.Fatalf("expected stringified value, got %v", row["event_value"])
	}
}

func TestLoadAppointmentEvents_RowShape(t *testing.T) {
	wh := &fakeWarehouse{}
	loader := NewWarehouseLoader(wh, WithWarehouseClock(warehouseClock()))
	appointments := []models.Appointment{{
		PatientID: "P1",
		Date:      "2025-04-01",
		Type:      "Follow-up",
		Provider:  "Dr. Smith",
		Status:    "Scheduled",
	}}
	count, err := loader.LoadAppointmentEvents(context.Background(), appointments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	row := wh.inserts[0].rows[0]
	if row["event_type"] != "APPOINTMENT" || row["event_status"] != "Scheduled" {
		t.Fatalf("unexpected event row: %v", row)
	}
	eventID, _ := row["event_id"].(string)
	if !strings.HasPrefix(eventID, "APPT_P1_") {
		t.Fatalf("unexpected event id: %s", eventID)
	}
	details, _ := row["event_details"].(string)
	if !strings.Contains(details, "Dr. Smith") {
		t.Fatalf("event details must embed the provider: %s", details)
	}
}

func TestLoadRiskScores_RowShape(t *testing.T) {
	wh := &fakeWarehouse{}
	loader := NewWarehouseLoader(wh, WithWarehouseClock(warehouseClock()))
	risks := []models.RiskAssessment{{
		PatientID:      "P1",
		Score:          45,
		Level:          models.RiskLevelHigh,
		Factors:        []string{"Elevated A1C: 7", "Critical Glucose result"},
		AssessmentDate: "2025-03-10",
	}}
	count, err := loader.LoadRiskScores(context.Background(), risks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	row := wh.inserts[0].rows[0]
	if row["risk_score"] != 45 {
		t.Fatalf("expected integer risk score, got %v", row["risk_score"])
	}
	if row["risk_factors"] != "Elevated A1C: 7; Critical Glucose result" {
		t.Fatalf("unexpected factor rendering: %v", row["risk_factors"])
	}
}

func TestWarehouseLoader_EmptyBatchSkipsCall(t *testing.T) {
	wh := &fakeWarehouse{}
	loader := NewWarehouseLoader(wh, WithWarehouseClock(warehouseClock()))
	if count, err := loader.LoadRiskScores(context.Background(), nil); err != nil || count != 0 {
		t.Fatalf("expected no-op, got count=%d err=%v", count, err)
	}
	if len(wh.inserts) != 0 {
		t.Fatalf("empty batch must not call the warehouse")
	}
}

func TestWarehouseLoader_DatasetPrefixAndErrors(t *testing.T) {
	wh := &fakeWarehouse{}
	loader := NewWarehouseLoader(wh, WithDataset("healthcare"), WithWarehouseClock(warehouseClock()))
	if _, err := loader.LoadRiskScores(context.Background(), []models.RiskAssessment{{PatientID: "P1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wh.inserts[0].table != "healthcare.risk_scores_history" {
		t.Fatalf("expected qualified table name, got %s", wh.inserts[0].table)
	}

	failing := &fakeWarehouse{insertErr: fmt.Errorf("connection reset")}
	loader = NewWarehouseLoader(failing, WithWarehouseClock(warehouseClock()))
	if _, err := loader.LoadRiskScores(context.Background(), []models.RiskAssessment{{PatientID: "P1"}}); err == nil {
		t.Fatal("expected insert error to propagate")
	}
}
