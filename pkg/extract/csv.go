package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

// CSVSource reads lab results, conditions and appointments from CSV
// extracts. Conditions and appointments are optional sources: a missing
// file yields an empty slice.
type CSVSource struct {
	labResults   string
	conditions   string
	appointments string
	logger       *log.Logger
}

func NewCSVSource(labResults, conditions, appointments string, logger *log.Logger) *CSVSource {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &CSVSource{
		labResults:   labResults,
		conditions:   conditions,
		appointments: appointments,
		logger:       logger,
	}
}

func (s *CSVSource) ListLabResults(_ context.Context) ([]models.SourceLab, error) {
	rows, err := s.readAll(s.labResults, false)
	if err != nil {
		return nil, err
	}
	labs := make([]models.SourceLab, 0, len(rows))
	for _, row := range rows {
		labs = append(labs, models.SourceLab{
			PatientID:      getString(row, "patient_id"),
			TestType:       getString(row, "test_type"),
			Value:          getString(row, "value"),
			ReferenceRange: getString(row, "reference_range"),
			TestDatetime:   getString(row, "test_datetime"),
			Status:         getString(row, "status"),
		})
	}
	s.logger.Info().Int("count", len(labs)).Str("file", s.labResults).Msg("Loaded lab results")
	return labs, nil
}

func (s *CSVSource) ListConditions(_ context.Context) ([]models.Condition, error) {
	rows, err := s.readAll(s.conditions, true)
	if err != nil {
		return nil, err
	}
	conditions := make([]models.Condition, 0, len(rows))
	for _, row := range rows {
		conditions = append(conditions, models.Condition{
			PatientID:     getString(row, "patient_id"),
			Name:          getString(row, "condition"),
			DiagnosedDate: getString(row, "diagnosed_date"),
		})
	}
	s.logger.Info().Int("count", len(conditions)).Str("file", s.conditions).Msg("Loaded conditions")
	return conditions, nil
}

// ListAppointments reads the optional appointments extract.
func (s *CSVSource) ListAppointments(_ context.Context) ([]models.Appointment, error) {
	rows, err := s.readAll(s.appointments, true)
	if err != nil {
		return nil, err
	}
	appointments := make([]models.Appointment, 0, len(rows))
	for _, row := range rows {
		appointments = append(appointments, models.Appointment{
			PatientID: getString(row, "patient_id"),
			Date:      getString(row, "appointment_date"),
			Type:      getString(row, "appointment_type"),
			Provider:  getString(row, "provider"),
			Status:    getString(row, "status"),
		})
	}
	s.logger.Info().Int("count", len(appointments)).Str("file", s.appointments).Msg("Loaded appointments")
	return appointments, nil
}

// readAll loads a whole CSV file into header-keyed records.
func (s *CSVSource) readAll(path string, optional bool) ([]utils.Record, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			s.logger.Warn().Str("file", path).Msg("Optional source file not found")
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	var rows []utils.Record
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make(utils.Record, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
