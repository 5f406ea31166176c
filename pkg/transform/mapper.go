package transform

import (
	"fmt"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/expr"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

// Mapper translates source-shaped records into the destination CRM schema.
type Mapper struct {
	logger  *log.Logger
	derived map[string]string
}

type MapperOption func(*Mapper)

func WithMapperLogger(logger *log.Logger) MapperOption {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// WithDerivedFields adds expression-computed fields to mapped patient
// payloads, keyed by destination field name.
func WithDerivedFields(derived map[string]string) MapperOption {
	return func(m *Mapper) {
		m.derived = derived
	}
}

func NewMapper(opts ...MapperOption) *Mapper {
	m := &Mapper{logger: &log.DefaultLogger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MapPatient maps an extracted patient onto the CRM patient schema.
func (m *Mapper) MapPatient(p models.SourcePatient) (models.Patient, error) {
	if p.PatientID == "" {
		return models.Patient{}, fmt.Errorf("source patient has no patient_id")
	}
	mapped := models.Patient{
		PatientID:   p.PatientID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DateOfBirth,
		Gender:      NormalizeGender(p.Gender),
		Email:       p.Email,
		Phone:       p.Phone,
		Address:     p.Address,
	}
	m.logger.Debug().Str("patient_id", mapped.PatientID).Msg("Mapped patient")
	return mapped, nil
}

// MapLab maps a raw lab row onto the normalized lab schema. A value that
// cannot be coerced to a number fails this record only.
func (m *Mapper) MapLab(lab models.SourceLab) (models.LabObservation, error) {
	value, ok := convert.ToFloat64(lab.Value)
	if !ok {
		return models.LabObservation{}, fmt.Errorf("lab value %q for patient %s is not numeric", lab.Value, lab.PatientID)
	}
	status := lab.Status
	if status == "" {
		status = string(models.LabStatusNormal)
	}
	mapped := models.LabObservation{
		PatientID:      lab.PatientID,
		TestType:       lab.TestType,
		Value:          value,
		ReferenceRange: lab.ReferenceRange,
		TestDatetime:   lab.TestDatetime,
		Status:         models.LabStatus(status),
	}
	m.logger.Debug().Str("test_type", mapped.TestType).Msg("Mapped lab result")
	return mapped, nil
}

// MapPatients maps a batch, dropping individual failures and continuing.
func (m *Mapper) MapPatients(patients []models.SourcePatient) []models.Patient {
	var mapped []models.Patient
	for _, p := range patients {
		rec, err := m.MapPatient(p)
		if err != nil {
			m.logger.Error().Err(err).Msg("Error mapping patient")
			continue
		}
		mapped = append(mapped, rec)
	}
	m.logger.Info().Int("count", len(mapped)).Msg("Mapped patients")
	return mapped
}

// MapLabs maps a batch of lab rows, dropping failures and rows without a
// patient identifier.
func (m *Mapper) MapLabs(labs []models.SourceLab) []models.LabObservation {
	var mapped []models.LabObservation
	for _, lab := range labs {
		rec, err := m.MapLab(lab)
		if err != nil {
			m.logger.Error().Err(err).Msg("Error mapping lab result")
			continue
		}
		if rec.PatientID == "" {
			continue
		}
		mapped = append(mapped, rec)
	}
	m.logger.Info().Int("count", len(mapped)).Msg("Mapped lab results")
	return mapped
}

// DerivedFields evaluates the configured expressions against a mapped
// patient and returns the computed extra payload fields.
func (m *Mapper) DerivedFields(p models.Patient) utils.Record {
	if len(m.derived) == 0 {
		return nil
	}
	env := utils.Record{
		"patient_id":    p.PatientID,
		"first_name":    p.FirstName,
		"last_name":     p.LastName,
		"date_of_birth": p.DateOfBirth,
		"gender":        string(p.Gender),
		"email":         p.Email,
		"phone":         p.Phone,
		"address":       p.Address,
	}
	out := make(utils.Record, len(m.derived))
	for field, expression := range m.derived {
		program, err := expr.Parse(expression)
		if err != nil {
			m.logger.Error().Err(err).Str("field", field).Msg("Invalid derived field expression")
			continue
		}
		val, err := program.Eval(env)
		if err != nil {
			m.logger.Error().Err(err).Str("field", field).Msg("Derived field evaluation failed")
			continue
		}
		out[field] = val
	}
	return out
}

// NormalizeGender folds free-form gender values onto the CRM picklist.
func NormalizeGender(gender string) models.Gender {
	switch strings.ToLower(gender) {
	case "male", "m":
		return models.GenderMale
	case "female", "f":
		return models.GenderFemale
	}
	return models.GenderOther
}
