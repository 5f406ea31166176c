package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/models"
)

// Invalid pairs a rejected record with every rule it violated.
type Invalid[T any] struct {
	Record T
	Errors []string
}

// Validator checks destination-shaped records against schema constraints.
// Every rule runs unconditionally so one failing record surfaces all of
// its violations at once.
type Validator struct {
	logger *log.Logger
}

type ValidatorOption func(*Validator)

func WithValidatorLogger(logger *log.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{logger: &log.DefaultLogger}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) ValidatePatient(p models.Patient) (bool, []string) {
	var errs []string
	if p.PatientID == "" {
		errs = append(errs, "Missing Patient_ID__c")
	}
	if p.FirstName == "" {
		errs = append(errs, "Missing First_Name__c")
	}
	if p.LastName == "" {
		errs = append(errs, "Missing Last_Name__c")
	}
	if p.DateOfBirth != "" && !validDate(p.DateOfBirth) {
		errs = append(errs, fmt.Sprintf("Invalid date format for Date_of_Birth__c: %s", p.DateOfBirth))
	}
	switch p.Gender {
	case "", models.GenderMale, models.GenderFemale, models.GenderOther:
	default:
		errs = append(errs, fmt.Sprintf("Invalid Gender__c value: %s", p.Gender))
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		errs = append(errs, fmt.Sprintf("Invalid Email__c format: %s", p.Email))
	}
	if len(errs) > 0 {
		v.logger.Warn().Str("patient_id", p.PatientID).Str("errors", strings.Join(errs, "; ")).Msg("Patient validation failed")
		return false, errs
	}
	return true, nil
}

func (v *Validator) ValidateLab(lab models.LabObservation) (bool, []string) {
	var errs []string
	if lab.TestType == "" {
		errs = append(errs, "Missing Test_Type__c")
	}
	if lab.TestDatetime != "" && !validDatetime(lab.TestDatetime) {
		errs = append(errs, fmt.Sprintf("Invalid date format for Test_Datetime__c: %s", lab.TestDatetime))
	}
	switch lab.Status {
	case "", models.LabStatusNormal, models.LabStatusAbnormal, models.LabStatusCritical:
	default:
		errs = append(errs, fmt.Sprintf("Invalid Status__c value: %s", lab.Status))
	}
	if len(errs) > 0 {
		v.logger.Warn().Str("patient_id", lab.PatientID).Str("errors", strings.Join(errs, "; ")).Msg("Lab result validation failed")
		return false, errs
	}
	return true, nil
}

// PartitionPatients splits a batch into valid and invalid subsequences,
// preserving order within each.
func (v *Validator) PartitionPatients(patients []models.Patient) ([]models.Patient, []Invalid[models.Patient]) {
	var valid []models.Patient
	var invalid []Invalid[models.Patient]
	for _, p := range patients {
		ok, errs := v.ValidatePatient(p)
		if ok {
			valid = append(valid, p)
		} else {
			invalid = append(invalid, Invalid[models.Patient]{Record: p, Errors: errs})
		}
	}
	v.logger.Info().Int("valid", len(valid)).Int("invalid", len(invalid)).Msg("Validated patients")
	return valid, invalid
}

// PartitionLabs splits a lab batch into valid and invalid subsequences.
func (v *Validator) PartitionLabs(labs []models.LabObservation) ([]models.LabObservation, []Invalid[models.LabObservation]) {
	var valid []models.LabObservation
	var invalid []Invalid[models.LabObservation]
	for _, lab := range labs {
		ok, errs := v.ValidateLab(lab)
		if ok {
			valid = append(valid, lab)
		} else {
			invalid = append(invalid, Invalid[models.LabObservation]{Record: lab, Errors: errs})
		}
	}
	v.logger.Info().Int("valid", len(valid)).Int("invalid", len(invalid)).Msg("Validated lab results")
	return valid, invalid
}

// validDate accepts YYYY-MM-DD only.
func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// validDatetime accepts YYYY-MM-DD or any timestamp the date parser
// recognizes.
func validDatetime(s string) bool {
	if validDate(s) {
		return true
	}
	_, err := date.Parse(s)
	return err == nil
}
