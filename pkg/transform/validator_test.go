package transform

import (
	"strings"
	"testing"

	"github.com/medbridge/clinsync/pkg/models"
)

func validPatient() models.Patient {
	return models.Patient{
		PatientID:   "P1",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: "1990-12-10",
		Gender:      models.GenderFemale,
		Email:       "ada@example.org",
	}
}

func TestValidator_ValidPatient(t *testing.T) {
	v := NewValidator()
	ok, errs := v.ValidatePatient(validPatient())
	if !ok || len(errs) != 0 {
		t.Fatalf("expected valid patient, got errors: %v", errs)
	}
}

func TestValidator_ReportsEveryViolation(t *testing.T) {
	v := NewValidator()
	p := validPatient()
	p.FirstName = ""
	p.Gender = "Unknown"
	p.Email = "not-an-email"
	ok, errs := v.ValidatePatient(p)
	if ok {
		t.Fatal("expected invalid patient")
	}
	if len(errs) != 3 {
		t.Fatalf("expected all 3 violations reported, got %d: %v", len(errs), errs)
	}
}

func TestValidator_DateFormat(t *testing.T) {
	v := NewValidator()
	p := validPatient()
	p.DateOfBirth = "12/10/1990"
	ok, errs := v.ValidatePatient(p)
	if ok {
		t.Fatal("expected invalid date of birth")
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "Date_of_Birth__c") {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestValidator_EmptyOptionalFieldsPass(t *testing.T) {
	v := NewValidator()
	p := validPatient()
	p.DateOfBirth = ""
	p.Email = ""
	if ok, errs := v.ValidatePatient(p); !ok {
		t.Fatalf("optional fields should not be required: %v", errs)
	}
}

func TestValidator_LabStatusEnum(t *testing.T) {
	v := NewValidator()
	lab := models.LabObservation{PatientID: "P1", TestType: "A1C", Status: "Pending"}
	ok, errs := v.ValidateLab(lab)
	if ok {
		t.Fatal("expected invalid status to be rejected")
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "Status__c") {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestValidator_LabMissingTestType(t *testing.T) {
	v := NewValidator()
	lab := models.LabObservation{PatientID: "P1", Status: models.LabStatusNormal}
	ok, errs := v.ValidateLab(lab)
	if ok || len(errs) != 1 {
		t.Fatalf("expected missing test type error, got %v", errs)
	}
}

func TestValidator_PartitionPreservesOrder(t *testing.T) {
	v := NewValidator()
	good1 := validPatient()
	bad := validPatient()
	bad.PatientID = ""
	bad.LastName = ""
	good2 := validPatient()
	good2.PatientID = "P2"

	valid, invalid := v.PartitionPatients([]models.Patient{good1, bad, good2})
	if len(valid) != 2 || len(invalid) != 1 {
		t.Fatalf("expected 2 valid / 1 invalid, got %d/%d", len(valid), len(invalid))
	}
	if valid[0].PatientID != "P1" || valid[1].PatientID != "P2" {
		t.Fatalf("valid order not preserved: %+v", valid)
	}
	if len(invalid[0].Errors) != 2 {
		t.Fatalf("expected both violations on invalid record, got %v", invalid[0].Errors)
	}
}
