package transform

import (
	"testing"

	"github.com/medbridge/clinsync/pkg/models"
)

func TestNormalizeGender(t *testing.T) {
	cases := []struct {
		in   string
		want models.Gender
	}{
		{"male", models.GenderMale},
		{"M", models.GenderMale},
		{"Female", models.GenderFemale},
		{"f", models.GenderFemale},
		{"nonbinary", models.GenderOther},
		{"", models.GenderOther},
	}
	for _, tc := range cases {
		if got := NormalizeGender(tc.in); got != tc.want {
			t.Fatalf("NormalizeGender(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestMapper_MapPatient(t *testing.T) {
	mapper := NewMapper()
	src := models.SourcePatient{
		PatientID:   "P1",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: "1990-12-10",
		Gender:      "f",
		Email:       "ada@example.org",
	}
	got, err := mapper.MapPatient(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Gender != models.GenderFemale {
		t.Fatalf("expected normalized gender Female, got %s", got.Gender)
	}
	if got.PatientID != "P1" || got.LastName != "Lovelace" {
		t.Fatalf("unexpected mapping: %+v", got)
	}
}

func TestMapper_MapPatientWithoutIDFails(t *testing.T) {
	mapper := NewMapper()
	if _, err := mapper.MapPatient(models.SourcePatient{FirstName: "Ada"}); err == nil {
		t.Fatal("expected error for patient without identifier")
	}
}

func TestMapper_MapLabCoercesValue(t *testing.T) {
	mapper := NewMapper()
	got, err := mapper.MapLab(models.SourceLab{
		PatientID: "P1",
		TestType:  "Glucose",
		Value:     "118.5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != 118.5 {
		t.Fatalf("expected value 118.5, got %v", got.Value)
	}
	if got.Status != models.LabStatusNormal {
		t.Fatalf("expected default status Normal, got %s", got.Status)
	}
}

func TestMapper_MapLabsDropsBadRecordsAndContinues(t *testing.T) {
	mapper := NewMapper()
	labs := []models.SourceLab{
		{PatientID: "P1", TestType: "A1C", Value: "6.1"},
		{PatientID: "P2", TestType: "A1C", Value: "not-a-number"},
		{PatientID: "P3", TestType: "Glucose", Value: "99"},
		{TestType: "Cholesterol", Value: "210"},
	}
	got := mapper.MapLabs(labs)
	if len(got) != 2 {
		t.Fatalf("expected 2 mapped labs, got %d", len(got))
	}
	if got[0].PatientID != "P1" || got[1].PatientID != "P3" {
		t.Fatalf("unexpected surviving records: %+v", got)
	}
}

func TestMapper_DerivedFields(t *testing.T) {
	mapper := NewMapper(WithDerivedFields(map[string]string{
		"Full_Name__c": `first_name + " " + last_name`,
	}))
	patient := models.Patient{PatientID: "P1", FirstName: "Ada", LastName: "Lovelace"}
	extra := mapper.DerivedFields(patient)
	if extra["Full_Name__c"] != "Ada Lovelace" {
		t.Fatalf("expected derived full name, got %v", extra["Full_Name__c"])
	}
}
