package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/dipper"
	"github.com/oarkflow/json"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/utils"
)

// FHIRSource reads Patient resources from a directory of FHIR JSON files.
// Files may hold a Bundle wrapping the patient or a bare Patient resource.
type FHIRSource struct {
	dir    string
	logger *log.Logger
}

func NewFHIRSource(dir string, logger *log.Logger) *FHIRSource {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &FHIRSource{dir: dir, logger: logger}
}

// ListPatients parses every JSON file in the source directory. Files that
// fail to parse are skipped; only patients carrying an id are returned.
func (s *FHIRSource) ListPatients(ctx context.Context) ([]models.SourcePatient, error) {
	entries, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan fhir dir %s: %w", s.dir, err)
	}
	if _, err := os.Stat(s.dir); err != nil {
		return nil, fmt.Errorf("fhir dir %s: %w", s.dir, err)
	}
	s.logger.Info().Int("files", len(entries)).Str("dir", s.dir).Msg("Found patient files")

	var patients []models.SourcePatient
	for _, path := range entries {
		select {
		case <-ctx.Done():
			return patients, ctx.Err()
		default:
		}
		resource, err := s.readPatientResource(path)
		if err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("Error reading patient file")
			continue
		}
		if resource == nil {
			continue
		}
		patient := extractPatient(resource)
		if patient.PatientID == "" {
			s.logger.Warn().Str("file", path).Msg("Patient resource has no id, skipping")
			continue
		}
		patients = append(patients, patient)
	}
	s.logger.Info().Int("count", len(patients)).Msg("Parsed patients")
	return patients, nil
}

// readPatientResource loads one file and unwraps the Patient resource from
// a Bundle when needed.
func (s *FHIRSource) readPatientResource(path string) (utils.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc utils.Record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	switch resourceType(doc) {
	case "Patient":
		return doc, nil
	case "Bundle":
		return patientFromBundle(doc), nil
	}
	s.logger.Warn().Str("file", filepath.Base(path)).Str("resource_type", resourceType(doc)).Msg("Unknown resource type")
	return nil, nil
}

func resourceType(doc utils.Record) string {
	v, err := dipper.Get(doc, "resourceType")
	if err != nil {
		return ""
	}
	t, _ := v.(string)
	return t
}

func patientFromBundle(bundle utils.Record) utils.Record {
	entries, _ := bundle["entry"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		resource, ok := entry["resource"].(map[string]any)
		if !ok {
			continue
		}
		if resourceType(resource) == "Patient" {
			return resource
		}
	}
	return nil
}

// extractPatient pulls the fields the pipeline consumes out of a FHIR
// Patient resource.
func extractPatient(resource utils.Record) models.SourcePatient {
	p := models.SourcePatient{
		PatientID:   getString(resource, "id"),
		DateOfBirth: getString(resource, "birthDate"),
	}
	if gender := getString(resource, "gender"); gender != "" {
		p.Gender = strings.ToUpper(gender[:1]) + strings.ToLower(gender[1:])
	}

	if name, ok := firstElement(resource, "name"); ok {
		if given, ok := name["given"].([]any); ok && len(given) > 0 {
			p.FirstName, _ = given[0].(string)
		}
		p.LastName = getString(name, "family")
	}

	if addr, ok := firstElement(resource, "address"); ok {
		var line string
		if lines, ok := addr["line"].([]any); ok && len(lines) > 0 {
			line, _ = lines[0].(string)
		}
		full := fmt.Sprintf("%s, %s, %s %s", line, getString(addr, "city"), getString(addr, "state"), getString(addr, "postalCode"))
		p.Address = strings.Trim(strings.TrimSpace(full), ", ")
	}

	if telecom, ok := resource["telecom"].([]any); ok {
		for _, t := range telecom {
			entry, ok := t.(map[string]any)
			if !ok {
				continue
			}
			switch getString(entry, "system") {
			case "phone":
				p.Phone = getString(entry, "value")
			case "email":
				p.Email = getString(entry, "value")
			}
		}
	}
	return p
}

func getString(rec utils.Record, key string) string {
	v, _ := rec[key].(string)
	return v
}

func firstElement(rec utils.Record, key string) (utils.Record, bool) {
	list, ok := rec[key].([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	first, ok := list[0].(map[string]any)
	return first, ok
}
