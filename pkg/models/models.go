package models

// Gender is the normalized gender picklist used by the CRM.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// LabStatus is the result-status picklist for lab observations.
type LabStatus string

const (
	LabStatusNormal   LabStatus = "Normal"
	LabStatusAbnormal LabStatus = "Abnormal"
	LabStatusCritical LabStatus = "Critical"
)

// RiskLevel buckets a risk score into an operational severity band.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "Low"
	RiskLevelMedium   RiskLevel = "Medium"
	RiskLevelHigh     RiskLevel = "High"
	RiskLevelCritical RiskLevel = "Critical"
)

// SourcePatient is a patient as extracted from a FHIR bundle, before any
// normalization. Gender is the raw source value.
type SourcePatient struct {
	PatientID   string `json:"patient_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

// SourceLab is a raw lab row from a CSV extract. Value is kept as a string
// until the mapper coerces it.
type SourceLab struct {
	PatientID      string `json:"patient_id"`
	TestType       string `json:"test_type"`
	Value          string `json:"value"`
	ReferenceRange string `json:"reference_range"`
	TestDatetime   string `json:"test_datetime"`
	Status         string `json:"status"`
}

// Condition is a diagnosed condition belonging to a patient.
type Condition struct {
	PatientID     string `json:"patient_id"`
	Name          string `json:"condition"`
	DiagnosedDate string `json:"diagnosed_date"`
}

// Appointment is a scheduled visit from the appointments extract. It is
// warehoused as a clinical event and never synchronized to the CRM.
type Appointment struct {
	PatientID string `json:"patient_id"`
	Date      string `json:"appointment_date"`
	Type      string `json:"appointment_type"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
}

// Patient is a destination-shaped patient record. Field names carry the CRM
// API names so payload building stays a straight translation.
type Patient struct {
	PatientID   string `json:"Patient_ID__c"`
	FirstName   string `json:"First_Name__c"`
	LastName    string `json:"Last_Name__c"`
	DateOfBirth string `json:"Date_of_Birth__c"`
	Gender      Gender `json:"Gender__c"`
	Email       string `json:"Email__c"`
	Phone       string `json:"Phone__c"`
	Address     string `json:"Address__c"`
}

// Payload returns the upsert body for the CRM. The external key is excluded:
// it travels in the upsert path, not the body.
func (p Patient) Payload() map[string]any {
	return map[string]any{
		"First_Name__c":    p.FirstName,
		"Last_Name__c":     p.LastName,
		"Date_of_Birth__c": p.DateOfBirth,
		"Gender__c":        string(p.Gender),
		"Email__c":         p.Email,
		"Phone__c":         p.Phone,
		"Address__c":       p.Address,
	}
}

// LabObservation is a normalized lab result tied to a patient by PatientID.
type LabObservation struct {
	PatientID      string    `json:"patient_id"`
	TestType       string    `json:"Test_Type__c"`
	Value          float64   `json:"Test_Value__c"`
	ReferenceRange string    `json:"Reference_Range__c"`
	TestDatetime   string    `json:"Test_Datetime__c"`
	Status         LabStatus `json:"Status__c"`
}

// Payload returns the allow-listed create body for the CRM, linked to the
// parent patient by its remote identifier.
func (l LabObservation) Payload(parentRemoteID string) map[string]any {
	return map[string]any{
		"Patient__c":         parentRemoteID,
		"Test_Type__c":       l.TestType,
		"Test_Value__c":      l.Value,
		"Reference_Range__c": l.ReferenceRange,
		"Test_Datetime__c":   l.TestDatetime,
		"Status__c":          string(l.Status),
	}
}

// RiskAssessment is the derived per-patient risk record for one scoring run.
type RiskAssessment struct {
	PatientID      string    `json:"patient_id"`
	Score          int       `json:"Risk_Score__c"`
	Level          RiskLevel `json:"Risk_Level__c"`
	Factors        []string  `json:"risk_factors"`
	AssessmentDate string    `json:"Assessment_Date__c"`
}

// FactorSummary renders the factor list the way the CRM long-text field
// expects it.
func (r RiskAssessment) FactorSummary() string {
	out := ""
	for i, f := range r.Factors {
		if i > 0 {
			out += "; "
		}
		out += f
	}
	return out
}

// Payload returns the allow-listed create body for the CRM.
func (r RiskAssessment) Payload(parentRemoteID string) map[string]any {
	return map[string]any{
		"Patient__c":         parentRemoteID,
		"Risk_Level__c":      string(r.Level),
		"Risk_Score__c":      r.Score,
		"Assessment_Date__c": r.AssessmentDate,
		"Risk_Factors__c":    r.FactorSummary(),
	}
}

// SyncError describes one failed record within a batch.
type SyncError struct {
	ID      string `json:"patient_id"`
	Message string `json:"error"`
}

// SyncResult is the per-batch outcome of a CRM synchronization. IDMap only
// holds entries for records that succeeded.
type SyncResult struct {
	Total   int               `json:"total"`
	Success int               `json:"success"`
	Failed  int               `json:"failed"`
	IDMap   map[string]string `json:"patient_id_map,omitempty"`
	Errors  []SyncError       `json:"errors,omitempty"`
}

// AddSuccess records a success and, when remoteID is non-empty, its
// identifier mapping.
func (s *SyncResult) AddSuccess(localID, remoteID string) {
	s.Success++
	if s.IDMap == nil {
		s.IDMap = make(map[string]string)
	}
	if remoteID != "" {
		s.IDMap[localID] = remoteID
	}
}

// AddFailure records a per-record failure with its description.
func (s *SyncResult) AddFailure(localID, message string) {
	s.Failed++
	s.Errors = append(s.Errors, SyncError{ID: localID, Message: message})
}
