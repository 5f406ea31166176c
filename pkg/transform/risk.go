package transform

import (
	"fmt"
	"time"

	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/models"
)

// Chronic conditions that contribute to the risk score.
var highRiskConditions = map[string]struct{}{
	"Type 2 Diabetes": {},
	"Hypertension":    {},
	"Hyperlipidemia":  {},
}

const noRiskFactors = "No significant risk factors"

// RiskEngine derives per-patient risk assessments from lab observations and
// diagnosed conditions. Scoring is deterministic: identical inputs always
// produce identical assessments.
type RiskEngine struct {
	logger *log.Logger
	now    func() time.Time
}

type RiskOption func(*RiskEngine)

func WithRiskLogger(logger *log.Logger) RiskOption {
	return func(e *RiskEngine) {
		e.logger = logger
	}
}

// WithRiskClock overrides the clock used for assessment dates.
func WithRiskClock(now func() time.Time) RiskOption {
	return func(e *RiskEngine) {
		e.now = now
	}
}

func NewRiskEngine(opts ...RiskOption) *RiskEngine {
	e := &RiskEngine{
		logger: &log.DefaultLogger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes the risk assessment for one patient. Value-based and
// status-based rules are independent: a single observation can contribute
// both increments.
func (e *RiskEngine) Score(patientID string, labs []models.LabObservation, conditions []models.Condition) models.RiskAssessment {
	score := 0
	var factors []string

	for _, lab := range labs {
		if lab.PatientID != patientID {
			continue
		}
		switch lab.TestType {
		case "A1C":
			if lab.Value > 6.5 {
				score += 20
				factors = append(factors, fmt.Sprintf("Elevated A1C: %v", lab.Value))
			} else if lab.Value > 5.7 {
				score += 10
				factors = append(factors, fmt.Sprintf("Pre-diabetic A1C: %v", lab.Value))
			}
		case "Glucose":
			if lab.Value > 140 {
				score += 15
				factors = append(factors, fmt.Sprintf("High glucose: %v", lab.Value))
			} else if lab.Value > 100 {
				score += 5
				factors = append(factors, fmt.Sprintf("Elevated glucose: %v", lab.Value))
			}
		case "Cholesterol":
			if lab.Value > 240 {
				score += 15
				factors = append(factors, fmt.Sprintf("High cholesterol: %v", lab.Value))
			} else if lab.Value > 200 {
				score += 5
				factors = append(factors, fmt.Sprintf("Elevated cholesterol: %v", lab.Value))
			}
		}
		if lab.Status == models.LabStatusCritical {
			score += 10
			factors = append(factors, fmt.Sprintf("Critical %s result", lab.TestType))
		}
	}

	for _, cond := range conditions {
		if cond.PatientID != patientID {
			continue
		}
		if _, ok := highRiskConditions[cond.Name]; ok {
			score += 15
			factors = append(factors, fmt.Sprintf("Chronic condition: %s", cond.Name))
		}
	}

	if score > 100 {
		score = 100
	}
	if len(factors) == 0 {
		factors = []string{noRiskFactors}
	}

	level := riskLevel(score)
	e.logger.Debug().Str("patient_id", patientID).Int("score", score).Str("level", string(level)).Msg("Calculated risk")

	return models.RiskAssessment{
		PatientID:      patientID,
		Score:          score,
		Level:          level,
		Factors:        factors,
		AssessmentDate: e.now().Format("2006-01-02"),
	}
}

// riskLevel maps a capped score to its severity band, highest first.
func riskLevel(score int) models.RiskLevel {
	switch {
	case score >= 50:
		return models.RiskLevelCritical
	case score >= 30:
		return models.RiskLevelHigh
	case score >= 15:
		return models.RiskLevelMedium
	}
	return models.RiskLevelLow
}

// ScoreAll scores every patient that carries an identifier. Patients
// without one are skipped and surface only through the count delta.
func (e *RiskEngine) ScoreAll(patients []models.SourcePatient, labs []models.LabObservation, conditions []models.Condition) []models.RiskAssessment {
	var assessments []models.RiskAssessment
	for _, p := range patients {
		if p.PatientID == "" {
			continue
		}
		assessments = append(assessments, e.Score(p.PatientID, labs, conditions))
	}
	e.logger.Info().Int("count", len(assessments)).Msg("Calculated risk assessments")
	return assessments
}
