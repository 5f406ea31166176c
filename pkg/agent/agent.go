package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/contracts"
	"github.com/medbridge/clinsync/pkg/load"
	"github.com/medbridge/clinsync/pkg/utils"
)

// CRMQuerier is the read side of the CRM the agent depends on. Agent
// queries are repeated and read-only, so the cached variant is used.
type CRMQuerier interface {
	QueryCached(ctx context.Context, soql string) (contracts.QueryResult, error)
}

// WarehouseQuerier is the read side of the warehouse.
type WarehouseQuerier interface {
	Query(ctx context.Context, query string) ([]utils.Record, error)
}

// Agent answers operational questions about synchronized clinical data.
// Routing is a dispatch table over substring matches, first match wins;
// each handler gathers data from the CRM or warehouse and hands a
// grounded prompt to the language model.
type Agent struct {
	crm     CRMQuerier
	wh      WarehouseQuerier
	llm     contracts.LLMClient
	logger  *log.Logger
	dataset string
}

type Option func(*Agent)

func WithLogger(logger *log.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithDataset prefixes warehouse table names, for example "healthcare".
func WithDataset(dataset string) Option {
	return func(a *Agent) {
		a.dataset = dataset
	}
}

func New(crm CRMQuerier, wh WarehouseQuerier, llm contracts.LLMClient, opts ...Option) *Agent {
	a := &Agent{crm: crm, wh: wh, llm: llm, logger: &log.DefaultLogger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type route struct {
	keywords []string
	handler  func(*Agent, context.Context, string) (string, error)
}

var routes = []route{
	{[]string{"high risk", "risky", "critical patients"}, (*Agent).handleHighRisk},
	{[]string{"abnormal", "a1c", "glucose", "lab"}, (*Agent).handleLabs},
	{[]string{"trend", "history"}, (*Agent).handleTrends},
}

// Answer routes the question to a handler and returns its response.
func (a *Agent) Answer(ctx context.Context, question string) (string, error) {
	lower := strings.ToLower(question)
	a.logger.Info().Str("question", question).Msg("Processing question")

	for _, r := range routes {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.handler(a, ctx, question)
			}
		}
	}
	if strings.Contains(lower, "patient") &&
		(strings.Contains(lower, "summary") || strings.Contains(lower, "info") || strings.Contains(lower, "about")) {
		return a.handlePatientSummary(ctx, question)
	}
	return a.handleGeneral(ctx, question)
}

func (a *Agent) handleHighRisk(ctx context.Context, question string) (string, error) {
	a.logger.Info().Msg("Handling high-risk patient query")
	soql := fmt.Sprintf(
		"SELECT Id, Patient__c, Risk_Level__c, Risk_Score__c, Risk_Factors__c, Assessment_Date__c "+
			"FROM %s WHERE Risk_Level__c IN ('High', 'Critical') ORDER BY Risk_Score__c DESC LIMIT 20",
		load.RiskAssessmentObject)
	result, err := a.crm.QueryCached(ctx, soql)
	if err != nil {
		return "", fmt.Errorf("query high-risk patients: %w", err)
	}
	if len(result.Records) == 0 {
		return "No high-risk patients found in the system.", nil
	}

	names, err := a.patientNames(ctx, result.Records, "Patient__c")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d high-risk patients:\n", len(result.Records))
	for _, rec := range utils.Cap(result.Records, 5) {
		name := names[asString(rec["Patient__c"])]
		fmt.Fprintf(&b, "- %s: %v (Score: %v)\n", name, rec["Risk_Level__c"], rec["Risk_Score__c"])
		fmt.Fprintf(&b, "  Risk factors: %v\n", rec["Risk_Factors__c"])
	}

	prompt := fmt.Sprintf(`You are a healthcare assistant. Based on this data, answer the question naturally and concisely.

Question: %s

Data:
%s

Provide a clear, actionable response for a care coordinator.`, question, b.String())
	return a.llm.Complete(ctx, prompt)
}

func (a *Agent) handleLabs(ctx context.Context, question string) (string, error) {
	a.logger.Info().Msg("Handling lab results query")
	lower := strings.ToLower(question)
	var testType string
	switch {
	case strings.Contains(lower, "a1c"):
		testType = "A1C"
	case strings.Contains(lower, "glucose"):
		testType = "Glucose"
	case strings.Contains(lower, "cholesterol"):
		testType = "Cholesterol"
	}

	where := "WHERE Status__c IN ('Abnormal', 'Critical')"
	if testType != "" {
		where += fmt.Sprintf(" AND Test_Type__c = '%s'", testType)
	}
	soql := fmt.Sprintf(
		"SELECT Id, Patient__c, Test_Type__c, Test_Value__c, Reference_Range__c, Status__c, Test_Datetime__c "+
			"FROM %s %s ORDER BY Test_Datetime__c DESC LIMIT 50",
		load.LabResultObject, where)
	result, err := a.crm.QueryCached(ctx, soql)
	if err != nil {
		return "", fmt.Errorf("query lab results: %w", err)
	}
	if len(result.Records) == 0 {
		if testType == "" {
			return "No abnormal lab results found.", nil
		}
		return fmt.Sprintf("No abnormal %s results found.", testType), nil
	}

	names, err := a.patientNames(ctx, result.Records, "Patient__c")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d abnormal lab results:\n", len(result.Records))
	for _, rec := range utils.Cap(result.Records, 10) {
		name := names[asString(rec["Patient__c"])]
		fmt.Fprintf(&b, "- %s: %v = %v (%v)\n", name, rec["Test_Type__c"], rec["Test_Value__c"], rec["Status__c"])
		fmt.Fprintf(&b, "  Reference: %v, Date: %v\n", rec["Reference_Range__c"], rec["Test_Datetime__c"])
	}

	prompt := fmt.Sprintf(`You are a healthcare assistant. Based on this data, answer the question naturally.

Question: %s

Data:
%s

Provide a clear summary and suggest any follow-up actions.`, question, b.String())
	return a.llm.Complete(ctx, prompt)
}

func (a *Agent) handleTrends(ctx context.Context, question string) (string, error) {
	a.logger.Info().Msg("Handling trend query")
	query := fmt.Sprintf(
		"SELECT risk_level, COUNT(*) AS patient_count, AVG(risk_score) AS avg_score "+
			"FROM %s GROUP BY risk_level ORDER BY avg_score DESC",
		a.tableName(load.RiskScoresHistoryTable))
	rows, err := a.wh.Query(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query risk trends: %w", err)
	}
	if len(rows) == 0 {
		return "No trend data available.", nil
	}

	var b strings.Builder
	b.WriteString("Risk score distribution:\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "- %v: %v patients (Average score: %v)\n", row["risk_level"], row["patient_count"], row["avg_score"])
	}

	prompt := fmt.Sprintf(`You are a healthcare assistant. Based on this data, answer the question naturally.

Question: %s

Data:
%s

Provide insights and recommendations.`, question, b.String())
	return a.llm.Complete(ctx, prompt)
}

func (a *Agent) handlePatientSummary(ctx context.Context, question string) (string, error) {
	a.logger.Info().Msg("Handling patient summary query")
	soql := fmt.Sprintf(
		"SELECT Patient__c FROM %s WHERE Risk_Level__c IN ('High', 'Critical') ORDER BY Risk_Score__c DESC LIMIT 1",
		load.RiskAssessmentObject)
	top, err := a.crm.QueryCached(ctx, soql)
	if err != nil {
		return "", fmt.Errorf("query top-risk patient: %w", err)
	}
	if len(top.Records) == 0 {
		return "No patient data available.", nil
	}
	remoteID := asString(top.Records[0]["Patient__c"])

	patientSOQL := fmt.Sprintf(
		"SELECT Patient_ID__c, First_Name__c, Last_Name__c, Date_of_Birth__c, Gender__c "+
			"FROM %s WHERE Id = '%s' LIMIT 1",
		load.PatientObject, remoteID)
	patients, err := a.crm.QueryCached(ctx, patientSOQL)
	if err != nil {
		return "", fmt.Errorf("query patient record: %w", err)
	}
	if len(patients.Records) == 0 {
		return "No patient data available.", nil
	}
	patient := patients.Records[0]

	labsSOQL := fmt.Sprintf(
		"SELECT Test_Type__c, Test_Value__c, Status__c FROM %s WHERE Patient__c = '%s' "+
			"ORDER BY Test_Datetime__c DESC LIMIT 10",
		load.LabResultObject, remoteID)
	labs, err := a.crm.QueryCached(ctx, labsSOQL)
	if err != nil {
		return "", fmt.Errorf("query patient labs: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %v %v\n", patient["First_Name__c"], patient["Last_Name__c"])
	fmt.Fprintf(&b, "Gender: %v, DOB: %v\n", patient["Gender__c"], patient["Date_of_Birth__c"])
	fmt.Fprintf(&b, "Recent Labs: %d tests\n", len(labs.Records))
	for _, lab := range labs.Records {
		fmt.Fprintf(&b, "- %v = %v (%v)\n", lab["Test_Type__c"], lab["Test_Value__c"], lab["Status__c"])
	}

	prompt := fmt.Sprintf(`You are a healthcare assistant. Based on this patient data, provide a summary.

Question: %s

Data:
%s

Provide a concise patient overview.`, question, b.String())
	return a.llm.Complete(ctx, prompt)
}

func (a *Agent) handleGeneral(ctx context.Context, question string) (string, error) {
	a.logger.Info().Msg("Handling general query")
	prompt := fmt.Sprintf(`You are a healthcare assistant with access to patient data systems.

Question: %s

Provide a helpful response. If you need specific data to answer, explain what information would be needed.`, question)
	return a.llm.Complete(ctx, prompt)
}

// patientNames resolves remote patient ids referenced by field into
// display names with a single IN query.
func (a *Agent) patientNames(ctx context.Context, records []utils.Record, field string) (map[string]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, rec := range records {
		id := asString(rec[field])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, fmt.Sprintf("'%s'", id))
	}
	names := make(map[string]string)
	if len(ids) == 0 {
		return names, nil
	}
	soql := fmt.Sprintf(
		"SELECT Id, First_Name__c, Last_Name__c FROM %s WHERE Id IN (%s)",
		load.PatientObject, strings.Join(ids, ","))
	result, err := a.crm.QueryCached(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("resolve patient names: %w", err)
	}
	for _, rec := range result.Records {
		name := strings.TrimSpace(fmt.Sprintf("%v %v", rec["First_Name__c"], rec["Last_Name__c"]))
		names[asString(rec["Id"])] = name
	}
	return names, nil
}

func (a *Agent) tableName(table string) string {
	if a.dataset == "" {
		return table
	}
	return a.dataset + "." + table
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
