package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/medbridge/clinsync/pkg/contracts"
	"github.com/medbridge/clinsync/pkg/utils"
)

type fakeCRMQuerier struct {
	queries []string
	respond func(soql string) contracts.QueryResult
}

func (f *fakeCRMQuerier) QueryCached(_ context.Context, soql string) (contracts.QueryResult, error) {
	f.queries = append(f.queries, soql)
	if f.respond == nil {
		return contracts.QueryResult{Done: true}, nil
	}
	return f.respond(soql), nil
}

type fakeWarehouseQuerier struct {
	queries []string
	rows    []utils.Record
}

func (f *fakeWarehouseQuerier) Query(_ context.Context, query string) ([]utils.Record, error) {
	f.queries = append(f.queries, query)
	return f.rows, nil
}

type fakeLLM struct {
	prompts []string
	reply   string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, nil
}

func TestAgent_HighRiskRouting(t *testing.T) {
	crm := &fakeCRMQuerier{respond: func(soql string) contracts.QueryResult {
		if strings.Contains(soql, "FROM Risk_Assessment__c") {
			return contracts.QueryResult{Records: []utils.Record{
				{"Patient__c": "SF001", "Risk_Level__c": "Critical", "Risk_Score__c": 65.0, "Risk_Factors__c": "Elevated A1C: 7.2"},
			}}
		}
		return contracts.QueryResult{Records: []utils.Record{
			{"Id": "SF001", "First_Name__c": "Ada", "Last_Name__c": "Lovelace"},
		}}
	}}
	llm := &fakeLLM{reply: "One critical patient needs follow-up."}
	a := New(crm, &fakeWarehouseQuerier{}, llm)

	answer, err := a.Answer(context.Background(), "Which patients are high risk?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "One critical patient needs follow-up." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(crm.queries) != 2 {
		t.Fatalf("expected assessment query plus name lookup, got %d queries", len(crm.queries))
	}
	if !strings.Contains(crm.queries[0], "Risk_Level__c IN ('High', 'Critical')") {
		t.Fatalf("unexpected assessment query: %s", crm.queries[0])
	}
	if len(llm.prompts) != 1 || !strings.Contains(llm.prompts[0], "Ada Lovelace: Critical") {
		t.Fatalf("prompt not grounded in resolved patient name: %v", llm.prompts)
	}
}

func TestAgent_HighRiskNoData(t *testing.T) {
	crm := &fakeCRMQuerier{}
	llm := &fakeLLM{}
	a := New(crm, &fakeWarehouseQuerier{}, llm)

	answer, err := a.Answer(context.Background(), "show me risky patients")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "No high-risk patients found in the system." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(llm.prompts) != 0 {
		t.Fatal("no-data answers must not call the language model")
	}
}

func TestAgent_LabQueryExtractsTestType(t *testing.T) {
	crm := &fakeCRMQuerier{}
	a := New(crm, &fakeWarehouseQuerier{}, &fakeLLM{})

	answer, err := a.Answer(context.Background(), "Show me abnormal A1C results")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "No abnormal A1C results found." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(crm.queries) != 1 || !strings.Contains(crm.queries[0], "AND Test_Type__c = 'A1C'") {
		t.Fatalf("test type not narrowed in query: %v", crm.queries)
	}
}

func TestAgent_FirstMatchWins(t *testing.T) {
	// "abnormal" routes to the lab handler even though "trend" also matches.
	crm := &fakeCRMQuerier{}
	wh := &fakeWarehouseQuerier{}
	a := New(crm, wh, &fakeLLM{})

	if _, err := a.Answer(context.Background(), "any abnormal trend lately?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(crm.queries) != 1 || len(wh.queries) != 0 {
		t.Fatalf("expected lab handler only, got crm=%d wh=%d", len(crm.queries), len(wh.queries))
	}
}

func TestAgent_TrendQueryUsesWarehouse(t *testing.T) {
	wh := &fakeWarehouseQuerier{rows: []utils.Record{
		{"risk_level": "Critical", "patient_count": int64(3), "avg_score": 62.5},
	}}
	llm := &fakeLLM{reply: "Three critical patients on average."}
	a := New(&fakeCRMQuerier{}, wh, llm, WithDataset("healthcare"))

	answer, err := a.Answer(context.Background(), "What are the risk trends?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Three critical patients on average." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(wh.queries) != 1 || !strings.Contains(wh.queries[0], "FROM healthcare.risk_scores_history") {
		t.Fatalf("dataset not applied to warehouse query: %v", wh.queries)
	}
	if !strings.Contains(llm.prompts[0], "Critical: 3 patients") {
		t.Fatalf("prompt not grounded in trend rows: %s", llm.prompts[0])
	}
}

func TestAgent_TrendNoData(t *testing.T) {
	a := New(&fakeCRMQuerier{}, &fakeWarehouseQuerier{}, &fakeLLM{})
	answer, err := a.Answer(context.Background(), "show me the history")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "No trend data available." {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestAgent_PatientSummaryChainsQueries(t *testing.T) {
	crm := &fakeCRMQuerier{respond: func(soql string) contracts.QueryResult {
		switch {
		case strings.Contains(soql, "FROM Risk_Assessment__c"):
			return contracts.QueryResult{Records: []utils.Record{{"Patient__c": "SF001"}}}
		case strings.Contains(soql, "FROM Patient_Medical_Record__c"):
			return contracts.QueryResult{Records: []utils.Record{
				{"Patient_ID__c": "P1", "First_Name__c": "Ada", "Last_Name__c": "Lovelace", "Gender__c": "Female", "Date_of_Birth__c": "1985-03-15"},
			}}
		default:
			return contracts.QueryResult{Records: []utils.Record{
				{"Test_Type__c": "A1C", "Test_Value__c": 7.2, "Status__c": "Abnormal"},
			}}
		}
	}}
	llm := &fakeLLM{reply: "Ada Lovelace is at elevated risk."}
	a := New(crm, &fakeWarehouseQuerier{}, llm)

	answer, err := a.Answer(context.Background(), "give me a patient summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Ada Lovelace is at elevated risk." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(crm.queries) != 3 {
		t.Fatalf("expected assessment, patient and labs queries, got %d", len(crm.queries))
	}
	if !strings.Contains(llm.prompts[0], "Patient: Ada Lovelace") {
		t.Fatalf("prompt missing patient header: %s", llm.prompts[0])
	}
}

func TestAgent_GeneralFallback(t *testing.T) {
	crm := &fakeCRMQuerier{}
	wh := &fakeWarehouseQuerier{}
	llm := &fakeLLM{reply: "General guidance."}
	a := New(crm, wh, llm)

	answer, err := a.Answer(context.Background(), "how should I prepare for flu season?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "General guidance." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if len(crm.queries) != 0 || len(wh.queries) != 0 {
		t.Fatal("general questions must not touch data stores")
	}
	if !strings.Contains(llm.prompts[0], "how should I prepare for flu season?") {
		t.Fatalf("question not carried into prompt: %s", llm.prompts[0])
	}
}
