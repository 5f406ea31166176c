package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/agent"
	"github.com/medbridge/clinsync/pkg/config"
	"github.com/medbridge/clinsync/pkg/crm"
	"github.com/medbridge/clinsync/pkg/extract"
	"github.com/medbridge/clinsync/pkg/load"
	"github.com/medbridge/clinsync/pkg/models"
	"github.com/medbridge/clinsync/pkg/pipeline"
	"github.com/medbridge/clinsync/pkg/transform"
	"github.com/medbridge/clinsync/pkg/utils"
	"github.com/medbridge/clinsync/pkg/warehouse"
)

const usage = `Usage: clinsync <command> [flags]

Commands:
  run    execute one pipeline run
  serve  start the HTTP server (scheduled runs when configured)
  ask    answer one question against synchronized data

Flags:
  -config  path to the YAML configuration file (default "config.yaml")
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	logger := &log.DefaultLogger
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	switch command {
	case "run":
		rt, err := build(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize collaborators")
		}
		defer rt.close()
		summary, err := rt.orchestrator.Run(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Pipeline run failed")
		}
		report(logger, summary)
	case "serve":
		rt, err := build(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize collaborators")
		}
		defer rt.close()
		if err := serve(cfg, rt, logger); err != nil {
			logger.Fatal().Err(err).Msg("Server stopped")
		}
	case "ask":
		question := strings.Join(fs.Args(), " ")
		if question == "" {
			logger.Fatal().Msg("ask requires a question")
		}
		rt, err := build(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize collaborators")
		}
		defer rt.close()
		answer, err := rt.agent.Answer(ctx, question)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to answer question")
		}
		fmt.Println(answer)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

type runtime struct {
	orchestrator *pipeline.Orchestrator
	agent        *agent.Agent
	warehouse    *warehouse.Client
}

func (r *runtime) close() {
	if err := r.warehouse.Close(); err != nil {
		log.DefaultLogger.Warn().Err(err).Msg("Failed to close warehouse connection")
	}
}

func build(ctx context.Context, cfg *config.Config, logger *log.Logger) (*runtime, error) {
	extractor := extract.NewFileExtractor(cfg.Extract, logger)

	crmClient, err := crm.New(ctx, cfg.CRM, crm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect to CRM: %w", err)
	}
	warehouseClient, err := warehouse.New(cfg.Warehouse, warehouse.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	mapper := transform.NewMapper(
		transform.WithMapperLogger(logger),
		transform.WithDerivedFields(cfg.Mapper.DerivedFields),
	)
	validator := transform.NewValidator(transform.WithValidatorLogger(logger))
	riskEngine := transform.NewRiskEngine(transform.WithRiskLogger(logger))

	crmOpts := []load.CRMOption{load.WithCRMLogger(logger)}
	if len(cfg.Mapper.DerivedFields) > 0 {
		crmOpts = append(crmOpts, load.WithPayloadDecorator(func(p models.Patient) utils.Record {
			return mapper.DerivedFields(p)
		}))
	}
	synchronizer := load.NewCRMSynchronizer(crmClient, crmOpts...)
	loader := load.NewWarehouseLoader(warehouseClient,
		load.WithWarehouseLogger(logger),
		load.WithDataset(cfg.Warehouse.Dataset),
	)

	orchestrator := pipeline.New(extractor, mapper, validator, riskEngine, synchronizer, loader,
		pipeline.WithLogger(logger),
		pipeline.WithLockFile(cfg.Server.LockFile),
	)

	llm := agent.NewLLMClient(cfg.Agent, agent.WithLLMLogger(logger))
	assistant := agent.New(crmClient, warehouseClient, llm,
		agent.WithLogger(logger),
		agent.WithDataset(cfg.Warehouse.Dataset),
	)

	return &runtime{orchestrator: orchestrator, agent: assistant, warehouse: warehouseClient}, nil
}

func report(logger *log.Logger, s *pipeline.Summary) {
	logger.Info().
		Int("patients", s.Patients.Success).
		Int("patients_failed", s.Patients.Failed).
		Int("labs", s.Labs.Success).
		Int("labs_failed", s.Labs.Failed).
		Int("risks", s.Risks.Success).
		Int("risks_failed", s.Risks.Failed).
		Int("snapshot_rows", s.SnapshotRows).
		Int("event_rows", s.EventRows).
		Int("risk_rows", s.RiskRows).
		Msg("Run summary")
}
