package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/oarkflow/log"
	"github.com/robfig/cron/v3"

	"github.com/medbridge/clinsync/pkg/config"
)

type questionRequest struct {
	Question string `json:"question"`
}

// serve runs the HTTP front end and, when a schedule is configured,
// periodic pipeline runs. The run lock keeps a scheduled run and a
// manually triggered one from overlapping.
func serve(cfg *config.Config, rt *runtime, logger *log.Logger) error {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/run", func(c *fiber.Ctx) error {
		summary, err := rt.orchestrator.Run(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(summary)
	})

	app.Post("/agent/query", func(c *fiber.Ctx) error {
		var req questionRequest
		if err := c.BodyParser(&req); err != nil || req.Question == "" {
			return fiber.NewError(fiber.StatusBadRequest, "question is required")
		}
		answer, err := rt.agent.Answer(c.Context(), req.Question)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"answer": answer})
	})

	if cfg.Server.Schedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Server.Schedule, func() {
			if _, err := rt.orchestrator.Run(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Scheduled run failed")
			}
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info().Str("schedule", cfg.Server.Schedule).Msg("Scheduled runs enabled")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		logger.Info().Msg("Shutting down")
		return app.Shutdown()
	}
}
