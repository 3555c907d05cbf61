package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/marzen/tandem/pkg/cmd"
	"github.com/marzen/tandem/pkg/config"
	"github.com/marzen/tandem/pkg/log"
	"github.com/marzen/tandem/pkg/otelhelper"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "tandem-api",
		Usage:                 "Execute multi-step write work units",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (empty runs in memory)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for advisory claims (empty runs in memory)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the engine YAML config file",
				Value:   "engine.yaml",
				Sources: cli.EnvVars("TANDEM_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Tandem API")

			// registers the global tracer provider picked up by the engine
			if _, err := otelhelper.NewTracer(ctx, "tandem-api"); err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			engineConfig := config.LoadEngineConfigOrDefault(command.String("config"))

			storageGateway := cmd.NewGateway(ctx, logger, command.String("database-url"), engineConfig.UniqueKeys)

			defer func() {
				if err := storageGateway.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close gateway", "error", err)
				}
			}()

			claimStore, stopClaims := cmd.NewClaimStore(ctx, logger,
				command.String("redis-url"), engineConfig.JanitorSchedule)
			defer stopClaims()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, engineConfig.WorkUnitTopic)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(logger, storageGateway, claimStore, eventBus, engineConfig)

			if err := api.Start(int(command.Int("port"))); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
