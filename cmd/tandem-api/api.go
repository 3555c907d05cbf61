// Package main provides the Tandem API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/marzen/tandem/pkg/claims"
	"github.com/marzen/tandem/pkg/config"
	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/services"
	"github.com/marzen/tandem/pkg/web"
)

type API struct {
	logger     *slog.Logger
	gateway    gateway.Gateway
	claimStore claims.Store
	eventBus   eventbus.EventBus
	config     config.EngineConfig
	validate   *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	g gateway.Gateway,
	claimStore claims.Store,
	eventBus eventbus.EventBus,
	engineConfig config.EngineConfig,
) *API {
	return &API{
		logger:     logger,
		gateway:    g,
		claimStore: claimStore,
		eventBus:   eventBus,
		config:     engineConfig,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	batching := engine.WithBatchSize(a.config.FanoutBatchSize)

	handlers := web.NewAPIHandlers(
		services.NewWorkUnits(a.gateway, a.eventBus, a.logger, batching),
		services.NewCampaigns(a.gateway, a.eventBus, a.logger, batching),
		services.NewTemplates(a.gateway, a.eventBus, a.logger, batching),
		services.NewAddOns(a.gateway, a.eventBus, a.logger, batching),
		services.NewABTests(a.gateway, a.eventBus, a.logger, batching),
		services.NewTickets(a.gateway, a.claimStore, a.logger, a.config.ClaimTTL),
		a.claimStore,
		a.validate,
		a.config.ClaimTTL,
		a.config.ClaimHeartbeat,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tandem API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
