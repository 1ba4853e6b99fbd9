package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nhs-screening/cohort-manager/config"
	cohortHandler "github.com/nhs-screening/cohort-manager/internal/handler/cohort"
	demographicHandler "github.com/nhs-screening/cohort-manager/internal/handler/demographic"
	distributionHandler "github.com/nhs-screening/cohort-manager/internal/handler/distribution"
	exceptionHandler "github.com/nhs-screening/cohort-manager/internal/handler/exception"
	healthHandler "github.com/nhs-screening/cohort-manager/internal/handler/health"
	orchestrationHandler "github.com/nhs-screening/cohort-manager/internal/handler/orchestration"
	participantHandler "github.com/nhs-screening/cohort-manager/internal/handler/participant"
	transformationHandler "github.com/nhs-screening/cohort-manager/internal/handler/transformation"
	validationHandler "github.com/nhs-screening/cohort-manager/internal/handler/validation"
	"github.com/nhs-screening/cohort-manager/internal/repository/postgres"
	"github.com/nhs-screening/cohort-manager/internal/router"
	demographicService "github.com/nhs-screening/cohort-manager/internal/service/demographic"
	distributionService "github.com/nhs-screening/cohort-manager/internal/service/distribution"
	exceptionService "github.com/nhs-screening/cohort-manager/internal/service/exception"
	orchestrationService "github.com/nhs-screening/cohort-manager/internal/service/orchestration"
	participantService "github.com/nhs-screening/cohort-manager/internal/service/participant"
	transformationService "github.com/nhs-screening/cohort-manager/internal/service/transformation"
	validationService "github.com/nhs-screening/cohort-manager/internal/service/validation"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	pipelineMetrics := metrics.NewMetrics("cohort_manager", "pipeline")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	cohortRepo := postgres.NewCohortRepository(db)
	demographicRepo := postgres.NewDemographicRepository(db)
	participantRepo := postgres.NewParticipantRepository(db)
	referenceRepo := postgres.NewReferenceRepository(db)
	exceptionRepo := postgres.NewExceptionRepository(db)
	distributionRepo := postgres.NewDistributionRepository(db)
	statusRepo := postgres.NewStatusRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	demographicSvc := demographicService.NewService(cohortRepo, demographicRepo, appLogger,
		demographicService.Config{
			RetryAttempts: cfg.Pipeline.RetryAttempts,
			RetryDelay:    cfg.Pipeline.RetryDelay,
			StoreTimeout:  cfg.Pipeline.StoreTimeout,
		})
	participantSvc := participantService.NewService(cohortRepo, participantRepo, appLogger,
		participantService.Config{
			ScreeningID:   cfg.Pipeline.ScreeningID,
			RetryAttempts: cfg.Pipeline.RetryAttempts,
			RetryDelay:    cfg.Pipeline.RetryDelay,
			StoreTimeout:  cfg.Pipeline.StoreTimeout,
		})
	validationSvc, err := validationService.NewService(
		demographicRepo, participantRepo, referenceRepo,
		validationService.DefaultRules(), appLogger,
		validationService.Config{
			RuleWorkers:       cfg.Pipeline.RuleWorkers,
			ReferenceCacheTTL: cfg.Pipeline.ReferenceCacheTTL,
		})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build validation service")
	}
	transformationSvc := transformationService.NewService(
		demographicRepo, participantRepo,
		transformationService.DefaultConditionalRules(),
		transformationService.DefaultReplacementRules(),
		appLogger,
		transformationService.Config{RuleWorkers: cfg.Pipeline.RuleWorkers})
	exceptionSvc := exceptionService.NewService(exceptionRepo, appLogger, pipelineMetrics)
	distributionSvc := distributionService.NewService(distributionRepo, outboxRepo, appLogger, pipelineMetrics)
	orchestrationSvc := orchestrationService.NewService(
		cohortRepo, statusRepo, outboxRepo,
		demographicSvc, participantSvc, validationSvc,
		transformationSvc, exceptionSvc, distributionSvc,
		appLogger, pipelineMetrics,
		orchestrationService.Config{
			ScreeningName:     cfg.Pipeline.ScreeningName,
			RecordConcurrency: cfg.Pipeline.RecordConcurrency,
		})

	r := router.NewRouter(
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rateLimit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.WriteTimeout,
			MetricsEnabled:   cfg.Monitoring.PrometheusEnabled,
			MetricsPath:      cfg.Monitoring.MetricsPath,
		},
		healthHandler.NewHandler(db),
		cohortHandler.NewHandler(cohortRepo, orchestrationSvc),
		orchestrationHandler.NewHandler(orchestrationSvc),
		demographicHandler.NewHandler(demographicSvc),
		participantHandler.NewHandler(participantSvc),
		validationHandler.NewHandler(validationSvc),
		transformationHandler.NewHandler(transformationSvc),
		exceptionHandler.NewHandler(exceptionSvc, participantSvc),
		distributionHandler.NewHandler(distributionSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}

func rateLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
