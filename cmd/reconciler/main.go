// Reconciler - credit reconciliation service for metered rendering jobs.
//
// Commands:
//   - serve: consume billing events and expose the HTTP API
//   - sweep: run one reconciliation sweep and exit
//   - balance get: show a user's remaining credit
//   - ledger list: show the ledger entries for a job
//
// Configuration is via environment variables (12-factor pattern); a .env
// file is honored in development.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fertilia/reconciler/internal/anomaly"
	"github.com/fertilia/reconciler/internal/config"
	"github.com/fertilia/reconciler/internal/events"
	"github.com/fertilia/reconciler/internal/pricing"
	"github.com/fertilia/reconciler/internal/reconciler"
	"github.com/fertilia/reconciler/internal/rest"
	"github.com/fertilia/reconciler/internal/store/postgres"
)

// Version is set during build.
var Version = "dev"

func main() {
	cfg := config.Load()
	logger := setupLogger(cfg.LogLevel, cfg.Environment)

	rootCmd := &cobra.Command{
		Use:           "reconciler",
		Short:         "Credit reconciliation service for metered rendering jobs",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd(cfg, logger))
	rootCmd.AddCommand(sweepCmd(cfg, logger))
	rootCmd.AddCommand(balanceCmd(cfg))
	rootCmd.AddCommand(ledgerCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// serveCmd runs the event consumer and the HTTP server until SIGINT or
// SIGTERM, then drains both.
func serveCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume billing events and expose the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Info().
				Str("environment", cfg.Environment).
				Str("http_port", cfg.HTTPPort).
				Str("kafka_topic", cfg.KafkaTopic).
				Msg("starting reconciler")

			pg, err := postgres.Open(cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("failed to open postgres: %w", err)
			}
			defer pg.Close()
			logger.Info().Msg("postgres connection established")

			// Redis only backs the price cache, so losing it degrades to
			// catalog reads, not an outage.
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
			})
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				logger.Warn().Err(err).Msg("redis unavailable, price cache disabled")
				rdb = nil
			} else {
				logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
			}
			pingCancel()

			catalog := pricing.NewCatalog(pg.DB(), rdb, cfg.DefaultUnitPrice, logger)
			catalog.StartRefresh(cfg.PricingRefreshPeriod)
			defer catalog.Stop()

			var explainer anomaly.Explainer
			if cfg.OpenAIAPIKey != "" {
				explainer = anomaly.NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, logger)
			} else {
				logger.Warn().Msg("no OpenAI API key configured, anomaly notes disabled")
			}

			processor := reconciler.NewProcessor(reconciler.ProcessorConfig{
				Ledger:     pg,
				Accounts:   pg,
				Jobs:       pg,
				Pricing:    catalog,
				Thresholds: cfg.Thresholds,
				Explainer:  explainer,
				Logger:     logger,
			})
			sweeper := reconciler.NewSweeper(pg, processor, cfg.SweepPageSize, logger)
			dispatcher := reconciler.NewDispatcher(processor, sweeper, logger)

			consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, dispatcher, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			consumerDone := make(chan error, 1)
			go func() {
				consumerDone <- consumer.Run(ctx)
			}()

			mux := http.NewServeMux()
			rest.NewHandler(dispatcher, pg, pg, logger).RegisterRoutes(mux)

			httpServer := &http.Server{
				Addr:         ":" + cfg.HTTPPort,
				Handler:      rest.LoggingMiddleware(logger)(mux),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			go func() {
				logger.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("http server failed")
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			case err := <-consumerDone:
				if err != nil {
					logger.Error().Err(err).Msg("consumer stopped")
				}
			}

			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error().Err(err).Msg("consumer close failed")
			}
			logger.Info().Msg("consumer stopped")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("http server shutdown failed")
			}
			logger.Info().Msg("shutdown complete")

			return nil
		},
	}
}

// sweepCmd runs one reconciliation sweep and prints the summary.
func sweepCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := postgres.Open(cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("failed to open postgres: %w", err)
			}
			defer pg.Close()

			catalog := pricing.NewCatalog(pg.DB(), nil, cfg.DefaultUnitPrice, logger)

			processor := reconciler.NewProcessor(reconciler.ProcessorConfig{
				Ledger:     pg,
				Accounts:   pg,
				Jobs:       pg,
				Pricing:    catalog,
				Thresholds: cfg.Thresholds,
				Logger:     logger,
			})
			sweeper := reconciler.NewSweeper(pg, processor, cfg.SweepPageSize, logger)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			summary, err := sweeper.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			printJSON(summary)
			return nil
		},
	}
}

// balanceCmd creates the balance command group.
func balanceCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Balance operations",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Get a user's remaining credit",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user-id")

			pg, err := postgres.Open(cfg.PostgresURL)
			if err != nil {
				return err
			}
			defer pg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			account, err := pg.GetAccount(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}

			printJSON(map[string]interface{}{
				"user_id":    account.UserID,
				"remaining":  account.Remaining,
				"updated_at": account.UpdatedAt.Format(time.RFC3339),
			})
			return nil
		},
	}
	getCmd.Flags().String("user-id", "", "User ID (required)")
	getCmd.MarkFlagRequired("user-id")

	cmd.AddCommand(getCmd)
	return cmd
}

// ledgerCmd creates the ledger command group.
func ledgerCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries for a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("job-id")

			pg, err := postgres.Open(cfg.PostgresURL)
			if err != nil {
				return err
			}
			defer pg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			entries, err := pg.EntriesByJob(ctx, jobID)
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}

			printJSON(entries)
			return nil
		},
	}
	listCmd.Flags().String("job-id", "", "Job ID (required)")
	listCmd.MarkFlagRequired("job-id")

	cmd.AddCommand(listCmd)
	return cmd
}

// setupLogger creates a structured logger. Pretty console output in
// development, JSON in production.
func setupLogger(levelStr, environment string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Caller().
			Logger()
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "credit-reconciler").
		Str("environment", environment).
		Logger()
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
