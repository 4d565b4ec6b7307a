package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "reflex",
	Short:         "Multiplayer reaction-time room coordinator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve game rooms over WebSocket",
	RunE:  runServe,
}

var (
	flagConfig string
	flagPort   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", os.Getenv("REFLEX_CONFIG"), "optional YAML config file (env REFLEX_CONFIG)")
	flags.StringVar(&flagPort, "port", "", "listen port, overrides config and PORT")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute reflex command")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(flagConfig, flagPort)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup services: %w", err)
	}

	server, err := setupServer(cfg, services)
	if err != nil {
		return fmt.Errorf("setup server: %w", err)
	}

	log.Info().
		Str("addr", server.Addr).
		Dur("countdown_min", cfg.Game.CountdownMin).
		Dur("countdown_max", cfg.Game.CountdownMax).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Strs("allowed_origins", cfg.Server.AllowedOrigins).
		Msg("starting reflex")

	services.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	services.Stop(shutdownCtx)

	log.Info().Msg("reflex shutdown complete")
	return nil
}
