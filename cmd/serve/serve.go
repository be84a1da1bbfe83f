// Package serve implements the serve subcommand, which runs the attendance
// engine and its HTTP server until interrupted.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/classtrack/classtrack-go/internal/conf"
	"github.com/classtrack/classtrack-go/internal/datastore"
	"github.com/classtrack/classtrack-go/internal/httpcontroller"
	"github.com/classtrack/classtrack-go/internal/logging"
	"github.com/classtrack/classtrack-go/internal/mailer"
	"github.com/classtrack/classtrack-go/internal/recognition"
)

// Command creates the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the attendance recognition server",
		Long:  "Start the recognition engine, REST API and websocket endpoints, serving camera feeds and dashboards until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.HTTP.Host, "host", viper.GetString("http.host"), "Listen address for the HTTP server")
	cmd.Flags().IntVar(&settings.HTTP.Port, "port", viper.GetInt("http.port"), "Listen port for the HTTP server")
	cmd.Flags().StringVar(&settings.Recognition.Mode, "mode", viper.GetString("recognition.mode"), "Matching mode (\"distance\" or \"similarity\")")
	cmd.Flags().StringVar(&settings.Recognition.DetectorURL, "detectorurl", viper.GetString("recognition.detectorurl"), "Face detector endpoint URL")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func runServer(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	if settings.Main.Log.Enabled {
		fileLogger, closeFn, err := logging.NewFileLogger(settings.Main.Log.Path, "main", slog.LevelInfo)
		if err != nil {
			return fmt.Errorf("opening main log %q: %w", settings.Main.Log.Path, err)
		}
		defer func() {
			if err := closeFn(); err != nil {
				logger.Error("closing main log", "error", err)
			}
		}()
		logger = fileLogger.With("service", "serve")
	}

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no database backend enabled in configuration")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("closing datastore", "error", err)
		}
	}()

	detector := recognition.NewHTTPDetector(
		settings.Recognition.DetectorURL,
		settings.Recognition.DetectorTimeout,
	)

	engine, err := recognition.NewEngine(settings, ds, detector)
	if err != nil {
		return fmt.Errorf("building recognition engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("closing engine", "error", err)
		}
	}()

	reportMailer := mailer.New(&settings.Mail, ds)
	server := httpcontroller.New(settings, ds, engine, reportMailer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("attendance engine started",
		"mode", settings.Recognition.Mode,
		"model", settings.Recognition.ModelName(),
		"port", settings.HTTP.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		return server.Shutdown(context.Background())
	}
}
