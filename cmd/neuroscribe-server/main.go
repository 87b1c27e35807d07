package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/neuroscribe/internal/config"
	"github.com/ehr/neuroscribe/internal/domain/patient"
	"github.com/ehr/neuroscribe/internal/platform/summary"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "neuroscribe-server",
		Short:   "NeuroScribe patient intake and classification API",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(summarizeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func summarizeCmd() *cobra.Command {
	var (
		data       patient.ClinicalData
		sex        string
		promptOnly bool
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Generate a clinical summary for one set of metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			data.Sex = patient.Sex(sex)
			if !data.Sex.Valid() {
				return fmt.Errorf("invalid --sex %q: want %s or %s", sex, patient.SexMale, patient.SexFemale)
			}
			if promptOnly {
				fmt.Fprintln(cmd.OutOrStdout(), summary.Prompt(data))
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := summary.New(summary.Config{
				APIKey:  cfg.GeminiAPIKey,
				Model:   cfg.GeminiModel,
				BaseURL: cfg.GeminiBaseURL,
				Timeout: cfg.SummaryTimeout,
			})
			text, err := client.Generate(cmd.Context(), summary.Prompt(data))
			if err != nil {
				return fmt.Errorf("generate summary: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&data.Age, "age", 0, "patient age in years")
	f.StringVar(&sex, "sex", "", "patient sex (Male or Female)")
	f.IntVar(&data.MMSE, "mmse", 0, "Mini-Mental State Examination score (0-30)")
	f.Float64Var(&data.CDR, "cdr", 0, "Clinical Dementia Rating")
	f.Float64Var(&data.ETIV, "etiv", 0, "estimated total intracranial volume")
	f.Float64Var(&data.NWBV, "nwbv", 0, "normalized whole brain volume")
	f.Float64Var(&data.ASF, "asf", 0, "atlas scaling factor")
	f.BoolVar(&promptOnly, "prompt-only", false, "print the prompt instead of calling the model")
	cmd.MarkFlagRequired("sex")

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(lvl)
	}
	return logger
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.SessionSecret == "" {
		logger.Warn().Msg("SESSION_SECRET not set; using a random secret, sessions will not survive a restart")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set; submissions will receive the fallback summary")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	defer srv.Close()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = srv.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
