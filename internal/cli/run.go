package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forPelevin/clipseek/internal/config"
	"github.com/forPelevin/clipseek/internal/httpserver"
	"github.com/forPelevin/clipseek/internal/httpserver/handlers"
	"github.com/forPelevin/clipseek/internal/logger"
	"github.com/forPelevin/clipseek/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipseek/internal/ports/adapters/gemini"
	"github.com/forPelevin/clipseek/internal/storage"
	"github.com/forPelevin/clipseek/internal/usecase"
)

func run(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.HTTPPort = port
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	staging, err := storage.New(cfg.UploadDir, cfg.OutputDir, log)
	if err != nil {
		return err
	}
	defer staging.Wipe()

	video := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	resolver := gemini.New(gemini.Config{
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.GeminiModel,
		BaseURL:      cfg.GeminiBaseURL,
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.PollMaxAttempts,
		Logger:       log,
	})

	uc := usecase.New(usecase.Deps{
		Video:    video,
		Resolver: resolver,
		Log:      log,
	})

	h := handlers.New(cfg, uc, staging, log)
	srv := httpserver.New(cfg, log, h)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info().Msg("server exited cleanly")
	return nil
}
