package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/bot"
	"github.com/egorkrivoshey335-create/bot-posts/internal/config"
	"github.com/egorkrivoshey335-create/bot-posts/internal/server"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "bot-posts",
	Short: "bot-posts - Telegram channel post composer and scheduler",
	Long:  `bot-posts lets channel admins compose rich posts (text, media albums, link buttons) in a chat wizard, preview them exactly, and publish immediately or on schedule.`,
	RunE:  runBot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bot-posts %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/bot.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
}

func runBot(*cobra.Command, []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting bot-posts", zap.String("version", version))

	b, err := bot.New(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var statusSrv *server.Server
	if cfg.Status.Enabled {
		statusSrv = server.NewServer(&cfg.Status, b.Store(), appLogger)
		go func() {
			if err := statusSrv.Start(ctx); err != nil && err != http.ErrServerClosed {
				appLogger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Run(ctx)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down...")
		cancel()
		if err := <-errCh; err != nil {
			appLogger.Error("Bot stopped with error", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			appLogger.Error("Bot stopped with error", zap.Error(err))
			cancel()
			return err
		}
	}

	if statusSrv != nil {
		if err := statusSrv.Shutdown(context.Background()); err != nil {
			appLogger.Error("Status server forced to shutdown", zap.Error(err))
		}
	}

	appLogger.Info("Exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
