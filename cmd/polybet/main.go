// Command polybet runs the parimutuel settlement engine. It loads and
// validates configuration, wires dependencies, sets up signal handling and
// starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/polybet/internal/app"
	"github.com/alanyoungcy/polybet/internal/config"
	"github.com/alanyoungcy/polybet/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	sealKey := flag.Bool("seal-key", false, "encrypt the relayer private key with its passphrase, print the key file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *sealKey {
		if err := writeSealedKey(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "seal-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polybet starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", cfg.Redacted()))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("polybet stopped")
}

// writeSealedKey prints the sealed form of relayer.private_key, to be saved
// as relayer.key_file.
func writeSealedKey(cfg *config.Config) error {
	if cfg.Relayer.PrivateKey == "" || cfg.Relayer.KeyPassphrase == "" {
		return errors.New("set POLYBET_RELAYER_PRIVATE_KEY and POLYBET_RELAYER_KEY_PASSPHRASE")
	}
	sealed, err := crypto.SealKey(cfg.Relayer.PrivateKey, cfg.Relayer.KeyPassphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(sealed))
	return err
}
