package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Temutjin2k/ride-hail-driver/config"
	"github.com/Temutjin2k/ride-hail-driver/internal/app"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
)

var (
	helpFlag   = flag.Bool("help", false, "Show help message")
	configPath = flag.String("config-path", "config.yaml", "Path to the config yaml file")
)

func main() {
	flag.Parse()
	if *helpFlag {
		config.PrintHelp()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.InitLogger("ride-hail-driver", logger.LevelDebug)

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		log.Error(ctx, "failed to configure application", err)
		config.PrintHelp()
		os.Exit(1)
	}

	// Printing configuration
	config.PrintConfig(cfg)

	if logger.ValidateLogLevel(cfg.LogLevel) {
		log = logger.InitLogger("ride-hail-driver", cfg.LogLevel)
	}

	// Creating application. Geolocation is platform-specific and plugs
	// in through app.FixSource; none is wired on plain hosts.
	application, err := app.NewApplication(ctx, *cfg, nil, log)
	if err != nil {
		log.Error(ctx, "failed to init application", err)
		os.Exit(1)
	}

	// Running the application
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "application stopped", err)
		os.Exit(1)
	}
}
