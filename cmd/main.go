package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dispatchbot/config"
	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/notify"
	"dispatchbot/service"
	"dispatchbot/storage/postgres"
)

func main() {
	// 1. Configuration
	cfg := config.Load()

	// 2. Logger
	log := logger.New(cfg.ServiceName, cfg.LoggerLevel)
	log.Info("starting service", logger.String("service", cfg.ServiceName))

	ctx := context.Background()

	// 3. Storage
	stg, err := postgres.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage", logger.Error(err))
		os.Exit(1)
	}
	defer stg.Close()

	// 4. Notification gateway
	var gw notify.Gateway
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramGateway(cfg.TelegramBotToken, log)
		if err != nil {
			log.Error("failed to initialize telegram gateway", logger.Error(err))
			os.Exit(1)
		}
		gw = tg
	} else {
		log.Warning("TG_BOT_TOKEN not set, broadcasts disabled")
	}

	// 5. Services
	services := service.New(stg, gw, cfg, log)

	// 6. Auction scheduler
	scheduler := service.NewScheduler(stg, gw, cfg, log)
	scheduler.Start()
	log.Info("scheduler started", logger.Duration("interval", cfg.SchedulerInterval))

	// 7. Inbound bot handlers
	if tg, ok := gw.(*notify.TelegramGateway); ok {
		registerHandlers(tg.Bot(), services, log)
		go tg.Bot().Start()
		defer tg.Bot().Stop()
	}

	// 8. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	scheduler.Stop()
}
