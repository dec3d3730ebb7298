package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buffbot/internal/buffs"
	"buffbot/internal/config"
	"buffbot/internal/mirror"
	"buffbot/internal/notifier"
	"buffbot/internal/services/reminder"
	"buffbot/internal/storage"
	logx "buffbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	defer logSvc.Close()
	mgr.SetLogger(log)

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	slots, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log.With(logx.String("component", "storage")))
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer slots.Close()

	mir, err := mirror.Open(cfg.Mirror.Path, log.With(logx.String("component", "mirror")))
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	svc := buffs.NewService(slots, mir, log.With(logx.String("component", "buffs")))

	sink, err := buildNotifier(cfg, log)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	remCfg, err := reminderConfig(cfg.Reminder)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	rem := reminder.New(remCfg, svc, mir, sink, log.With(logx.String("component", "reminder")))
	if err := rem.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	go func() {
		if err := mgr.Watch(ctx, func(c *config.Config) {
			logSvc.Apply(loggingConfig(c))
		}); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	log.Info("buffd running", logx.String("config", cfgPath))
	<-ctx.Done()
	rem.Stop()
}

func loggingConfig(c *config.Config) logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func reminderConfig(rc config.ReminderConfig) (reminder.Config, error) {
	tick, err := config.ParseDurationOrDefault("reminder.tick", rc.Tick, time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	leadMin, err := config.ParseDurationOrDefault("reminder.lead_min", rc.LeadMin, 4*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	leadMax, err := config.ParseDurationOrDefault("reminder.lead_max", rc.LeadMax, 5*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("reminder.retention", rc.Retention, 24*time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:     rc.Enabled,
		Tick:        tick,
		LeadMin:     leadMin,
		LeadMax:     leadMax,
		Retention:   retention,
		HorizonDays: rc.HorizonDays,
	}, nil
}

func buildNotifier(cfg *config.Config, log logx.Logger) (reminder.Notifier, error) {
	if cfg.Telegram == nil || cfg.Telegram.Token == "" {
		return notifier.NewLog(log.With(logx.String("component", "notifier"))), nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return notifier.NewTelegram(notifier.Config{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		RatePerSec:  cfg.Telegram.RatePerSec,
		PollTimeout: poll,
	}, log.With(logx.String("component", "notifier")))
}
