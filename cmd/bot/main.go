package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cuebot/internal/agent"
	"cuebot/internal/bot"
	"cuebot/internal/config"
	"cuebot/internal/engine"
	"cuebot/internal/eventbus"
	"cuebot/internal/notify"
	rtsup "cuebot/internal/runtime/supervisor"
	"cuebot/internal/schedule"
	"cuebot/internal/storage"
	kit "cuebot/internal/transport"
	tgadapter "cuebot/internal/transport/telegram/adapter"
	logx "cuebot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := validate(ctx, cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	defer logSvc.Close()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validate)

	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	adapter, err := tgadapter.New(tgadapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(adapter)
	applyLogTarget(logSvc, cfg)

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: mustDuration(cfg.Storage.BusyTimeout),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	bus := eventbus.New()

	notifier := notify.New(adapter, notifyConfig(cfg), log.With(logx.String("comp", "notify")))

	var runner agent.Runner = agent.NopRunner{}
	dispatcher := engine.NewDispatcher(runner, notifier, log.With(logx.String("comp", "exec")))

	eng := engine.New(engineConfig(cfg), store, dispatcher, bus, log.With(logx.String("comp", "engine")))

	// Recovery rebuilds timers from the store and must finish before the bot
	// starts accepting commands.
	if err := eng.Recover(ctx); err != nil {
		return err
	}

	var fallback *agent.FallbackParser
	if cfg.Agent != nil && cfg.Agent.FallbackEnabled {
		fallback = agent.NewFallbackParser(runner, log.With(logx.String("comp", "agent")))
	}
	router := bot.New(botConfig(cfg), eng, adapter, fallbackOrNil(fallback), bus, log.With(logx.String("comp", "bot")))

	sup := rtsup.New(ctx, rtsup.WithLogger(log), rtsup.WithCancelOnError(true))

	updates := make(chan kit.Update, 256)
	if err := adapter.Start(sup.Context(), updates); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	sup.Go("bot.router", func(c context.Context) error {
		return router.Run(c, updates)
	})
	sup.Go("bot.events", func(c context.Context) error {
		return router.EventLoop(c)
	})
	sup.GoRestart("config.watch", cfgm.Watch)

	// Hot reload fan-out.
	sub := cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer cfgm.Unsubscribe(sub)
		last := cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(last, newCfg)
				if len(sections) > 0 {
					log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				} else {
					log.Debug("config reload received, but no effective changes detected")
				}
				last = newCfg

				logSvc.Apply(loggingConfig(newCfg))
				applyLogTarget(logSvc, newCfg)
				eng.Apply(engineConfig(newCfg))
				notifier.Apply(notifyConfig(newCfg))
				router.Apply(botConfig(newCfg))
			}
		}
	})

	// Systemd integration is best-effort; SdNotify is a no-op outside a unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	log.Info("cuebot started", logx.String("config", cfgPath), logx.String("storage", cfg.Storage.Driver))

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = adapter.Stop(stopCtx)
	_ = eng.Stop(stopCtx)
	if err := sup.Stop(stopCtx); err != nil && err != context.Canceled {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	return sup.Err()
}

// validate rejects configs that would misbehave at runtime; used both at
// startup and as the hot-reload gate.
func validate(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("scheduler.exec_timeout", cfg.Scheduler.ExecTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Scheduler.FailureThreshold < 0 {
		return fmt.Errorf("scheduler.failure_threshold must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Agent != nil {
		if _, err := config.ParseDurationField("agent.fallback_timeout", cfg.Agent.FallbackTimeout); err != nil {
			return err
		}
	}
	return nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logSvc *logx.Service, cfg *config.Config) {
	if s := strings.TrimSpace(cfg.Telegram.GroupLog); s != "" {
		if chatID, err := strconv.ParseInt(s, 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID)
			return
		}
	}
	logSvc.SetTelegramTarget(0)
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Timezone:         cfg.Scheduler.Timezone,
		FailureThreshold: cfg.Scheduler.FailureThreshold,
		ExecTimeout:      mustDuration(cfg.Scheduler.ExecTimeout),
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	if cfg.Notifier == nil {
		return notify.Config{}
	}
	return notify.Config{RatePerSec: cfg.Notifier.RatePerSec}
}

func botConfig(cfg *config.Config) bot.Config {
	out := bot.Config{OwnerUserIDs: cfg.Telegram.OwnerUserIDs}
	if cfg.Agent != nil {
		out.FallbackEnabled = cfg.Agent.FallbackEnabled
		out.FallbackTimeout = mustDuration(cfg.Agent.FallbackTimeout)
	}
	return out
}

// mustDuration is only called on fields validate() has already checked.
func mustDuration(raw string) time.Duration {
	d, _ := config.ParseDurationField("", raw)
	return d
}

// fallbackOrNil avoids handing the router a non-nil interface wrapping a nil
// pointer when the fallback is disabled.
func fallbackOrNil(p *agent.FallbackParser) schedule.Fallback {
	if p == nil {
		return nil
	}
	return p
}
