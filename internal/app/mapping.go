package app

import (
	"time"

	"checktime/internal/config"
	"checktime/internal/dispatch"
	"checktime/internal/executor"
	"checktime/internal/executor/web"
	"checktime/internal/notifier"
	"checktime/internal/ops"
	"checktime/internal/storage"
	"checktime/internal/tick"
	"checktime/internal/transport/telegram"
	logx "checktime/pkg/logx"
	"checktime/pkg/sdnotify"
)

// The map* helpers translate a validated config into package configs.
// Zero durations are left for each package to default.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Operator.Enabled,
			MinLevel:   cfg.Logging.Operator.MinLevel,
			RatePerSec: cfg.Logging.Operator.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	pt := config.Duration(cfg.Telegram.PollTimeout)
	if pt <= 0 {
		pt = 10 * time.Second
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout),
	}
}

func mapTick(cfg *config.Config) tick.Config {
	return tick.Config{
		Enabled:         cfg.Scheduler.IsEnabled(),
		Timezone:        cfg.Scheduler.Timezone,
		FatalBackoff:    config.Duration(cfg.Scheduler.FatalBackoff),
		FatalBackoffMax: config.Duration(cfg.Scheduler.FatalBackoffMax),
	}
}

func mapExecutor(cfg *config.Config) executor.Config {
	return executor.Config{
		LoginTimeout:   config.Duration(cfg.Executor.LoginTimeout),
		ReadyTimeout:   config.Duration(cfg.Executor.ReadyTimeout),
		ConfirmTimeout: config.Duration(cfg.Executor.ConfirmTimeout),
	}
}

func mapWeb(cfg *config.Config) web.Config {
	ex := cfg.Executor
	return web.Config{
		Scheme:         ex.Scheme,
		BaseDomain:     ex.BaseDomain,
		BaseURL:        ex.BaseURL,
		PollInterval:   config.Duration(ex.PollInterval),
		ConfirmText:    ex.ConfirmText,
		UserAgent:      ex.UserAgent,
		RequestTimeout: config.Duration(ex.RequestTimeout),
	}
}

func mapDispatch(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		HistorySize: cfg.Dispatch.HistorySize,
		Budget:      mapExecutor(cfg).Budget(),
		Grace:       config.Duration(cfg.Dispatch.Grace),
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.NotifierOrDefault()
	return notifier.Config{
		Enabled:        n.Enabled,
		Workers:        n.Workers,
		QueueSize:      n.QueueSize,
		RatePerSec:     n.RatePerSec,
		RetryMax:       n.RetryMax,
		RetryBase:      config.Duration(n.RetryBase),
		RetryMaxDelay:  config.Duration(n.RetryMaxDelay),
		DedupWindow:    config.Duration(n.DedupWindow),
		OperatorChatID: cfg.Telegram.OperatorChatID,
	}
}

func mapWebPush(cfg *config.Config) notifier.WebPushConfig {
	return notifier.WebPushConfig{
		Enabled:         cfg.WebPush.Enabled,
		VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
		Subscriber:      cfg.WebPush.Subscriber,
		TTL:             cfg.WebPush.TTL,
	}
}

func mapOps(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		ReadTimeout:   config.Duration(cfg.Ops.ReadTimeout),
		WriteTimeout:  config.Duration(cfg.Ops.WriteTimeout),
		IdleTimeout:   config.Duration(cfg.Ops.IdleTimeout),
	}
}

func mapSystemd(cfg *config.Config) sdnotify.Config {
	return sdnotify.Config{
		Notify:   cfg.Systemd.NotifyEnabled(),
		Watchdog: cfg.Systemd.WatchdogEnabled(),
	}
}
