package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checktime/internal/schedule"
	"checktime/internal/storage"
	logx "checktime/pkg/logx"
)

// Validate checks cross-field rules and every duration string. All
// problems are reported together.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if lvl := cfg.Logging.Level; lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if lvl := cfg.Logging.Operator.MinLevel; lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.operator.min_level: unknown level %q", lvl))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}
	if cfg.Logging.Operator.Enabled && cfg.Telegram.OperatorChatID == 0 {
		add(errors.New("logging.operator: requires telegram.operator_chat_id"))
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.fatal_backoff", cfg.Scheduler.FatalBackoff)
	dur("scheduler.fatal_backoff_max", cfg.Scheduler.FatalBackoffMax)

	_, err := schedule.ParsePolicy(cfg.Schedule.Precedence, cfg.Schedule.OnPeriodOverlap)
	add(err)

	if cfg.Dispatch.HistorySize < 0 {
		add(errors.New("dispatch.history_size: must be >= 0"))
	}
	dur("dispatch.grace", cfg.Dispatch.Grace)

	ex := cfg.Executor
	dur("executor.simulate_delay", ex.SimulateDelay)
	dur("executor.login_timeout", ex.LoginTimeout)
	dur("executor.ready_timeout", ex.ReadyTimeout)
	dur("executor.confirm_timeout", ex.ConfirmTimeout)
	dur("executor.poll_interval", ex.PollInterval)
	dur("executor.request_timeout", ex.RequestTimeout)
	switch strings.ToLower(ex.Scheme) {
	case "", "http", "https":
	default:
		add(fmt.Errorf("executor.scheme: must be http or https, got %q", ex.Scheme))
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	if wp := cfg.WebPush; wp.Enabled && (wp.VAPIDPublicKey == "" || wp.VAPIDPrivateKey == "") {
		add(errors.New("webpush: vapid_public_key and vapid_private_key are required when enabled"))
	}

	if !storage.ValidDriver(cfg.Storage.Driver) {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if d := strings.ToLower(cfg.Storage.Driver); (d == "postgres" || d == "postgresql") && cfg.Storage.DSN == "" {
		add(errors.New("storage.dsn: required for postgres"))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.write_timeout", cfg.Ops.WriteTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	return errors.Join(errs...)
}
