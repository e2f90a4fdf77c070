package config

import (
	"reflect"
	"sort"
	"strings"

	logx "checktime/pkg/logx"
)

// Sections that cannot be applied to a running process.
var restartSections = map[string]bool{
	"telegram.token": true,
	"storage":        true,
	"vault":          true,
	"webpush":        true,
	"executor.mode":  true,
	"systemd":        true,
}

// SummarizeConfigChange returns the changed sections, safe attrs for a log
// line (secrets only as *_set booleans), and the subset of sections that
// need a restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if restartSections[section] {
			restart = append(restart, section)
		}
	}
	o, n := oldCfg, newCfg

	if o.Telegram.Token != n.Telegram.Token {
		mark("telegram.token")
	}
	if strings.TrimSpace(o.Telegram.PollTimeout) != strings.TrimSpace(n.Telegram.PollTimeout) ||
		!reflect.DeepEqual(o.Telegram.OwnerUserIDs, n.Telegram.OwnerUserIDs) ||
		o.Telegram.OperatorChatID != n.Telegram.OperatorChatID {
		mark("telegram",
			logx.Int("telegram.owner_count", len(n.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.operator_set", n.Telegram.OperatorChatID != 0),
		)
	}

	if !reflect.DeepEqual(o.Logging, n.Logging) {
		mark("logging",
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.operator_enabled", n.Logging.Operator.Enabled),
		)
	}

	if o.Scheduler.IsEnabled() != n.Scheduler.IsEnabled() ||
		o.Scheduler.Timezone != n.Scheduler.Timezone ||
		o.Scheduler.FatalBackoff != n.Scheduler.FatalBackoff ||
		o.Scheduler.FatalBackoffMax != n.Scheduler.FatalBackoffMax {
		mark("scheduler",
			logx.Bool("scheduler.enabled", n.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", n.Scheduler.Timezone),
		)
	}

	if o.Schedule != n.Schedule {
		mark("schedule",
			logx.String("schedule.precedence", n.Schedule.Precedence),
			logx.String("schedule.on_period_overlap", n.Schedule.OnPeriodOverlap),
		)
	}

	if o.Dispatch != n.Dispatch {
		mark("dispatch", logx.Int("dispatch.history_size", n.Dispatch.HistorySize))
	}

	oe, ne := o.Executor, n.Executor
	if oe.Simulate != ne.Simulate {
		mark("executor.mode", logx.Bool("executor.simulate", ne.Simulate))
	}
	oe.Simulate, ne.Simulate = false, false
	if oe != ne {
		mark("executor",
			logx.String("executor.login_timeout", ne.LoginTimeout),
			logx.String("executor.ready_timeout", ne.ReadyTimeout),
			logx.String("executor.confirm_timeout", ne.ConfirmTimeout),
		)
	}

	if on, nn := o.NotifierOrDefault(), n.NotifierOrDefault(); on != nn {
		mark("notifier",
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	if o.WebPush != n.WebPush {
		mark("webpush",
			logx.Bool("webpush.enabled", n.WebPush.Enabled),
			logx.Bool("webpush.keys_set", n.WebPush.VAPIDPublicKey != "" && n.WebPush.VAPIDPrivateKey != ""),
		)
	}

	if o.Storage != n.Storage {
		mark("storage",
			logx.String("storage.driver", n.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", n.Storage.DSN != ""),
		)
	}

	if o.Vault != n.Vault {
		mark("vault")
	}

	if o.Ops != n.Ops {
		mark("ops",
			logx.Bool("ops.enabled", n.Ops.Enabled),
			logx.String("ops.addr", n.Ops.Addr),
			logx.Bool("ops.token_set", n.Ops.Token != ""),
			logx.Bool("ops.allow_insecure", n.Ops.AllowInsecure),
		)
	}

	if o.Systemd.NotifyEnabled() != n.Systemd.NotifyEnabled() ||
		o.Systemd.WatchdogEnabled() != n.Systemd.WatchdogEnabled() {
		mark("systemd")
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
