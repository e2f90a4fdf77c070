package config

// Config is the on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m"); empty means the default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Executor  ExecutorConfig  `json:"executor"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	WebPush  WebPushConfig   `json:"webpush"`
	Storage  StorageConfig   `json:"storage"`
	Vault    VaultConfig     `json:"vault"`
	Ops      OpsConfig       `json:"ops"`
	Systemd  SystemdConfig   `json:"systemd"`
}

type TelegramConfig struct {
	Token          string  `json:"token"`
	OwnerUserIDs   []int64 `json:"owner_user_ids"`
	OperatorChatID int64   `json:"operator_chat_id"`
	PollTimeout    string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator forwards warn+ lines to telegram.operator_chat_id.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Enabled is a pointer so an omitted key means true.
	Enabled         *bool  `json:"enabled,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	FatalBackoff    string `json:"fatal_backoff,omitempty"`
	FatalBackoffMax string `json:"fatal_backoff_max,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type ScheduleConfig struct {
	Precedence      string `json:"precedence,omitempty"`
	OnPeriodOverlap string `json:"on_period_overlap,omitempty"`
}

type DispatchConfig struct {
	HistorySize int    `json:"history_size,omitempty"`
	Grace       string `json:"grace,omitempty"`
}

type ExecutorConfig struct {
	Simulate       bool   `json:"simulate"`
	SimulateDelay  string `json:"simulate_delay,omitempty"`
	Scheme         string `json:"scheme,omitempty"`
	BaseDomain     string `json:"base_domain,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	LoginTimeout   string `json:"login_timeout,omitempty"`
	ReadyTimeout   string `json:"ready_timeout,omitempty"`
	ConfirmTimeout string `json:"confirm_timeout,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	ConfirmText    string `json:"confirm_text,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
}

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    3,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
		DedupWindow:   "1m",
	}
}

func (c *Config) NotifierOrDefault() NotifierConfig {
	if c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}

type WebPushConfig struct {
	Enabled         bool   `json:"enabled"`
	VAPIDPublicKey  string `json:"vapid_public_key,omitempty"`
	VAPIDPrivateKey string `json:"vapid_private_key,omitempty"` // secret; never logged
	Subscriber      string `json:"subscriber,omitempty"`
	TTL             int    `json:"ttl,omitempty"`
}

// StorageConfig selects the calendar store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./checktime.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; secret
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type VaultConfig struct {
	Key string `json:"key,omitempty"` // secret; CHECKTIME_ENCRYPTION_KEY wins
}

// OpsConfig controls the optional health/status/pprof server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - A non-loopback bind needs a token or an explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify   *bool `json:"notify,omitempty"`
	Watchdog *bool `json:"watchdog,omitempty"`
}

func (s SystemdConfig) NotifyEnabled() bool   { return s.Notify == nil || *s.Notify }
func (s SystemdConfig) WatchdogEnabled() bool { return s.Watchdog == nil || *s.Watchdog }
