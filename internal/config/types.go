package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls the task scheduling engine.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier controls the outbound notification sender.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Agent controls the agent runner used for agent_run tasks and for
	// fallback parsing of free-form schedule text.
	Agent *AgentConfig `json:"agent,omitempty"`

	Storage StorageConfig `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls trigger behavior and failure accounting.
//
// All durations are Go duration strings (e.g. "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Local"
//   - failure_threshold: 3
//   - exec_timeout: "5m"
type SchedulerConfig struct {
	// Timezone is the IANA zone used for new tasks ("Asia/Shanghai", "UTC").
	Timezone string `json:"timezone,omitempty"`

	// FailureThreshold is the number of consecutive failed runs after which
	// a task is marked failed and stops being scheduled.
	FailureThreshold int `json:"failure_threshold,omitempty"`

	// ExecTimeout bounds a single task execution. "0s" disables the bound.
	ExecTimeout string `json:"exec_timeout,omitempty"`
}

// NotifierConfig controls the outbound notification sender.
// If the whole section is omitted, the notifier defaults to rate_per_sec=3.
type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec"`
	QueueSize  int `json:"queue_size,omitempty"`
}

// AgentConfig controls the agent runner.
//
// FallbackEnabled gates the second-chance parse: when the rule-based parser
// yields low confidence, the raw text is handed to the agent.
type AgentConfig struct {
	FallbackEnabled bool `json:"fallback_enabled"`
	// FallbackTimeout is a Go duration string bounding one fallback call.
	FallbackTimeout string `json:"fallback_timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cuebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
