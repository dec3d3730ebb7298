package config

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Mirror   MirrorConfig    `json:"mirror"`
	Reminder ReminderConfig  `json:"reminder"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the authoritative booking database.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MirrorConfig points at the JSON document shared with the chat front end.
type MirrorConfig struct {
	Path string `json:"path"`
}

// ReminderConfig controls the expiry/reminder loop.
// All durations are Go duration strings (e.g. "1m", "24h").
type ReminderConfig struct {
	Enabled bool `json:"enabled"`
	// Tick is the reminder cadence; default "1m".
	Tick string `json:"tick,omitempty"`
	// A booking is announced when lead_min < start-now <= lead_max.
	// Defaults: "4m" and "5m".
	LeadMin string `json:"lead_min,omitempty"`
	LeadMax string `json:"lead_max,omitempty"`
	// Retention is measured from each entry's request_time; default "24h".
	Retention   string `json:"retention,omitempty"`
	HorizonDays int    `json:"horizon_days,omitempty"`
}

// TelegramConfig enables reminder delivery to a chat. If the whole section
// is omitted, reminders go to the daemon log instead.
type TelegramConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}
