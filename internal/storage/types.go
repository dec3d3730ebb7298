package storage

import "time"

// Config configures the slot store database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
