package storage

import (
	"errors"
	"strings"

	logx "cuebot/pkg/logx"
)

// Open initializes the configured store. The engine requires persistence,
// so unlike optional subsystems there is no "none" driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
