// Package logging sets up the server's slog loggers and adapts zerolog to
// the message dispatcher.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

const sessionStamp = "20060102_150405"

// LogFilePath names the log file of the session started at start.
func LogFilePath(logsDir, name string, start time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", name, start.Format(sessionStamp)))
}

// StatusFilePath names the status file the monitor rewrites while name runs.
func StatusFilePath(logsDir, name string) string {
	return filepath.Join(logsDir, name+".status.json")
}
