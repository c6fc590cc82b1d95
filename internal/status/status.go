// Package status delivers human-readable progress and failure reports to
// whatever surface hosts the core: the CLI, a UI bridge, or a test recorder.
package status

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Reporter receives status lines from the core. Reporting is fire-and-forget:
// implementations must be safe for concurrent use and must never panic.
type Reporter interface {
	Report(msg string, isErr bool)
}

// Log is the default Reporter, backed by pterm's leveled logger.
type Log struct{}

func (Log) Report(msg string, isErr bool) {
	if isErr {
		pterm.DefaultLogger.Error(msg)
		return
	}
	pterm.DefaultLogger.Info(msg)
}

// Nop discards every report.
type Nop struct{}

func (Nop) Report(string, bool) {}

// Reportf formats and forwards a report. A nil Reporter is tolerated so
// callers never have to branch before reporting.
func Reportf(r Reporter, isErr bool, format string, args ...any) {
	if r == nil {
		return
	}
	r.Report(fmt.Sprintf(format, args...), isErr)
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
