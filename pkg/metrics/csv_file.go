// Package metrics records simple CSV-file metrics for command
// submission and completion. It is a thin, dependency-free
// alternative to a full metrics backend, suitable for small
// deployments that just want a local audit trail.
package metrics

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tzrikka/xdg"
)

const (
	DefaultMetricsFileSubmitted = "metrics/gorouteros_submitted_%s.csv"
	DefaultMetricsFileCompleted = "metrics/gorouteros_completed_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

var (
	muSubmitted sync.Mutex
	muCompleted sync.Mutex
)

// RecordCommandSubmitted logs a command as it's written to the
// connection.
func RecordCommandSubmitted(t time.Time, path string, tag uint16) {
	muSubmitted.Lock()
	defer muSubmitted.Unlock()

	record := []string{t.Format(time.RFC3339), path, strconv.FormatUint(uint64(tag), 10)}
	if err := appendToCSVFile(DefaultMetricsFileSubmitted, t, record); err != nil {
		slog.Default().Error("metrics error: failed to record submitted command", slog.Any("error", err),
			slog.String("path", path), slog.Uint64("tag", uint64(tag)))
	}
}

// RecordCommandCompleted logs the terminal outcome of a previously
// submitted command: the response kind it ended on, how long it took,
// and any connection-level error that ended it early.
func RecordCommandCompleted(t time.Time, path string, tag uint16, kind string, elapsed time.Duration, err error) {
	muCompleted.Lock()
	defer muCompleted.Unlock()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	record := []string{
		t.Format(time.RFC3339), path, strconv.FormatUint(uint64(tag), 10),
		kind, elapsed.String(), errMsg,
	}
	if err := appendToCSVFile(DefaultMetricsFileCompleted, t, record); err != nil {
		slog.Default().Error("metrics error: failed to record completed command", slog.Any("error", err),
			slog.String("path", path), slog.Uint64("tag", uint64(tag)))
	}
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return nil
}
