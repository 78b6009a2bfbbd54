// Package metrics provides functions to record metrics data.
// It is a very thin layer that writes counters to local CSV
// files, which is enough for simple setups.
package metrics

import (
	"encoding/csv"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMetricsFileIn  = "spate_metrics_in.csv"
	DefaultMetricsFileOut = "spate_metrics_out.csv"
)

var (
	muIn  sync.Mutex
	muOut sync.Mutex
)

// CountRequest counts inbound requests dispatched by the coordinator
// as a metric: one line per request, with its wire name and outcome
// ("ok", or a terse failure label).
func CountRequest(l zerolog.Logger, t time.Time, name, outcome string) {
	muIn.Lock()
	defer muIn.Unlock()

	record := []string{t.Format(time.RFC3339), name, outcome}
	writeLineToFile(&l, DefaultMetricsFileIn, record)
}

// CountCall counts outbound RPC calls as a metric.
func CountCall(t time.Time, name string, err error) {
	muOut.Lock()
	defer muOut.Unlock()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	record := []string{t.Format(time.RFC3339), name, errMsg}
	writeLineToFile(nil, DefaultMetricsFileOut, record)
}

func writeLineToFile(l *zerolog.Logger, filename string, record []string) {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if l != nil {
			l.Error().Err(err).Msg("failed to open metrics file")
		}
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		if l != nil {
			l.Error().Err(err).Msg("failed to write metrics file")
		}
	}
	w.Flush()
}
