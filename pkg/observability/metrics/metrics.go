package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	sweepsStarted     atomic.Int64
	sweepsSkipped     atomic.Int64
	sweepsFailed      atomic.Int64
	filesProcessed    atomic.Int64
	filesFailed       atomic.Int64
	filesDeleted      atomic.Int64
	filesQuarantined  atomic.Int64
	recordsImported   atomic.Int64
	recordsDuplicate  atomic.Int64
	recordsFailed     atomic.Int64
	lastSweepUnixSecs atomic.Int64

	strategyMu   sync.Mutex
	strategyHits = map[string]int64{}
)

func ObserveSweepStarted() {
	sweepsStarted.Add(1)
	lastSweepUnixSecs.Store(time.Now().Unix())
}

func ObserveSweepSkipped() { sweepsSkipped.Add(1) }
func ObserveSweepFailed()  { sweepsFailed.Add(1) }

func ObserveFile(failed bool) {
	if failed {
		filesFailed.Add(1)
		return
	}
	filesProcessed.Add(1)
}

func ObserveDeleted()     { filesDeleted.Add(1) }
func ObserveQuarantined() { filesQuarantined.Add(1) }

func ObserveRecords(imported, duplicates, failed int) {
	recordsImported.Add(int64(imported))
	recordsDuplicate.Add(int64(duplicates))
	recordsFailed.Add(int64(failed))
}

func ObserveDecodeStrategy(name string) {
	strategyMu.Lock()
	strategyHits[name]++
	strategyMu.Unlock()
}

// Reset zeroes every counter. Tests only.
func Reset() {
	for _, c := range []*atomic.Int64{
		&sweepsStarted, &sweepsSkipped, &sweepsFailed, &filesProcessed, &filesFailed,
		&filesDeleted, &filesQuarantined, &recordsImported, &recordsDuplicate,
		&recordsFailed, &lastSweepUnixSecs,
	} {
		c.Store(0)
	}
	strategyMu.Lock()
	strategyHits = map[string]int64{}
	strategyMu.Unlock()
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	Write(w)
}

func Write(w io.Writer) {
	counter(w, "intake_sweeps_started_total", "Sweeps started since process start.", sweepsStarted.Load())
	counter(w, "intake_sweeps_skipped_total", "Scheduled sweeps skipped because another sweep held the lock.", sweepsSkipped.Load())
	counter(w, "intake_sweeps_failed_total", "Sweeps aborted before processing files.", sweepsFailed.Load())
	counter(w, "intake_files_processed_total", "Files downloaded, decoded and imported.", filesProcessed.Load())
	counter(w, "intake_files_failed_total", "Files whose download or decode failed.", filesFailed.Load())
	counter(w, "intake_files_deleted_total", "Source files removed for retention.", filesDeleted.Load())
	counter(w, "intake_files_quarantined_total", "Undecodable files moved to the quarantine folder.", filesQuarantined.Load())
	counter(w, "intake_records_imported_total", "Patients accepted by the backend.", recordsImported.Load())
	counter(w, "intake_records_duplicate_total", "Patients rejected as already existing.", recordsDuplicate.Load())
	counter(w, "intake_records_failed_total", "Patients the backend did not accept.", recordsFailed.Load())

	fmt.Fprintf(w, "# HELP intake_last_sweep_timestamp_seconds Unix time of the latest sweep start.\n")
	fmt.Fprintf(w, "# TYPE intake_last_sweep_timestamp_seconds gauge\n")
	fmt.Fprintf(w, "intake_last_sweep_timestamp_seconds %d\n", lastSweepUnixSecs.Load())

	strategyMu.Lock()
	names := make([]string, 0, len(strategyHits))
	for name := range strategyHits {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "# HELP intake_decode_strategy_total Workbooks decoded per strategy.\n")
	fmt.Fprintf(w, "# TYPE intake_decode_strategy_total counter\n")
	for _, name := range names {
		fmt.Fprintf(w, "intake_decode_strategy_total{strategy=%q} %d\n", name, strategyHits[name])
	}
	strategyMu.Unlock()
}

func counter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
