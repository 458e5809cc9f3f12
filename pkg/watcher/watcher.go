package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/appointment-intake/pkg/common/config"
	"github.com/synaptica-ai/appointment-intake/pkg/common/kafka"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
	"github.com/synaptica-ai/appointment-intake/pkg/drive"
	"github.com/synaptica-ai/appointment-intake/pkg/importer"
	"github.com/synaptica-ai/appointment-intake/pkg/ledger"
	"github.com/synaptica-ai/appointment-intake/pkg/observability/metrics"
	"github.com/synaptica-ai/appointment-intake/pkg/spreadsheet"
)

const eventSource = "drive-watcher"

type Decoder interface {
	DecodeWorkbook(ctx context.Context, content []byte, fileName string) (*spreadsheet.Workbook, string, error)
	Extract(wb *spreadsheet.Workbook) []models.CandidateRecord
}

type Importer interface {
	Import(ctx context.Context, records []models.CandidateRecord) importer.Result
}

type Ledger interface {
	Record(ctx context.Context, e *ledger.Entry) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Options struct {
	FolderName          string
	DecodeFailurePolicy string
	QuarantineFolder    string
}

type Option func(*Watcher)

func WithLedger(l Ledger) Option {
	return func(w *Watcher) { w.ledger = l }
}

func WithEvents(p Publisher) Option {
	return func(w *Watcher) { w.events = p }
}

type Watcher struct {
	connector drive.Connector
	decoder   Decoder
	importer  Importer
	ledger    Ledger
	events    Publisher
	opts      Options
}

func New(connector drive.Connector, decoder Decoder, imp Importer, opts Options, options ...Option) *Watcher {
	if opts.DecodeFailurePolicy == "" {
		opts.DecodeFailurePolicy = config.PolicyDelete
	}
	w := &Watcher{
		connector: connector,
		decoder:   decoder,
		importer:  imp,
		opts:      opts,
	}
	for _, o := range options {
		o(w)
	}
	return w
}

// sweepState is what one sweep learns along the way.
type sweepState struct {
	id           string
	provider     drive.Provider
	folderID     string
	quarantineID string
	log          *logrus.Entry
}

// Sweep lists the monitored folder and processes every spreadsheet in it,
// one file at a time. Only an authentication failure is returned as an
// error; everything per-file is logged and reflected in the report.
func (w *Watcher) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{ID: uuid.New().String(), StartedAt: time.Now().UTC()}
	log := logger.Log.WithField("sweep_id", report.ID)
	metrics.ObserveSweepStarted()

	defer func() {
		report.FinishedAt = time.Now().UTC()
	}()

	provider, err := w.connector.Connect(ctx)
	if err != nil {
		metrics.ObserveSweepFailed()
		log.WithError(err).Error("drive authentication failed, sweep aborted")
		return report, err
	}

	folders, err := provider.ListFolders(ctx, w.opts.FolderName)
	if err != nil {
		log.WithError(err).WithField("folder", w.opts.FolderName).Warn("could not list folders")
		return report, nil
	}
	if len(folders) == 0 {
		log.WithField("folder", w.opts.FolderName).Info("folder not found")
		return report, nil
	}
	report.FolderFound = true

	st := &sweepState{id: report.ID, provider: provider, folderID: folders[0].ID, log: log}

	files, err := provider.ListFiles(ctx, st.folderID)
	if err != nil {
		log.WithError(err).Warn("could not list files")
		return report, nil
	}
	if len(files) == 0 {
		log.Info("no new files")
		return report, nil
	}

	log.WithField("count", len(files)).Info("new files detected")
	for _, file := range files {
		if ctx.Err() != nil {
			log.Warn("sweep cancelled, remaining files left for the next run")
			break
		}
		report.Files = append(report.Files, w.processFile(ctx, st, file))
	}

	totals := report.Totals()
	log.WithFields(logrus.Fields{
		"files":      len(report.Files),
		"failed":     report.FailedFiles(),
		"imported":   totals.Imported,
		"duplicates": totals.Duplicates,
		"errors":     totals.Errors,
	}).Info("sweep finished")

	w.publish(ctx, kafka.EventSweepCompleted, map[string]interface{}{
		"sweep_id":   report.ID,
		"files":      len(report.Files),
		"failed":     report.FailedFiles(),
		"imported":   totals.Imported,
		"duplicates": totals.Duplicates,
		"errors":     totals.Errors,
	})

	return report, nil
}

// processFile runs download, decode, import and retention for one file.
// Retention is skipped when the download failed or the decode was cancelled.
func (w *Watcher) processFile(ctx context.Context, st *sweepState, file models.DriveFile) FileReport {
	rep := FileReport{FileID: file.ID, FileName: file.Name}
	log := st.log.WithFields(logrus.Fields{"file_id": file.ID, "file_name": file.Name})
	log.Info("processing file")

	content, err := st.provider.Download(ctx, file)
	if err != nil {
		rep.Status = ledger.StatusDownloadFailed
		rep.Disposition = ledger.DispositionKept
		rep.Err = err
		log.WithError(err).Error("download failed, file left in place")
		w.finish(ctx, st, rep)
		return rep
	}

	wb, strategy, err := w.decoder.DecodeWorkbook(ctx, content, file.Name)
	if err != nil && !spreadsheet.IsDecodeError(err) {
		// Cancelled mid-decode: the content was never judged, keep the file.
		rep.Status = ledger.StatusInterrupted
		rep.Disposition = ledger.DispositionKept
		rep.Err = err
		log.WithError(err).Warn("decode interrupted, file left in place")
		w.finish(ctx, st, rep)
		return rep
	}
	if err != nil {
		rep.Status = ledger.StatusDecodeFailed
		rep.Err = err
		log.WithError(err).Error("could not decode spreadsheet")
		rep.Disposition = w.disposeUndecodable(ctx, st, file, log)
		w.finish(ctx, st, rep)
		return rep
	}

	rep.Strategy = strategy
	metrics.ObserveDecodeStrategy(strategy)

	records := w.decoder.Extract(wb)
	rep.Records = len(records)
	rep.Status = ledger.StatusImported
	log.WithFields(logrus.Fields{"records": len(records), "strategy": strategy}).Info("patients found")

	if len(records) > 0 {
		rep.Result = w.importer.Import(ctx, records)
		log.WithFields(logrus.Fields{
			"imported":   rep.Result.Imported,
			"duplicates": rep.Result.Duplicates,
			"errors":     rep.Result.Errors,
		}).Info("import finished")
	} else {
		log.Warn("no patient to import")
	}

	rep.Disposition = w.remove(ctx, st, file, log)
	w.finish(ctx, st, rep)
	return rep
}

func (w *Watcher) disposeUndecodable(ctx context.Context, st *sweepState, file models.DriveFile, log *logrus.Entry) string {
	switch w.opts.DecodeFailurePolicy {
	case config.PolicyKeep:
		log.Warn("undecodable file kept, it will be retried next sweep")
		return ledger.DispositionKept
	case config.PolicyQuarantine:
		if err := w.quarantine(ctx, st, file); err != nil {
			log.WithError(err).Warn("could not quarantine file, left in place")
			return ledger.DispositionKept
		}
		metrics.ObserveQuarantined()
		log.WithField("quarantine", w.opts.QuarantineFolder).Warn("undecodable file quarantined")
		return ledger.DispositionQuarantined
	}

	log.Warn("discarding undecodable file, its rows were never imported")
	return w.remove(ctx, st, file, log)
}

func (w *Watcher) quarantine(ctx context.Context, st *sweepState, file models.DriveFile) error {
	if w.opts.QuarantineFolder == "" {
		return errors.New("no quarantine folder configured")
	}
	if st.quarantineID == "" {
		id, err := st.provider.EnsureFolder(ctx, w.opts.QuarantineFolder)
		if err != nil {
			return err
		}
		st.quarantineID = id
	}
	return st.provider.Move(ctx, file.ID, st.folderID, st.quarantineID)
}

// remove deletes the source file for retention. A failure leaves the file in
// the folder, where the next sweep will pick it up again.
func (w *Watcher) remove(ctx context.Context, st *sweepState, file models.DriveFile, log *logrus.Entry) string {
	if err := st.provider.Delete(ctx, file.ID); err != nil {
		log.WithError(err).Warn("could not delete source file")
		return ledger.DispositionDeleteFailed
	}
	metrics.ObserveDeleted()
	log.Info("source file deleted")
	return ledger.DispositionDeleted
}

func (w *Watcher) finish(ctx context.Context, st *sweepState, rep FileReport) {
	metrics.ObserveFile(rep.Failed())
	metrics.ObserveRecords(rep.Result.Imported, rep.Result.Duplicates, rep.Result.Errors)

	var errMsg string
	if rep.Err != nil {
		errMsg = rep.Err.Error()
	}

	if w.ledger != nil {
		entry := &ledger.Entry{
			SweepID:     st.id,
			DriveFileID: rep.FileID,
			FileName:    rep.FileName,
			Status:      rep.Status,
			Disposition: rep.Disposition,
			Records:     rep.Records,
			Imported:    rep.Result.Imported,
			Duplicates:  rep.Result.Duplicates,
			Errors:      rep.Result.Errors,
			Error:       errMsg,
			Details:     map[string]interface{}{"strategy": rep.Strategy},
		}
		if err := w.ledger.Record(ctx, entry); err != nil {
			st.log.WithError(err).WithField("file_id", rep.FileID).Warn("could not write ledger entry")
		}
	}

	w.publish(ctx, kafka.EventFileProcessed, map[string]interface{}{
		"sweep_id":    st.id,
		"file_id":     rep.FileID,
		"file_name":   rep.FileName,
		"status":      rep.Status,
		"disposition": rep.Disposition,
		"records":     rep.Records,
		"imported":    rep.Result.Imported,
		"duplicates":  rep.Result.Duplicates,
		"errors":      rep.Result.Errors,
		"error":       errMsg,
	})
}

func (w *Watcher) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if w.events == nil {
		return
	}
	if err := w.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("could not publish event")
	}
}
