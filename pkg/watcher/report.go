package watcher

import (
	"time"

	"github.com/synaptica-ai/appointment-intake/pkg/importer"
)

type FileReport struct {
	FileID      string
	FileName    string
	Status      string
	Disposition string
	Strategy    string
	Records     int
	Result      importer.Result
	Err         error
}

func (f FileReport) Failed() bool {
	return f.Err != nil
}

type SweepReport struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	FolderFound bool
	Files       []FileReport
}

func (r *SweepReport) Totals() importer.Result {
	var total importer.Result
	for _, f := range r.Files {
		total.Imported += f.Result.Imported
		total.Duplicates += f.Result.Duplicates
		total.Errors += f.Result.Errors
	}
	return total
}

func (r *SweepReport) FailedFiles() int {
	n := 0
	for _, f := range r.Files {
		if f.Failed() {
			n++
		}
	}
	return n
}
