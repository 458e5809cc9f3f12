package ledger

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusImported       = "imported"
	StatusDecodeFailed   = "decode_failed"
	StatusDownloadFailed = "download_failed"
	StatusInterrupted    = "interrupted"

	DispositionDeleted      = "deleted"
	DispositionQuarantined  = "quarantined"
	DispositionKept         = "kept"
	DispositionDeleteFailed = "delete_failed"
)

// Entry is one handled file. The ledger is history only; the Drive folder
// stays the source of truth for what is pending.
type Entry struct {
	ID          string            `json:"id" gorm:"primaryKey;column:id"`
	SweepID     string            `json:"sweep_id" gorm:"column:sweep_id;index"`
	DriveFileID string            `json:"drive_file_id" gorm:"column:drive_file_id;index"`
	FileName    string            `json:"file_name" gorm:"column:file_name"`
	Status      string            `json:"status" gorm:"column:status"`
	Disposition string            `json:"disposition" gorm:"column:disposition"`
	Records     int               `json:"records" gorm:"column:records"`
	Imported    int               `json:"imported" gorm:"column:imported"`
	Duplicates  int               `json:"duplicates" gorm:"column:duplicates"`
	Errors      int               `json:"errors" gorm:"column:errors"`
	Error       string            `json:"error,omitempty" gorm:"column:error"`
	Details     datatypes.JSONMap `json:"details,omitempty" gorm:"column:details"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at;index"`
}

func (Entry) TableName() string {
	return "processed_files"
}
