package spreadsheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
	"github.com/synaptica-ai/appointment-intake/pkg/normalize"
)

type Decoder struct {
	scratchDir string
	layout     Layout
	phones     normalize.PhoneNormalizer
	strategies []strategy
}

func NewDecoder(scratchDir string, layout Layout, phones normalize.PhoneNormalizer) *Decoder {
	return &Decoder{
		scratchDir: scratchDir,
		layout:     layout,
		phones:     phones,
		strategies: defaultStrategies(),
	}
}

// Decode turns the file content into candidate records.
func (d *Decoder) Decode(ctx context.Context, content []byte, fileName string) ([]models.CandidateRecord, error) {
	wb, used, err := d.DecodeWorkbook(ctx, content, fileName)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"file_name": fileName,
		"strategy":  used,
	}).Debug("workbook decoded")

	return d.Extract(wb), nil
}

// DecodeWorkbook runs the strategies in order and returns the first workbook
// together with the name of the strategy that produced it.
func (d *Decoder) DecodeWorkbook(ctx context.Context, content []byte, fileName string) (*Workbook, string, error) {
	decodeErr := &DecodeError{FileName: fileName}
	if len(content) == 0 {
		decodeErr.Attempts = append(decodeErr.Attempts, StrategyError{Strategy: "input", Err: ErrEmptyContent})
		return nil, "", decodeErr
	}

	src := &source{content: content, fileName: fileName, dir: d.scratchDir}
	defer func() {
		if err := src.cleanup(); err != nil {
			logger.Log.WithError(err).WithField("file_name", fileName).Warn("failed to remove scratch file")
		}
	}()

	for _, s := range d.strategies {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		wb, err := guard(func() (*Workbook, error) { return s.decode(src) })
		if err == nil && wb != nil {
			return wb, s.name, nil
		}
		if err == nil {
			err = errNoSheets
		}
		decodeErr.Attempts = append(decodeErr.Attempts, StrategyError{Strategy: s.name, Err: err})
	}

	return nil, "", decodeErr
}

// Extract reads appointment rows from the first sheet. Short rows and rows
// without any name are dropped silently; rows without a usable phone number
// are dropped with a log line.
func (d *Decoder) Extract(wb *Workbook) []models.CandidateRecord {
	sheet, ok := wb.First()
	if !ok {
		return nil
	}

	cols := d.layout.Columns
	records := make([]models.CandidateRecord, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		if i < d.layout.HeaderRows {
			continue
		}
		if len(row) < d.layout.MinCells {
			continue
		}

		firstName := cell(row, cols.FirstName)
		lastName := cell(row, cols.LastName)
		if firstName == "" && lastName == "" {
			continue
		}

		phone, ok := d.phones.Normalize(cell(row, cols.Phone))
		if !ok {
			logger.Log.WithFields(logrus.Fields{
				"sheet": sheet.Name,
				"row":   i + 1,
				"name":  strings.TrimSpace(firstName + " " + lastName),
			}).Warn("row skipped: no phone number")
			continue
		}

		records = append(records, models.NewCandidateRecord(
			lastName,
			firstName,
			phone,
			normalize.Date(cell(row, cols.Date)),
			normalize.Time(cell(row, cols.Time)),
		))
	}
	return records
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (d *Decoder) String() string {
	names := make([]string, 0, len(d.strategies))
	for _, s := range d.strategies {
		names = append(names, s.name)
	}
	return fmt.Sprintf("Decoder(%s)", strings.Join(names, " > "))
}
