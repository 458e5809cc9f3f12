package spreadsheet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Columns are zero-based cell positions in a data row.
type Columns struct {
	Date      int `yaml:"date" json:"date"`
	FirstName int `yaml:"first_name" json:"first_name"`
	LastName  int `yaml:"last_name" json:"last_name"`
	Time      int `yaml:"time" json:"time"`
	Phone     int `yaml:"phone" json:"phone"`
}

type Layout struct {
	HeaderRows int     `yaml:"header_rows" json:"header_rows"`
	MinCells   int     `yaml:"min_cells" json:"min_cells"`
	Columns    Columns `yaml:"columns" json:"columns"`
}

// DefaultLayout is the export format of the appointment agenda.
func DefaultLayout() Layout {
	return Layout{
		HeaderRows: 1,
		MinCells:   6,
		Columns: Columns{
			Date:      0,
			FirstName: 3,
			LastName:  4,
			Time:      5,
			Phone:     9,
		},
	}
}

func LoadLayout(path string) (Layout, error) {
	if path == "" {
		return DefaultLayout(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultLayout(), err
	}

	layout := DefaultLayout()
	if err := yaml.Unmarshal(content, &layout); err != nil {
		return Layout{}, fmt.Errorf("parsing layout %s: %w", path, err)
	}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

func (l Layout) Validate() error {
	if l.HeaderRows < 0 {
		return errors.New("header_rows must not be negative")
	}
	if l.MinCells < 1 {
		return errors.New("min_cells must be at least 1")
	}
	c := l.Columns
	for name, idx := range map[string]int{
		"date": c.Date, "first_name": c.FirstName, "last_name": c.LastName,
		"time": c.Time, "phone": c.Phone,
	} {
		if idx < 0 {
			return fmt.Errorf("column %s must not be negative", name)
		}
	}
	return nil
}
