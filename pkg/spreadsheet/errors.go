package spreadsheet

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyContent = errors.New("empty file content")

type StrategyError struct {
	Strategy string
	Err      error
}

func (e StrategyError) Error() string {
	return e.Strategy + ": " + e.Err.Error()
}

func (e StrategyError) Unwrap() error {
	return e.Err
}

// DecodeError is returned once every strategy has failed for a file.
type DecodeError struct {
	FileName string
	Attempts []StrategyError
}

func (e *DecodeError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("decoding %s failed: %s", e.FileName, strings.Join(parts, "; "))
}

func (e *DecodeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}

func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
