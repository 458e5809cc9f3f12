package spreadsheet

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	StrategyXLSXBuffer   = "xlsx-buffer"
	StrategyXLSBuffer    = "xls-buffer"
	StrategyBase64       = "base64"
	StrategyXLSXScratch  = "xlsx-scratch"
	StrategyXLSScratch   = "xls-scratch"
	StrategyBinaryString = "binary-string"
)

var errNotBase64 = errors.New("content is not base64 text")

// strategy turns the downloaded bytes into a Workbook one particular way.
type strategy struct {
	name   string
	decode func(src *source) (*Workbook, error)
}

// defaultStrategies is the fixed try order. Buffer strategies come first,
// scratch file strategies last.
func defaultStrategies() []strategy {
	return []strategy{
		{name: StrategyXLSXBuffer, decode: func(src *source) (*Workbook, error) {
			return readXLSX(bytes.NewReader(src.content))
		}},
		{name: StrategyXLSBuffer, decode: func(src *source) (*Workbook, error) {
			return readXLS(bytes.NewReader(src.content))
		}},
		{name: StrategyBase64, decode: decodeBase64},
		{name: StrategyXLSXScratch, decode: func(src *source) (*Workbook, error) {
			path, err := src.scratch()
			if err != nil {
				return nil, err
			}
			return readXLSXFile(path)
		}},
		{name: StrategyXLSScratch, decode: func(src *source) (*Workbook, error) {
			path, err := src.scratch()
			if err != nil {
				return nil, err
			}
			return readXLSFile(path)
		}},
		{name: StrategyBinaryString, decode: decodeBinaryString},
	}
}

func decodeBase64(src *source) (*Workbook, error) {
	text := strings.Join(strings.Fields(string(src.content)), "")
	if text == "" {
		return nil, errNotBase64
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotBase64, err)
	}
	return readEither(raw)
}

// decodeBinaryString reads the scratch file back as text and folds every rune
// to a single Latin-1 byte. That undoes a transport that UTF-8 encoded each
// byte of the binary payload.
func decodeBinaryString(src *source) (*Workbook, error) {
	path, err := src.scratch()
	if err != nil {
		return nil, err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := charmap.ISO8859_1.NewEncoder().Bytes(text)
	if err != nil {
		return nil, fmt.Errorf("folding to latin-1: %w", err)
	}
	return readEither(raw)
}

func readEither(raw []byte) (*Workbook, error) {
	wb, xlsxErr := readXLSX(bytes.NewReader(raw))
	if xlsxErr == nil {
		return wb, nil
	}
	wb, xlsErr := guard(func() (*Workbook, error) { return readXLS(bytes.NewReader(raw)) })
	if xlsErr == nil {
		return wb, nil
	}
	return nil, fmt.Errorf("xlsx: %v; xls: %v", xlsxErr, xlsErr)
}

// source carries the content through the chain and owns the scratch file,
// which is created on first use.
type source struct {
	content  []byte
	fileName string
	dir      string

	path    string
	pathErr error
	created bool
}

func (s *source) scratch() (string, error) {
	if s.created {
		return s.path, s.pathErr
	}
	s.created = true

	ext := strings.ToLower(filepath.Ext(s.fileName))
	if ext == "" {
		ext = ".bin"
	}
	f, err := os.CreateTemp(s.dir, "intake-*"+ext)
	if err != nil {
		s.pathErr = fmt.Errorf("creating scratch file: %w", err)
		return "", s.pathErr
	}
	s.path = f.Name()

	if _, err := f.Write(s.content); err != nil {
		f.Close()
		s.pathErr = fmt.Errorf("writing scratch file: %w", err)
		return "", s.pathErr
	}
	if err := f.Close(); err != nil {
		s.pathErr = fmt.Errorf("closing scratch file: %w", err)
		return "", s.pathErr
	}
	return s.path, nil
}

func (s *source) cleanup() error {
	if s.path == "" {
		return nil
	}
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	s.path = ""
	return err
}

// guard converts a panic inside a third-party reader into an error.
func guard(fn func() (*Workbook, error)) (wb *Workbook, err error) {
	defer func() {
		if r := recover(); r != nil {
			wb = nil
			err = fmt.Errorf("reader panic: %v", r)
		}
	}()
	return fn()
}
