package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/appointment-intake/pkg/common/httpclient"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
)

var ErrDuplicate = errors.New("patient already exists")

// StatusError is a non-2xx, non-409 answer from the backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

type Result struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

func (r Result) Total() int {
	return r.Imported + r.Duplicates + r.Errors
}

type Importer struct {
	client   *http.Client
	endpoint string
	token    string
	attempts int
}

func New(client *http.Client, baseURL, token string, attempts int) *Importer {
	if client == nil {
		client = httpclient.New(30 * time.Second)
	}
	return &Importer{
		client:   client,
		endpoint: strings.TrimRight(baseURL, "/") + "/patients",
		token:    token,
		attempts: attempts,
	}
}

// Import posts the records one at a time. A failed record is logged and
// counted, never aborting the rest.
func (i *Importer) Import(ctx context.Context, records []models.CandidateRecord) Result {
	var res Result
	for _, rec := range records {
		err := i.Create(ctx, rec)
		switch {
		case err == nil:
			res.Imported++
		case errors.Is(err, ErrDuplicate):
			res.Duplicates++
		default:
			res.Errors++
			fields := logrus.Fields{"patient": rec.DisplayName()}
			var se *StatusError
			if errors.As(err, &se) {
				fields["status"] = se.StatusCode
				fields["message"] = se.Message
			}
			logger.Log.WithError(err).WithFields(fields).Error("failed to import patient")
		}
	}
	return res
}

// Create submits one record. It returns ErrDuplicate on 409 and *StatusError
// for any other rejection.
func (i *Importer) Create(ctx context.Context, rec models.CandidateRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding patient: %w", err)
	}

	return httpclient.Retry(ctx, i.attempts, 250*time.Millisecond, func() error {
		err := i.post(ctx, body)
		if err != nil && !httpclient.IsRetriable(err) {
			return httpclient.Permanent(err)
		}
		return err
	})
}

func (i *Importer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.token)

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting patient: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return ErrDuplicate
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
}

// readMessage prefers the backend's JSON "message" or "error" field and falls
// back to the raw body text.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
