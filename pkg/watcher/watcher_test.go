package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/appointment-intake/pkg/common/config"
	"github.com/synaptica-ai/appointment-intake/pkg/common/kafka"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
	"github.com/synaptica-ai/appointment-intake/pkg/drive"
	"github.com/synaptica-ai/appointment-intake/pkg/importer"
	"github.com/synaptica-ai/appointment-intake/pkg/ledger"
	"github.com/synaptica-ai/appointment-intake/pkg/normalize"
	"github.com/synaptica-ai/appointment-intake/pkg/spreadsheet"
	"github.com/xuri/excelize/v2"
)

const folderName = "Rappels_RDV_WhatsApp"

type memDrive struct {
	mu          sync.Mutex
	folders     map[string]string
	files       map[string][]models.DriveFile
	content     map[string][]byte
	downloadErr map[string]error
	deleteErr   map[string]error
	listErr     error
	deleted     []string
	moved       []string
	downloads   []string
}

func newMemDrive() *memDrive {
	return &memDrive{
		folders:     map[string]string{folderName: "folder-1"},
		files:       map[string][]models.DriveFile{},
		content:     map[string][]byte{},
		downloadErr: map[string]error{},
		deleteErr:   map[string]error{},
	}
}

func (m *memDrive) add(id, name string, content []byte) {
	m.files["folder-1"] = append(m.files["folder-1"], models.DriveFile{ID: id, Name: name})
	m.content[id] = content
}

func (m *memDrive) ListFolders(_ context.Context, name string) ([]models.DriveFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if id, ok := m.folders[name]; ok {
		return []models.DriveFolder{{ID: id, Name: name}}, nil
	}
	return nil, nil
}

func (m *memDrive) ListFiles(_ context.Context, folderID string) ([]models.DriveFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DriveFile(nil), m.files[folderID]...), nil
}

func (m *memDrive) Download(_ context.Context, file models.DriveFile) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, file.ID)
	if err := m.downloadErr[file.ID]; err != nil {
		return nil, err
	}
	return m.content[file.ID], nil
}

func (m *memDrive) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[fileID]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, fileID)
	return nil
}

func (m *memDrive) Move(_ context.Context, fileID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moved = append(m.moved, fileID+":"+from+">"+to)
	return nil
}

func (m *memDrive) EnsureFolder(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.folders[name]; ok {
		return id, nil
	}
	m.folders[name] = "quarantine-1"
	return "quarantine-1", nil
}

type memConnector struct {
	drive *memDrive
	err   error
}

func (c *memConnector) Connect(context.Context) (drive.Provider, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.drive, nil
}

type memLedger struct {
	entries []*ledger.Entry
}

func (l *memLedger) Record(_ context.Context, e *ledger.Entry) error {
	l.entries = append(l.entries, e)
	return nil
}

type memEvents struct {
	types []string
}

func (e *memEvents) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	e.types = append(e.types, eventType)
	return nil
}

type patientsBackend struct {
	mu       sync.Mutex
	received []models.CandidateRecord
	conflict map[string]bool
}

func (b *patientsBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var rec models.CandidateRecord
	_ = json.NewDecoder(r.Body).Decode(&rec)
	b.mu.Lock()
	b.received = append(b.received, rec)
	b.mu.Unlock()
	if b.conflict[rec.Phone] {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func agenda(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	header := []interface{}{"Date", "", "", "Prénom", "Nom", "Heure", "", "", "", "Téléphone"}
	for i, row := range append([][]interface{}{header}, rows...) {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, axis, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type fixture struct {
	drive   *memDrive
	backend *patientsBackend
	ledger  *memLedger
	events  *memEvents
	watcher *Watcher
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	logger.Discard()

	backend := &patientsBackend{conflict: map[string]bool{}}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	fx := &fixture{drive: newMemDrive(), backend: backend, ledger: &memLedger{}, events: &memEvents{}}
	dec := spreadsheet.NewDecoder(t.TempDir(), spreadsheet.DefaultLayout(), normalize.NewPhoneNormalizer("32"))
	imp := importer.New(nil, srv.URL+"/api", "admin-token", 1)
	fx.watcher = New(&memConnector{drive: fx.drive}, dec, imp, Options{
		FolderName:          folderName,
		DecodeFailurePolicy: policy,
		QuarantineFolder:    "Quarantaine",
	}, WithLedger(fx.ledger), WithEvents(fx.events))
	return fx
}

func TestSweepEndToEnd(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.add("f1", "agenda.xlsx", agenda(t,
		[]interface{}{"15-03-2024", "", "", "Jean", "Dupont", "8:30", "", "", "", "0471 23 45 67"},
		[]interface{}{"15-03-2024", "", "", "Marie", "Lambert", "9:00", "", "", "", ""},
	))

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	require.True(t, report.FolderFound)
	require.Len(t, report.Files, 1)

	require.Len(t, fx.backend.received, 1)
	assert.Equal(t, models.CandidateRecord{
		LastName: "Dupont", FirstName: "Jean", Phone: "+32471234567",
		AppointmentDate: "2024-03-15", AppointmentTime: "08:30",
		SendStatus: "pending", ResponseStatus: "pending", IsNew: true,
	}, fx.backend.received[0])

	file := report.Files[0]
	assert.Equal(t, importer.Result{Imported: 1}, file.Result)
	assert.Equal(t, 1, file.Records)
	assert.Equal(t, spreadsheet.StrategyXLSXBuffer, file.Strategy)
	assert.Equal(t, ledger.DispositionDeleted, file.Disposition)
	assert.Equal(t, []string{"f1"}, fx.drive.deleted)

	require.Len(t, fx.ledger.entries, 1)
	assert.Equal(t, ledger.StatusImported, fx.ledger.entries[0].Status)
	assert.Equal(t, report.ID, fx.ledger.entries[0].SweepID)
	assert.Equal(t, []string{kafka.EventFileProcessed, kafka.EventSweepCompleted}, fx.events.types)
}

func TestSweepDuplicatesAreNotErrors(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.backend.conflict["+32471000001"] = true
	fx.drive.add("f1", "agenda.xlsx", agenda(t,
		[]interface{}{"15-03-2024", "", "", "A", "One", "8:30", "", "", "", "0471000001"},
		[]interface{}{"15-03-2024", "", "", "B", "Two", "8:45", "", "", "", "0471000002"},
	))

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, importer.Result{Imported: 1, Duplicates: 1}, report.Totals())
	assert.Len(t, fx.backend.received, 2)
}

func TestSweepAuthFailureAborts(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.watcher.connector = &memConnector{err: drive.ErrAuth}

	report, err := fx.watcher.Sweep(context.Background())
	assert.ErrorIs(t, err, drive.ErrAuth)
	assert.False(t, report.FolderFound)
	assert.Empty(t, fx.drive.downloads)
}

func TestSweepFolderMissingIsNotAnError(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	delete(fx.drive.folders, folderName)

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, report.FolderFound)
	assert.Empty(t, report.Files)
}

func TestSweepListingFailureIsNotAnError(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.listErr = errors.New("quota exceeded")

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Files)
}

func TestSweepEmptyFolder(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, report.FolderFound)
	assert.Empty(t, report.Files)
	assert.Empty(t, fx.events.types)
}

func TestSweepIsolatesFileFailures(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.add("broken-download", "a.xlsx", nil)
	fx.drive.downloadErr["broken-download"] = errors.New("connection reset")
	fx.drive.add("garbage", "b.xls", []byte("not a workbook"))
	fx.drive.add("good", "c.xlsx", agenda(t,
		[]interface{}{"15-03-2024", "", "", "Jean", "Dupont", "8:30", "", "", "", "0471234567"},
	))

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 3)

	assert.Equal(t, ledger.StatusDownloadFailed, report.Files[0].Status)
	assert.Equal(t, ledger.DispositionKept, report.Files[0].Disposition)

	assert.Equal(t, ledger.StatusDecodeFailed, report.Files[1].Status)
	assert.True(t, spreadsheet.IsDecodeError(report.Files[1].Err))
	assert.Equal(t, ledger.DispositionDeleted, report.Files[1].Disposition)

	assert.Equal(t, ledger.StatusImported, report.Files[2].Status)
	assert.Equal(t, 1, report.Totals().Imported)
	assert.Equal(t, 2, report.FailedFiles())

	assert.Equal(t, []string{"garbage", "good"}, fx.drive.deleted, "download failures are never deleted")
}

func TestSweepQuarantinePolicy(t *testing.T) {
	fx := newFixture(t, config.PolicyQuarantine)
	fx.drive.add("g1", "b.xls", []byte("not a workbook"))
	fx.drive.add("g2", "c.xls", []byte("still not a workbook"))

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.Equal(t, ledger.DispositionQuarantined, report.Files[0].Disposition)
	assert.Empty(t, fx.drive.deleted)
	assert.Equal(t, []string{"g1:folder-1>quarantine-1", "g2:folder-1>quarantine-1"}, fx.drive.moved)
}

func TestSweepKeepPolicy(t *testing.T) {
	fx := newFixture(t, config.PolicyKeep)
	fx.drive.add("g1", "b.xls", []byte("not a workbook"))

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.DispositionKept, report.Files[0].Disposition)
	assert.Empty(t, fx.drive.deleted)
	assert.Empty(t, fx.drive.moved)
}

func TestSweepDeleteFailureIsWarningOnly(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.add("f1", "agenda.xlsx", agenda(t,
		[]interface{}{"15-03-2024", "", "", "Jean", "Dupont", "8:30", "", "", "", "0471234567"},
	))
	fx.drive.deleteErr["f1"] = errors.New("insufficient permissions")

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	file := report.Files[0]
	assert.NoError(t, file.Err)
	assert.Equal(t, ledger.DispositionDeleteFailed, file.Disposition)
	assert.Equal(t, 1, file.Result.Imported)
}

func TestSweepEmptySheetStillDeletes(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.add("f1", "agenda.xlsx", agenda(t))

	report, err := fx.watcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files[0].Records)
	assert.Empty(t, fx.backend.received)
	assert.Equal(t, []string{"f1"}, fx.drive.deleted)
}

func TestSweepStopsOnCancel(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.add("f1", "agenda.xlsx", agenda(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := fx.watcher.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.Empty(t, fx.drive.downloads)
}

// cancellingDecoder stops the sweep while a file is being decoded.
type cancellingDecoder struct {
	*spreadsheet.Decoder
	cancel context.CancelFunc
}

func (d cancellingDecoder) DecodeWorkbook(ctx context.Context, content []byte, name string) (*spreadsheet.Workbook, string, error) {
	d.cancel()
	return d.Decoder.DecodeWorkbook(ctx, content, name)
}

func TestSweepCancelledDuringDecodeKeepsFile(t *testing.T) {
	fx := newFixture(t, config.PolicyDelete)
	fx.drive.add("f1", "agenda.xlsx", agenda(t,
		[]interface{}{"15-03-2024", "", "", "Jean", "Dupont", "8:30", "", "", "", "0471 23 45 67"},
	))
	fx.drive.add("f2", "agenda2.xlsx", agenda(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dec := cancellingDecoder{
		Decoder: spreadsheet.NewDecoder(t.TempDir(), spreadsheet.DefaultLayout(), normalize.NewPhoneNormalizer("32")),
		cancel:  cancel,
	}
	fx.watcher.decoder = dec

	report, err := fx.watcher.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, report.Files, 1, "no further file after cancellation")

	file := report.Files[0]
	assert.Equal(t, ledger.StatusInterrupted, file.Status)
	assert.Equal(t, ledger.DispositionKept, file.Disposition)
	assert.ErrorIs(t, file.Err, context.Canceled)
	assert.False(t, spreadsheet.IsDecodeError(file.Err))

	assert.Empty(t, fx.drive.deleted)
	assert.Empty(t, fx.drive.moved)
	assert.Empty(t, fx.backend.received)
	require.Len(t, fx.ledger.entries, 1)
	assert.Equal(t, ledger.StatusInterrupted, fx.ledger.entries[0].Status)
}
