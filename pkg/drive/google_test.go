package drive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	mu       sync.Mutex
	queries  []string
	orderBy  []string
	deleted  []string
	exported []string
	patched  []string
	created  []string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/drive/v3/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "files" && r.Method == http.MethodGet:
		q := r.URL.Query().Get("q")
		f.queries = append(f.queries, q)
		f.orderBy = append(f.orderBy, r.URL.Query().Get("orderBy"))
		if strings.Contains(q, MimeFolder) {
			if strings.Contains(q, "Absent") {
				json.NewEncoder(w).Encode(map[string]interface{}{"files": []interface{}{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"files": []map[string]string{{"id": "folder-1", "name": "Rappels"}},
			})
			return
		}
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"nextPageToken": "p2",
				"files": []map[string]string{
					{"id": "f2", "name": "b.xlsx", "mimeType": MimeXLSX, "createdTime": "2024-03-15T10:00:00Z"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"files": []map[string]string{
				{"id": "f1", "name": "a.xls", "mimeType": MimeXLS, "createdTime": "2024-03-14T10:00:00Z"},
			},
		})
	case path == "files" && r.Method == http.MethodPost:
		f.created = append(f.created, r.URL.RawQuery)
		json.NewEncoder(w).Encode(map[string]string{"id": "new-folder"})
	case path == "files/f1" && r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("xls-bytes"))
	case path == "files/sheet/export" && r.Method == http.MethodGet:
		f.exported = append(f.exported, r.URL.Query().Get("mimeType"))
		w.Header().Set("Content-Type", MimeXLSX)
		w.Write([]byte("xlsx-bytes"))
	case path == "files/f1" && r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, "f1")
		w.WriteHeader(http.StatusNoContent)
	case path == "files/f1" && r.Method == http.MethodPatch:
		f.patched = append(f.patched, r.URL.Query().Get("addParents")+"<"+r.URL.Query().Get("removeParents"))
		json.NewEncoder(w).Encode(map[string]string{"id": "f1"})
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]interface{}{"code": 404, "message": "not found"}})
	}
}

func newTestProvider(t *testing.T) (*fakeDrive, *GoogleProvider) {
	t.Helper()
	logger.Discard()

	fake := &fakeDrive{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gdrive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/drive/v3/"),
	)
	require.NoError(t, err)
	return fake, NewGoogleProvider(svc)
}

func TestListFoldersQuery(t *testing.T) {
	fake, p := newTestProvider(t)

	folders, err := p.ListFolders(context.Background(), "Rappels")
	require.NoError(t, err)
	assert.Equal(t, []models.DriveFolder{{ID: "folder-1", Name: "Rappels"}}, folders)
	assert.Contains(t, fake.queries[0], "name = 'Rappels'")
	assert.Contains(t, fake.queries[0], "trashed = false")
}

func TestListFilesFollowsPages(t *testing.T) {
	fake, p := newTestProvider(t)

	files, err := p.ListFiles(context.Background(), "folder-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f2", files[0].ID)
	assert.Equal(t, "f1", files[1].ID)
	assert.Equal(t, 2024, files[0].CreatedTime.Year())

	assert.Contains(t, fake.queries[0], "'folder-1' in parents")
	assert.Contains(t, fake.queries[0], "name contains '.xls'")
	assert.Contains(t, fake.queries[0], "trashed = false")
	assert.Equal(t, "createdTime desc", fake.orderBy[0])
}

func TestDownloadAndExport(t *testing.T) {
	fake, p := newTestProvider(t)

	content, err := p.Download(context.Background(), models.DriveFile{ID: "f1", MimeType: MimeXLS})
	require.NoError(t, err)
	assert.Equal(t, "xls-bytes", string(content))

	content, err = p.Download(context.Background(), models.DriveFile{ID: "sheet", MimeType: MimeGoogleSheet})
	require.NoError(t, err)
	assert.Equal(t, "xlsx-bytes", string(content))
	assert.Equal(t, []string{MimeXLSX}, fake.exported)

	_, err = p.Download(context.Background(), models.DriveFile{ID: "missing"})
	assert.Error(t, err)
}

func TestDeleteAndMove(t *testing.T) {
	fake, p := newTestProvider(t)

	require.NoError(t, p.Delete(context.Background(), "f1"))
	assert.Equal(t, []string{"f1"}, fake.deleted)
	assert.Error(t, p.Delete(context.Background(), "missing"))

	require.NoError(t, p.Move(context.Background(), "f1", "folder-1", "quarantine"))
	assert.Equal(t, []string{"quarantine<folder-1"}, fake.patched)
}

func TestEnsureFolder(t *testing.T) {
	fake, p := newTestProvider(t)

	id, err := p.EnsureFolder(context.Background(), "Rappels")
	require.NoError(t, err)
	assert.Equal(t, "folder-1", id)
	assert.Empty(t, fake.created)

	id, err = p.EnsureFolder(context.Background(), "Absent")
	require.NoError(t, err)
	assert.Equal(t, "new-folder", id)
	assert.Len(t, fake.created, 1)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `Rendez-vous d\'avril`, escape("Rendez-vous d'avril"))
	assert.Equal(t, `a\\b`, escape(`a\b`))
}

func TestConnectorRequiresCredentials(t *testing.T) {
	_, err := NewGoogleConnector("", "secret", "", "")
	assert.Error(t, err)
}

func TestConnectAuthFailure(t *testing.T) {
	logger.Discard()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenSrv.Close()

	c, err := NewGoogleConnector("cid", "secret", "", "revoked")
	require.NoError(t, err)
	c.config.Endpoint.TokenURL = tokenSrv.URL

	_, err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
}
