package drive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	MimeFolder      = "application/vnd.google-apps.folder"
	MimeGoogleSheet = "application/vnd.google-apps.spreadsheet"
	MimeXLS         = "application/vnd.ms-excel"
	MimeXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	fileFields = "nextPageToken, files(id, name, mimeType, createdTime)"
)

type GoogleConnector struct {
	config       *oauth2.Config
	refreshToken string
	opts         []option.ClientOption
}

func NewGoogleConnector(clientID, clientSecret, redirectURL, refreshToken string, opts ...option.ClientOption) (*GoogleConnector, error) {
	if clientID == "" || refreshToken == "" {
		return nil, fmt.Errorf("google drive configuration incomplete")
	}

	return &GoogleConnector{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gdrive.DriveScope},
		},
		refreshToken: refreshToken,
		opts:         opts,
	}, nil
}

// Connect exchanges the refresh token for an access token up front so that
// a bad grant fails the sweep before any listing happens.
func (c *GoogleConnector) Connect(ctx context.Context) (Provider, error) {
	ts := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refreshToken})
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return NewGoogleProvider(svc), nil
}

type GoogleProvider struct {
	svc *gdrive.Service
}

func NewGoogleProvider(svc *gdrive.Service) *GoogleProvider {
	return &GoogleProvider{svc: svc}
}

func (p *GoogleProvider) ListFolders(ctx context.Context, name string) ([]models.DriveFolder, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escape(name), MimeFolder)

	var folders []models.DriveFolder
	err := p.svc.Files.List().
		Q(q).
		Spaces("drive").
		Fields("nextPageToken, files(id, name)").
		PageSize(100).
		Pages(ctx, func(page *gdrive.FileList) error {
			for _, f := range page.Files {
				folders = append(folders, models.DriveFolder{ID: f.Id, Name: f.Name})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing folders named %q: %w", name, err)
	}
	return folders, nil
}

// ListFiles returns spreadsheet files in the folder, newest first.
func (p *GoogleProvider) ListFiles(ctx context.Context, folderID string) ([]models.DriveFile, error) {
	q := fmt.Sprintf(
		"'%s' in parents and trashed = false and (name contains '.xls' or mimeType = '%s' or mimeType = '%s' or mimeType = '%s')",
		escape(folderID), MimeXLS, MimeXLSX, MimeGoogleSheet,
	)

	var files []models.DriveFile
	err := p.svc.Files.List().
		Q(q).
		Spaces("drive").
		OrderBy("createdTime desc").
		Fields(fileFields).
		PageSize(100).
		Pages(ctx, func(page *gdrive.FileList) error {
			for _, f := range page.Files {
				files = append(files, toModel(f))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing files in %s: %w", folderID, err)
	}
	return files, nil
}

// Download returns the whole file. Native Google Sheets are exported as xlsx.
func (p *GoogleProvider) Download(ctx context.Context, file models.DriveFile) ([]byte, error) {
	var (
		body io.ReadCloser
		err  error
	)
	if file.MimeType == MimeGoogleSheet {
		resp, derr := p.svc.Files.Export(file.ID, MimeXLSX).Context(ctx).Download()
		if resp != nil {
			body = resp.Body
		}
		err = derr
	} else {
		resp, derr := p.svc.Files.Get(file.ID).Context(ctx).Download()
		if resp != nil {
			body = resp.Body
		}
		err = derr
	}
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", file.ID, err)
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file.ID, err)
	}
	return content, nil
}

func (p *GoogleProvider) Delete(ctx context.Context, fileID string) error {
	if err := p.svc.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("deleting %s: %w", fileID, err)
	}
	return nil
}

func (p *GoogleProvider) Move(ctx context.Context, fileID, fromFolderID, toFolderID string) error {
	_, err := p.svc.Files.Update(fileID, &gdrive.File{}).
		AddParents(toFolderID).
		RemoveParents(fromFolderID).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("moving %s to %s: %w", fileID, toFolderID, err)
	}
	return nil
}

// EnsureFolder returns the id of the named folder, creating it when absent.
func (p *GoogleProvider) EnsureFolder(ctx context.Context, name string) (string, error) {
	folders, err := p.ListFolders(ctx, name)
	if err != nil {
		return "", err
	}
	if len(folders) > 0 {
		return folders[0].ID, nil
	}

	created, err := p.svc.Files.Create(&gdrive.File{Name: name, MimeType: MimeFolder}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("creating folder %q: %w", name, err)
	}
	logger.Log.WithField("folder", name).Info("created drive folder")
	return created.Id, nil
}

func toModel(f *gdrive.File) models.DriveFile {
	out := models.DriveFile{ID: f.Id, Name: f.Name, MimeType: f.MimeType}
	if ts, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		out.CreatedTime = ts
	}
	return out
}

// escape quotes a value for a Drive query string literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
