package drive

import (
	"context"
	"errors"

	"github.com/synaptica-ai/appointment-intake/pkg/common/models"
)

var ErrAuth = errors.New("drive authentication failed")

// Provider is the storage surface a sweep needs.
type Provider interface {
	ListFolders(ctx context.Context, name string) ([]models.DriveFolder, error)
	ListFiles(ctx context.Context, folderID string) ([]models.DriveFile, error)
	Download(ctx context.Context, file models.DriveFile) ([]byte, error)
	Delete(ctx context.Context, fileID string) error
	Move(ctx context.Context, fileID, fromFolderID, toFolderID string) error
	EnsureFolder(ctx context.Context, name string) (string, error)
}

// Connector authenticates and hands out a Provider. It is called once per
// sweep so an expired or revoked grant only costs that sweep.
type Connector interface {
	Connect(ctx context.Context) (Provider, error)
}
