package google

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Drive stores footage and finished assets. It serves both the render
// pipeline and the ads publisher.
type Drive struct {
	svc    *drive.Service
	cfg    *config.GoogleConfig
	logger *zap.Logger
}

func NewDrive(ctx context.Context, cfg *config.GoogleConfig, logger *zap.Logger, opts ...option.ClientOption) (*Drive, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Drive{svc: svc, cfg: cfg, logger: logger.With(zap.String("component", "drive"))}, nil
}

// CreateFolder creates a folder under parentID, or under the configured
// parent folder when parentID is empty
func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	if parentID == "" {
		parentID = d.cfg.DriveParentFolderID
	}
	file := &drive.File{Name: name, MimeType: folderMimeType}
	if parentID != "" {
		file.Parents = []string{parentID}
	}

	created, err := d.svc.Files.Create(file).
		SupportsAllDrives(true).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	if err := d.share(ctx, created.Id); err != nil {
		return nil, err
	}

	d.logger.Info("Folder created", zap.String("name", name), zap.String("folder_id", created.Id))
	return &models.Folder{ID: created.Id, URL: created.WebViewLink}, nil
}

// Download writes the file content to destPath. Partial downloads are removed.
func (d *Drive) Download(ctx context.Context, fileID, destPath string) error {
	body, err := d.Open(ctx, fileID)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to download %s: %w", fileID, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	d.logger.Debug("File downloaded", zap.String("file_id", fileID), zap.String("path", destPath))
	return nil
}

// Open streams the content of a file
func (d *Drive) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fileID, wrapNotFound(err, fileID))
	}
	return resp.Body, nil
}

// Upload stores a local file in folderID under name
func (d *Drive) Upload(ctx context.Context, localPath, name, folderID string) (*models.UploadedAsset, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	file := &drive.File{Name: name}
	if folderID != "" {
		file.Parents = []string{folderID}
	}
	created, err := d.svc.Files.Create(file).
		Media(f, googleapi.ContentType("video/mp4")).
		SupportsAllDrives(true).
		Fields("id", "name", "webViewLink", "size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if err := d.share(ctx, created.Id); err != nil {
		return nil, err
	}

	d.logger.Info("File uploaded",
		zap.String("name", name),
		zap.String("file_id", created.Id),
		zap.Int64("size", created.Size))
	return &models.UploadedAsset{
		FileName:  created.Name,
		FileID:    created.Id,
		Link:      created.WebViewLink,
		SizeBytes: created.Size,
	}, nil
}

// ListFolder returns the files directly inside a folder
func (d *Drive) ListFolder(ctx context.Context, folderID string) ([]models.UploadedAsset, error) {
	var assets []models.UploadedAsset
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	err := d.svc.Files.List().
		Q(query).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields("nextPageToken", "files(id, name, webViewLink, size)").
		OrderBy("name").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				assets = append(assets, models.UploadedAsset{
					FileName:  f.Name,
					FileID:    f.Id,
					Link:      f.WebViewLink,
					SizeBytes: f.Size,
				})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", folderID, wrapNotFound(err, folderID))
	}
	return assets, nil
}

func (d *Drive) share(ctx context.Context, fileID string) error {
	if !d.cfg.ShareWithAnyone {
		return nil
	}
	_, err := d.svc.Permissions.Create(fileID, &drive.Permission{Type: "anyone", Role: "reader"}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to share %s: %w", fileID, err)
	}
	return nil
}
