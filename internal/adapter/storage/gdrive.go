package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	appconfig "github.com/semmidev/vaultkeeper/internal/config"
	"github.com/semmidev/vaultkeeper/internal/domain"
)

const folderMimeType = "application/vnd.google-apps.folder"

// GDriveStorage maps buckets to folders under a parent folder. Object paths
// are stored as file names inside the bucket folder.
type GDriveStorage struct {
	service  *drive.Service
	parentID string
}

// NewGDrive authenticates with a service account credentials file, or with an
// OAuth client secret plus refresh token when one is configured.
func NewGDrive(ctx context.Context, cfg *appconfig.StorageConfig) (*GDriveStorage, error) {
	var auth option.ClientOption
	if cfg.RefreshToken != "" {
		oauthCfg, err := DriveOAuthConfig(cfg.ClientSecretFile)
		if err != nil {
			return nil, err
		}
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		auth = option.WithTokenSource(oauthCfg.TokenSource(ctx, token))
	} else {
		auth = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	service, err := drive.NewService(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return NewGDriveWithService(service, cfg.FolderID), nil
}

func NewGDriveWithService(service *drive.Service, parentID string) *GDriveStorage {
	return &GDriveStorage{service: service, parentID: parentID}
}

// DriveOAuthConfig reads an OAuth client secret limited to files the app creates.
func DriveOAuthConfig(clientSecretPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}
	return cfg, nil
}

func (g *GDriveStorage) ListBuckets(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false", quoteQuery(g.parentID), folderMimeType)

	var names []string
	err := g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name)").
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				names = append(names, f.Name)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list folders: %w", domain.ErrUpload, err)
	}
	return names, nil
}

// MakeBucket creates the bucket folder. Drive has no regions.
func (g *GDriveStorage) MakeBucket(ctx context.Context, name, _ string) error {
	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{g.parentID},
	}
	if _, err := g.service.Files.Create(folder).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: failed to create folder %s: %w", domain.ErrUpload, name, err)
	}
	return nil
}

func (g *GDriveStorage) PutObject(ctx context.Context, bucket, objectPath, localPath string) error {
	folderID, err := g.folderID(ctx, bucket)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open file: %w", domain.ErrIO, err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    objectPath,
		Parents: []string{folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: failed to upload to gdrive: %w", domain.ErrUpload, err)
	}

	return nil
}

func (g *GDriveStorage) ListObjects(ctx context.Context, bucket, prefix string) ([]domain.ObjectInfo, error) {
	folderID, err := g.folderID(ctx, bucket)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and mimeType!='%s' and trashed=false", quoteQuery(folderID), folderMimeType)

	var objects []domain.ObjectInfo
	err = g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name, size, createdTime)").
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				if !strings.HasPrefix(f.Name, prefix) {
					continue
				}
				created, _ := time.Parse(time.RFC3339, f.CreatedTime)
				objects = append(objects, domain.ObjectInfo{Path: f.Name, Size: f.Size, Modified: created})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list files: %w", domain.ErrUpload, err)
	}
	return objects, nil
}

func (g *GDriveStorage) RemoveObject(ctx context.Context, bucket, objectPath string) error {
	folderID, err := g.folderID(ctx, bucket)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", quoteQuery(folderID), quoteQuery(objectPath))
	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: failed to find file: %w", domain.ErrUpload, err)
	}

	for _, f := range fileList.Files {
		if err := g.service.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("%w: failed to delete file: %w", domain.ErrUpload, err)
		}
	}
	return nil
}

func (g *GDriveStorage) folderID(ctx context.Context, bucket string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
		quoteQuery(g.parentID), quoteQuery(bucket), folderMimeType)

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%w: failed to find folder %s: %w", domain.ErrUpload, bucket, err)
	}
	if len(fileList.Files) == 0 {
		return "", fmt.Errorf("%w: folder %s not found", domain.ErrUpload, bucket)
	}
	return fileList.Files[0].Id, nil
}

func quoteQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
