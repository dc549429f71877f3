// Package gdrive backs the session database and audio snapshots up to a
// Google Drive folder. Uploads are keyed by file name: the first sync of a
// name creates the Drive file, later syncs update it in place.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type Syncer struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Syncer{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// SyncFile uploads a local file to the backup folder, replacing the previous
// upload of the same name.
func (s *Syncer) SyncFile(localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(localPath)

	if fileID, ok := s.fileIDs[name]; ok {
		if _, err := s.service.Files.Update(fileID, &drive.File{}).Media(f).Do(); err != nil {
			return fmt.Errorf("drive update %s: %w", name, err)
		}
		return nil
	}

	doc, err := s.service.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{s.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", name, err)
	}

	s.fileIDs[name] = doc.Id
	return nil
}

// BackupDatabase uploads the sqlite database and every audio snapshot found
// in audioDir. The first failure aborts the pass; the next tick retries.
func (s *Syncer) BackupDatabase(dbPath, audioDir string) error {
	if err := s.SyncFile(dbPath); err != nil {
		return err
	}

	if audioDir == "" {
		return nil
	}
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read audio dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wav" {
			continue
		}
		if err := s.SyncFile(filepath.Join(audioDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
