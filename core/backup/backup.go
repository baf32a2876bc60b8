// Package backup snapshots the local history database and loads snapshots
// back into it.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/ap-aa/storage"
)

const snapshotFile = "history.backup"

type Service struct {
	logger    logging.Logger
	db        storage.Storage
	backupDir string
	now       func() time.Time
}

func NewService(logger logging.Logger, db storage.Storage, backupDir string) *Service {
	return &Service{
		logger:    logger,
		db:        db,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// Snapshot writes a full backup to <backupDir>/<yy-mm-dd-hh-mm>/history.backup
// and returns the file path.
func (s *Service) Snapshot(ctx context.Context) (string, error) {
	timestamp := s.now().Format("06-01-02-15-04")
	backupPath := filepath.Join(s.backupDir, timestamp)

	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup timestamp directory: %w", err)
	}

	backupFile := filepath.Join(backupPath, snapshotFile)
	f, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	s.logger.Info("Running history backup", "file", backupFile)
	version, err := s.db.Backup(ctx, f, 0)
	if err != nil {
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("flush backup file: %w", err)
	}

	s.logger.Info("History backup completed", "file", backupFile, "version", version)
	return backupFile, nil
}

// Restore loads a snapshot written by Snapshot. Existing keys are
// overwritten by the snapshot's values.
func (s *Service) Restore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	if err := s.db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	s.logger.Info("History restored", "file", path, "db", s.db.DbPath())
	return nil
}
