// Package backup stores versioned JSON snapshots.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"
)

const (
	namePrefix = "backup-"
	nameLayout = "20060102-150405.000"
)

var ErrNoBackups = errors.New("no backups found")

// Envelope wraps a snapshot with the version that wrote it.
type Envelope struct {
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

type BackupService struct {
	storage Storage
	version string
	now     func() time.Time
}

func NewBackupService(storage Storage, version string) *BackupService {
	return &BackupService{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// CreateBackup marshals payload into a new timestamped backup and returns
// its name.
func (bs *BackupService) CreateBackup(ctx context.Context, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup data: %w", err)
	}

	env := Envelope{
		Version:   bs.version,
		Timestamp: bs.now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup envelope: %w", err)
	}

	name := namePrefix + env.Timestamp.Format(nameLayout) + ".json"
	if err := bs.storage.Save(ctx, name, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

// RestoreBackup loads the named backup and unmarshals its data into v.
func (bs *BackupService) RestoreBackup(ctx context.Context, name string, v interface{}) (*Envelope, error) {
	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var env Envelope
	if err := json.NewDecoder(reader).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", name, err)
	}
	if env.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal backup data: %w", err)
		}
	}
	return &env, nil
}

// ListBackups returns backup names oldest first.
func (bs *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (bs *BackupService) Latest(ctx context.Context) (string, error) {
	names, err := bs.ListBackups(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoBackups
	}
	return names[len(names)-1], nil
}

// Prune deletes all but the newest keep backups and reports how many went.
func (bs *BackupService) Prune(ctx context.Context, keep int) (int, error) {
	names, err := bs.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 1 {
		keep = 1
	}
	if len(names) <= keep {
		return 0, nil
	}

	var errs []error
	deleted := 0
	for _, name := range names[:len(names)-keep] {
		if err := bs.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
