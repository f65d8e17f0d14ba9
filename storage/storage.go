// Package storage persists snapshots and schedule state between restarts.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"calendar-notifier/pkg/digest"
)

const (
	snapshotKey = "snapshot.json"
	scheduleKey = "schedule.json"
)

// Store keeps the single rolling snapshot and the schedule state, either in
// a local directory or a GCS bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a storage handler. Exactly one of bucket and localPath should
// be set; localPath wins when both are.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// SaveSnapshot atomically replaces the stored snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *digest.Snapshot) error {
	if err := s.save(ctx, snapshotKey, snap); err != nil {
		return err
	}
	s.logger.Info("Snapshot saved",
		"captured_at", snap.CapturedAt.Format(time.RFC3339),
		"event_count", len(snap.Events))
	return nil
}

// LoadSnapshot returns the stored snapshot. Absence on a first run is
// reported through IsNotFound, not as a plain failure.
func (s *Store) LoadSnapshot(ctx context.Context) (*digest.Snapshot, error) {
	var snap digest.Snapshot
	if err := s.load(ctx, snapshotKey, &snap); err != nil {
		return nil, err
	}
	if snap.Events == nil {
		snap.Events = make(map[string]digest.Event)
	}
	return &snap, nil
}

// SaveSchedule atomically replaces the stored schedule state.
func (s *Store) SaveSchedule(ctx context.Context, state *digest.ScheduleState) error {
	if err := s.save(ctx, scheduleKey, state); err != nil {
		return err
	}
	s.logger.Debug("Schedule state saved", "job_count", len(state.LastFired))
	return nil
}

// LoadSchedule returns the stored schedule state.
func (s *Store) LoadSchedule(ctx context.Context) (*digest.ScheduleState, error) {
	var state digest.ScheduleState
	if err := s.load(ctx, scheduleKey, &state); err != nil {
		return nil, err
	}
	if state.LastFired == nil {
		state.LastFired = make(map[digest.JobKind]time.Time)
	}
	return &state, nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	// Local filesystem storage
	if s.localPath != "" {
		if err := writeFileAtomic(filepath.Join(s.localPath, key), data); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, key string, v any) error {
	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return errors.New("storage: object doesn't exist")
			}
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		// Cloud Storage with retry logic for reliability
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return errors.New("storage: object doesn't exist")
			}
			return fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// writeFileAtomic writes data through a temp file in the target directory so
// a crash mid-write never leaves a truncated record behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calnotify-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// IsNotFound checks if an error indicates a stored object was not found.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "storage: object doesn't exist")
}
