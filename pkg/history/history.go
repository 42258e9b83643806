// Package history keeps a local record of upload attempts.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
)

const uploadsBucket = "uploads"

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record is one upload attempt.
type Record struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Host      string    `json:"host"`
	User      string    `json:"user"`
	RemoteDir string    `json:"remoteDir"`
	Archive   string    `json:"archive"`
	SHA256    string    `json:"sha256,omitempty"`
	Size      int64     `json:"size"`
	Transport string    `json:"transport"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// BoltStore stores records in a single bbolt file.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func Open(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.CodeIoError, "history", fmt.Sprintf("failed to create directory %s", dir), err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return nil, errors.New(errors.CodeIoError, "history",
				fmt.Sprintf("history file '%s' is locked by another poputchik-deploy process. "+
					"Set POPUTCHIK_STORE_PATH to use a different file", dbPath), err)
		}
		return nil, errors.New(errors.CodeIoError, "history", "failed to open bolt db", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(uploadsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeIoError, "history", "failed to create uploads bucket", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Add stores rec, filling in ID and Time when unset, and returns the stored copy.
func (s *BoltStore) Add(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = s.now().UTC()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(uploadsBucket))
		if bucket.Get([]byte(rec.ID)) != nil {
			return errors.New(errors.CodeAlreadyExists, "history", fmt.Sprintf("record %s already exists", rec.ID), nil)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.New(errors.CodeInternalError, "history", "failed to marshal record", err)
		}
		if err := bucket.Put([]byte(rec.ID), data); err != nil {
			return errors.New(errors.CodeIoError, "history", "failed to store record", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(uploadsBucket)).Get([]byte(id))
		if data == nil {
			return errors.New(errors.CodeNotFound, "history", fmt.Sprintf("record %s not found", id), nil)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns records newest first. A limit of zero or less returns all.
func (s *BoltStore) List(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(uploadsBucket)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				logger.Debugf("Skipping unreadable history record %s: %v", k, err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "history", "failed to read records", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time.After(records[j].Time)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
