// Package pending keeps the one in-flight task's checkpoint in the page's
// session storage, where it survives the navigation a publish triggers.
package pending

import (
	"context"
	"time"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/quill/internal/page"
	"go.uber.org/zap"
)

// Status values a record can carry.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is the persisted checkpoint. CreatedAt is epoch milliseconds.
type Record struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	TargetOrigin string `json:"targetOrigin"`
	CreatedAt    int64  `json:"createdAt"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Failed reports whether the record describes a failed task.
func (r Record) Failed() bool { return r.Status == StatusFailed }

// Store reads and writes the record under a single key. Storage failures are
// logged and swallowed: a missing checkpoint only costs a resent result.
type Store struct {
	storage page.Storage
	key     string
	log     *zap.Logger
	now     func() time.Time
}

// New creates a Store over storage using key.
func New(storage page.Storage, key string, logger *zap.Logger) *Store {
	return &Store{
		storage: storage,
		key:     key,
		log:     logger.Named("pending"),
		now:     time.Now,
	}
}

// Get returns the stored record, or false when there is none or it cannot
// be read.
func (s *Store) Get(ctx context.Context) (Record, bool) {
	raw, ok, err := s.storage.SessionGet(ctx, s.key)
	if err != nil {
		s.log.Warn("Failed to read pending task record.", zap.Error(err))
		return Record{}, false
	}
	if !ok || raw == "" {
		return Record{}, false
	}
	var rec Record
	if err := json.UnmarshalFromString(raw, &rec); err != nil {
		s.log.Warn("Pending task record is not valid JSON.", zap.Error(err))
		return Record{}, false
	}
	return rec, true
}

// Save stamps rec with the current time and overwrites the stored record.
func (s *Store) Save(ctx context.Context, rec Record) {
	rec.CreatedAt = s.now().UnixMilli()
	raw, err := json.MarshalToString(rec)
	if err != nil {
		s.log.Error("Failed to encode pending task record.", zap.Error(err))
		return
	}
	if err := s.storage.SessionSet(ctx, s.key, raw); err != nil {
		s.log.Error("Failed to persist pending task record.", zap.String("task_id", rec.TaskID), zap.Error(err))
	}
}

// Clear removes the stored record.
func (s *Store) Clear(ctx context.Context) {
	if err := s.storage.SessionRemove(ctx, s.key); err != nil {
		s.log.Warn("Failed to clear pending task record.", zap.Error(err))
	}
}
