// Package audit records vault activity.
//
// Two records are kept. The Tracker maintains the last_access timestamp in
// the keystore's metadata namespace, touched after every successful vault
// operation. The Logger appends one JSON line per operation to
// ~/.easykey/audit.log. Neither ever sees a secret value.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionSecretRead   Action = "secret_read"
	ActionSecretWrite  Action = "secret_write"
	ActionSecretDelete Action = "secret_delete"
	ActionSecretList   Action = "secret_list"
	ActionVaultCleanup Action = "vault_cleanup"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"` // "cli", "api"
	Path      string    `json:"path,omitempty"`  // storage tier that served the call
	Error     string    `json:"error,omitempty"`
}

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("audit log closed")

// Logger appends entries to a JSONL file readable only by the owner.
// Each entry is synced before Log returns.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
	now  func() time.Time
}

// NewLogger opens path for appending, creating it and its directory if
// needed. An existing file is narrowed to mode 0600.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	if err := f.Chmod(0600); err != nil {
		f.Close()
		return nil, fmt.Errorf("restricting audit log: %w", err)
	}
	return &Logger{file: f, enc: json.NewEncoder(f), path: path, now: time.Now}, nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string { return l.path }

// Log appends entry, stamping it with the current time when unset.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrClosed
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return l.file.Sync()
}

// Close closes the file. Further calls to Log return ErrClosed.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file, l.enc = nil, nil
	return err
}
