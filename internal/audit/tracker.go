package audit

import (
	"log/slog"
	"time"

	"github.com/benaskins/easykey/internal/access"
	"github.com/benaskins/easykey/internal/keystore"
)

// LastAccessKey is the metadata record touched after every operation.
const LastAccessKey = "last_access"

// TimeFormat is the stored form of last_access.
const TimeFormat = keystore.TimeFormat

// Tracker maintains the last_access record in the metadata namespace.
type Tracker struct {
	store     keystore.Keystore
	namespace string
	now       func() time.Time
	logger    *slog.Logger
}

// NewTracker creates a tracker writing to namespace.
func NewTracker(store keystore.Keystore, namespace string) *Tracker {
	return &Tracker{
		store:     store,
		namespace: namespace,
		now:       time.Now,
		logger:    slog.With("component", "audit"),
	}
}

// SetClock replaces the clock used for timestamps.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Touch records the current time as last_access. The record is updated in
// place, or inserted with the minimal device-local accessibility when it
// does not exist yet. Failures are logged and dropped.
func (t *Tracker) Touch(c *access.Context) {
	stamp := []byte(t.now().UTC().Format(TimeFormat))

	q := keystore.Query{Namespace: t.namespace, Name: LastAccessKey, Context: c}
	err := t.store.Update(q, stamp)
	if c != nil && isFallbackTrigger(err) {
		q.Context = nil
		err = t.store.Update(q, stamp)
	}
	if err == nil {
		return
	}
	if keystore.CodeOf(err) != keystore.NotFound {
		t.logger.Debug("last_access update failed, inserting",
			"code", keystore.CodeOf(err), "status", keystore.StatusOf(err))
	}

	err = t.store.Insert(keystore.Item{
		Namespace:     t.namespace,
		Name:          LastAccessKey,
		Value:         stamp,
		Accessibility: access.AccessibleAfterFirstUnlockThisDeviceOnly,
	})
	if err != nil {
		t.logger.Debug("last_access not recorded",
			"code", keystore.CodeOf(err), "status", keystore.StatusOf(err))
	}
}

// LastAccess returns the stored last_access time, or the zero time when it
// has never been recorded.
func (t *Tracker) LastAccess() (time.Time, error) {
	res, err := t.store.Query(keystore.Query{Namespace: t.namespace, Name: LastAccessKey, ReturnData: true})
	if keystore.CodeOf(err) == keystore.NotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(TimeFormat, string(res.Value))
}

func isFallbackTrigger(err error) bool {
	switch keystore.CodeOf(err) {
	case keystore.MissingEntitlement, keystore.AccessControlMismatch:
		return true
	}
	return false
}
