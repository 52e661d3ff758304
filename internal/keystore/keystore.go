// Package keystore is the capability boundary between the vault engine and
// the platform's encrypted credential store.
//
// Records live in namespaces. On macOS a namespace is a Keychain service
// attribute; on keyring backends it is the keyring's service name. A
// query in one namespace can never see records in another, and records
// written by other applications are never touched.
//
// Adapters map every platform status to a closed set of Codes so the
// fallback logic above this package never looks at raw OSStatus values.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benaskins/easykey/internal/access"
)

// Code classifies a keystore outcome.
type Code int

const (
	Success Code = iota
	DuplicateItem
	NotFound
	MissingEntitlement
	AccessControlMismatch
	Other
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case DuplicateItem:
		return "duplicate-item"
	case NotFound:
		return "not-found"
	case MissingEntitlement:
		return "missing-entitlement"
	case AccessControlMismatch:
		return "access-control-mismatch"
	default:
		return "other"
	}
}

// Error is a rejected keystore call. Status is the raw platform code and
// is only meant for debug output.
type Error struct {
	Op     string
	Code   Code
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("keystore %s: %s", e.Op, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the Code carried by err. nil is Success; errors that did
// not come from an adapter are Other.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code
	}
	return Other
}

// StatusOf returns the raw platform status carried by err, or 0.
func StatusOf(err error) int {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Status
	}
	return 0
}

// Ref identifies a stored record independently of its attributes. Only
// the adapter that produced a Ref can interpret it.
type Ref any

// Item is a record to insert.
type Item struct {
	Namespace     string
	Name          string
	Value         []byte
	Accessibility access.Accessibility
	Policy        *access.Policy
	Context       *access.Context
}

// Query selects a single record, either by name or by Ref.
type Query struct {
	Namespace  string
	Name       string
	Context    *access.Context
	ReturnData bool
	ReturnRef  bool
	Ref        Ref
}

// Result is a record returned by Query.
type Result struct {
	Name      string
	Value     []byte
	CreatedAt time.Time
	Ref       Ref
}

// TimeFormat renders vault timestamps: UTC, millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Record is an enumerated entry. It never carries a value.
type Record struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"` // zero when the backend keeps no creation time
}

// MarshalJSON renders createdAt in TimeFormat, or null when unknown.
func (r Record) MarshalJSON() ([]byte, error) {
	var created *string
	if !r.CreatedAt.IsZero() {
		v := r.CreatedAt.UTC().Format(TimeFormat)
		created = &v
	}
	return json.Marshal(struct {
		Name      string  `json:"name"`
		CreatedAt *string `json:"createdAt"`
	}{r.Name, created})
}

// Keystore is implemented once per platform secure-storage API.
type Keystore interface {
	// Insert adds a new record and rejects with DuplicateItem if the name
	// is already present in the namespace.
	Insert(item Item) error
	// Update replaces the value of an existing record. Attributes,
	// including the creation time, are left alone.
	Update(q Query, value []byte) error
	// Delete removes the record selected by q.Ref, or by q.Name when no
	// Ref is set.
	Delete(q Query) error
	// Query returns the selected record.
	Query(q Query) (*Result, error)
	// Enumerate lists every record in a namespace without fetching values.
	Enumerate(namespace string, c *access.Context) ([]Record, error)
	// Purge deletes every record in a namespace.
	Purge(namespace string) error
}
