package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/benaskins/easykey/internal/access"
	"github.com/benaskins/easykey/internal/keystore"
)

// Storage tiers, reported in debug logs and the audit trail.
const (
	PathPolicy          = "policy"
	PathContext         = "context"
	PathAccessibility   = "accessibility"
	PathUpdate          = "update"
	PathUpdateNoContext = "update-no-context"
	PathNoContext       = "no-context"
	PathReference       = "reference"
)

// store runs secret record I/O against one namespace, stepping down to
// weaker protection when the keystore refuses the stronger form.
type store struct {
	ks        keystore.Keystore
	namespace string
	logger    *slog.Logger
}

func isFallbackTrigger(err error) bool {
	switch keystore.CodeOf(err) {
	case keystore.MissingEntitlement, keystore.AccessControlMismatch:
		return true
	}
	return false
}

func gone(err error) bool {
	code := keystore.CodeOf(err)
	return code == keystore.Success || code == keystore.NotFound
}

func (s *store) fallback(op, name, from, to string, err error) {
	s.logger.Debug("keystore fallback", "op", op, "name", name, "from", from, "path", to,
		"code", keystore.CodeOf(err), "status", keystore.StatusOf(err))
}

// write inserts name, or replaces its value when it already exists. A
// policy is only attached together with a context; without one the item
// could not be read back headlessly.
func (s *store) write(name string, value []byte, c *access.Context, p *access.Policy) (string, error) {
	if c == nil {
		p = nil
	}
	item := keystore.Item{
		Namespace:     s.namespace,
		Name:          name,
		Value:         value,
		Accessibility: access.AccessibleWhenUnlockedThisDeviceOnly,
		Policy:        p,
		Context:       c,
	}
	path := PathAccessibility
	switch {
	case p != nil:
		path = PathPolicy
	case c != nil:
		path = PathContext
	}

	err := s.ks.Insert(item)
	if path != PathAccessibility && keystore.CodeOf(err) == keystore.MissingEntitlement {
		s.fallback("insert", name, path, PathAccessibility, err)
		item.Policy, item.Context = nil, nil
		path = PathAccessibility
		err = s.ks.Insert(item)
	}

	switch keystore.CodeOf(err) {
	case keystore.Success:
		return path, nil
	case keystore.DuplicateItem:
		return s.update(name, value, c)
	default:
		return "", storeError("set", name, err)
	}
}

func (s *store) update(name string, value []byte, c *access.Context) (string, error) {
	q := keystore.Query{Namespace: s.namespace, Name: name, Context: c}
	path := PathUpdate

	err := s.ks.Update(q, value)
	if c != nil && isFallbackTrigger(err) {
		s.fallback("update", name, path, PathUpdateNoContext, err)
		q.Context = nil
		path = PathUpdateNoContext
		err = s.ks.Update(q, value)
	}
	if err != nil {
		return "", storeError("set", name, err)
	}
	return path, nil
}

// read returns the raw value of name.
func (s *store) read(name string, c *access.Context) ([]byte, string, error) {
	q := keystore.Query{Namespace: s.namespace, Name: name, Context: c, ReturnData: true}
	path := PathAccessibility
	if c != nil {
		path = PathContext
	}

	res, err := s.ks.Query(q)
	if c != nil && isFallbackTrigger(err) {
		s.fallback("query", name, path, PathNoContext, err)
		q.Context = nil
		path = PathNoContext
		res, err = s.ks.Query(q)
	}

	switch keystore.CodeOf(err) {
	case keystore.Success:
		return res.Value, path, nil
	case keystore.NotFound:
		return nil, path, &NotFoundError{Name: name}
	default:
		return nil, path, storeError("get", name, err)
	}
}

// remove deletes name. A record that is already gone counts as removed.
func (s *store) remove(name string, c *access.Context) (string, error) {
	path := PathAccessibility
	if c != nil {
		path = PathContext
	}

	err := s.ks.Delete(keystore.Query{Namespace: s.namespace, Name: name, Context: c})
	if gone(err) {
		return path, nil
	}
	if !isFallbackTrigger(err) {
		return path, storeError("remove", name, err)
	}
	errs := []error{err}

	if c != nil {
		s.fallback("delete", name, path, PathNoContext, err)
		path = PathNoContext
		err = s.ks.Delete(keystore.Query{Namespace: s.namespace, Name: name})
		if gone(err) {
			return path, nil
		}
		errs = append(errs, err)
	}

	s.fallback("delete", name, path, PathReference, err)
	path = PathReference
	res, err := s.ks.Query(keystore.Query{Namespace: s.namespace, Name: name, ReturnRef: true})
	if keystore.CodeOf(err) == keystore.NotFound {
		return path, nil
	}
	if err == nil {
		err = s.ks.Delete(keystore.Query{Namespace: s.namespace, Ref: res.Ref})
		if gone(err) {
			return path, nil
		}
	}
	errs = append(errs, err)

	return path, &StoreError{
		Op:   "remove",
		Name: name,
		Code: keystore.AccessControlMismatch,
		Err:  fmt.Errorf("access control mismatch: no deletion path succeeded: %w", errors.Join(errs...)),
	}
}

// list enumerates the namespace, sorted by name without duplicates.
func (s *store) list(c *access.Context) ([]keystore.Record, error) {
	records, err := s.ks.Enumerate(s.namespace, c)
	if c != nil && isFallbackTrigger(err) {
		s.fallback("enumerate", "", PathContext, PathNoContext, err)
		records, err = s.ks.Enumerate(s.namespace, nil)
	}
	switch keystore.CodeOf(err) {
	case keystore.Success:
	case keystore.NotFound:
		return []keystore.Record{}, nil
	default:
		return nil, storeError("list", "", err)
	}

	slices.SortStableFunc(records, func(a, b keystore.Record) int { return strings.Compare(a.Name, b.Name) })
	records = slices.CompactFunc(records, func(a, b keystore.Record) bool { return a.Name == b.Name })
	if records == nil {
		records = []keystore.Record{}
	}
	return records, nil
}

func (s *store) purge() error {
	if err := s.ks.Purge(s.namespace); err != nil && keystore.CodeOf(err) != keystore.NotFound {
		return storeError("cleanup", "", err)
	}
	return nil
}
