package keystore

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/benaskins/easykey/internal/access"
)

// Op names a keystore operation for Rejector matching.
type Op string

const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpQuery     Op = "query"
	OpEnumerate Op = "enumerate"
	OpPurge     Op = "purge"
)

// Call describes a keystore call as seen by a Rejector.
type Call struct {
	Op         Op
	Namespace  string
	Name       string
	HasContext bool
	HasPolicy  bool
	ByRef      bool
}

// Rejector decides whether a call is refused. Returning Success lets the
// call proceed.
type Rejector func(c Call) Code

type memoryRecord struct {
	value         []byte
	createdAt     time.Time
	accessibility access.Accessibility
	userPresence  bool
}

// MemoryKeystore is an in-memory Keystore. It backs the "memory" backend
// and the unit tests, where a Rejector stands in for platform refusals.
type MemoryKeystore struct {
	mu     sync.RWMutex
	spaces map[string]map[string]*memoryRecord
	reject Rejector
	now    func() time.Time
}

// NewMemoryKeystore creates an empty in-memory keystore.
func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{
		spaces: make(map[string]map[string]*memoryRecord),
		now:    time.Now,
	}
}

// SetRejector installs r. A nil Rejector accepts every call.
func (s *MemoryKeystore) SetRejector(r Rejector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = r
}

// SetClock replaces the clock used for creation times.
func (s *MemoryKeystore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryKeystore) check(c Call) error {
	if s.reject == nil {
		return nil
	}
	if code := s.reject(c); code != Success {
		return &Error{Op: string(c.Op), Code: code}
	}
	return nil
}

func (s *MemoryKeystore) Insert(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(Call{Op: OpInsert, Namespace: item.Namespace, Name: item.Name,
		HasContext: item.Context != nil, HasPolicy: item.Policy != nil}); err != nil {
		return err
	}

	space, ok := s.spaces[item.Namespace]
	if !ok {
		space = make(map[string]*memoryRecord)
		s.spaces[item.Namespace] = space
	}
	if _, exists := space[item.Name]; exists {
		return &Error{Op: string(OpInsert), Code: DuplicateItem}
	}

	rec := &memoryRecord{
		value:         bytes.Clone(item.Value),
		createdAt:     s.now().UTC(),
		accessibility: item.Accessibility,
	}
	if item.Policy != nil {
		rec.accessibility = item.Policy.Accessibility
		rec.userPresence = item.Policy.UserPresence
	}
	space[item.Name] = rec
	return nil
}

func (s *MemoryKeystore) Update(q Query, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(Call{Op: OpUpdate, Namespace: q.Namespace, Name: q.Name,
		HasContext: q.Context != nil}); err != nil {
		return err
	}

	rec, ok := s.spaces[q.Namespace][q.Name]
	if !ok {
		return &Error{Op: string(OpUpdate), Code: NotFound}
	}
	clear(rec.value)
	rec.value = bytes.Clone(value)
	return nil
}

func (s *MemoryKeystore) Delete(q Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := q.Name
	if q.Ref != nil {
		ref, ok := q.Ref.(string)
		if !ok {
			return &Error{Op: string(OpDelete), Code: Other}
		}
		name = ref
	}

	if err := s.check(Call{Op: OpDelete, Namespace: q.Namespace, Name: name,
		HasContext: q.Context != nil, ByRef: q.Ref != nil}); err != nil {
		return err
	}

	space := s.spaces[q.Namespace]
	rec, ok := space[name]
	if !ok {
		return &Error{Op: string(OpDelete), Code: NotFound}
	}
	clear(rec.value)
	delete(space, name)
	return nil
}

func (s *MemoryKeystore) Query(q Query) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(Call{Op: OpQuery, Namespace: q.Namespace, Name: q.Name,
		HasContext: q.Context != nil, ByRef: q.ReturnRef}); err != nil {
		return nil, err
	}

	rec, ok := s.spaces[q.Namespace][q.Name]
	if !ok {
		return nil, &Error{Op: string(OpQuery), Code: NotFound}
	}

	res := &Result{Name: q.Name, CreatedAt: rec.createdAt}
	if q.ReturnData {
		res.Value = bytes.Clone(rec.value)
	}
	if q.ReturnRef {
		res.Ref = q.Name
	}
	return res, nil
}

func (s *MemoryKeystore) Enumerate(namespace string, c *access.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(Call{Op: OpEnumerate, Namespace: namespace, HasContext: c != nil}); err != nil {
		return nil, err
	}

	space := s.spaces[namespace]
	records := make([]Record, 0, len(space))
	for name, rec := range space {
		records = append(records, Record{Name: name, CreatedAt: rec.createdAt})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *MemoryKeystore) Purge(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(Call{Op: OpPurge, Namespace: namespace}); err != nil {
		return err
	}

	for _, rec := range s.spaces[namespace] {
		clear(rec.value)
	}
	delete(s.spaces, namespace)
	return nil
}

// RequiresUserPresence reports whether the named record was written
// under a user-presence policy.
func (s *MemoryKeystore) RequiresUserPresence(namespace, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.spaces[namespace][name]
	return ok && rec.userPresence
}
