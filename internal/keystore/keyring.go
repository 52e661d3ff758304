package keystore

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/99designs/keyring"

	"github.com/benaskins/easykey/internal/access"
)

// Opener opens the keyring that holds one namespace.
type Opener func(namespace string) (keyring.Keyring, error)

// KeyringOptions configures a KeyringKeystore.
type KeyringOptions struct {
	// Backends restricts the keyring backends tried, in order. Empty means
	// every backend available on this platform.
	Backends []string
	// FileDir is the directory of the encrypted-file backend.
	FileDir string
	// FilePassword unlocks the encrypted-file backend.
	FilePassword keyring.PromptFunc
}

// KeyringKeystore stores records through 99designs/keyring: Secret
// Service, KWallet, keyctl, pass, Windows Credential Manager, or an
// encrypted file. One keyring is opened per namespace.
//
// The creation time is kept in the item description, since keyring
// backends do not expose one. Backends that need credentials to read
// metadata enumerate with a zero creation time rather than fetching
// values.
type KeyringKeystore struct {
	open   Opener
	mu     sync.Mutex
	rings  map[string]keyring.Keyring
	now    func() time.Time
	logger *slog.Logger
}

// NewKeyringKeystore opens keyrings with keyring.Open using opts.
func NewKeyringKeystore(opts KeyringOptions) *KeyringKeystore {
	var backends []keyring.BackendType
	for _, b := range opts.Backends {
		backends = append(backends, keyring.BackendType(b))
	}
	return NewKeyringKeystoreWithOpener(func(namespace string) (keyring.Keyring, error) {
		return keyring.Open(keyring.Config{
			ServiceName:                    namespace,
			AllowedBackends:                backends,
			FileDir:                        opts.FileDir,
			FilePasswordFunc:               opts.FilePassword,
			KeychainAccessibleWhenUnlocked: true,
			KeychainSynchronizable:         false,
			LibSecretCollectionName:        "login",
			KWalletAppID:                   "easykey",
			KWalletFolder:                  namespace,
			WinCredPrefix:                  namespace,
			PassPrefix:                     namespace,
		})
	})
}

// NewKeyringKeystoreWithOpener uses open to obtain keyrings.
func NewKeyringKeystoreWithOpener(open Opener) *KeyringKeystore {
	return &KeyringKeystore{
		open:   open,
		rings:  make(map[string]keyring.Keyring),
		now:    time.Now,
		logger: slog.With("component", "keystore", "backend", "keyring"),
	}
}

func (s *KeyringKeystore) ring(op, namespace string) (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rings[namespace]; ok {
		return r, nil
	}
	r, err := s.open(namespace)
	if err != nil {
		return nil, &Error{Op: op, Code: Other, Err: fmt.Errorf("opening keyring %q: %w", namespace, err)}
	}
	s.rings[namespace] = r
	return r, nil
}

func keyringError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return &Error{Op: op, Code: NotFound, Err: err}
	}
	return &Error{Op: op, Code: Other, Err: err}
}

func (s *KeyringKeystore) contains(r keyring.Keyring, name string) (bool, error) {
	keys, err := r.Keys()
	if err != nil {
		return false, err
	}
	return slices.Contains(keys, name), nil
}

func (s *KeyringKeystore) Insert(item Item) error {
	r, err := s.ring("insert", item.Namespace)
	if err != nil {
		return err
	}

	exists, err := s.contains(r, item.Name)
	if err != nil {
		return keyringError("insert", err)
	}
	if exists {
		return &Error{Op: "insert", Code: DuplicateItem}
	}

	err = r.Set(keyring.Item{
		Key:                       item.Name,
		Data:                      item.Value,
		Label:                     item.Namespace + ": " + item.Name,
		Description:               s.now().UTC().Format(time.RFC3339Nano),
		KeychainNotSynchronizable: true,
	})
	return keyringError("insert", err)
}

func (s *KeyringKeystore) Update(q Query, value []byte) error {
	r, err := s.ring("update", q.Namespace)
	if err != nil {
		return err
	}

	// Keyrings only offer whole-item writes, so the existing attributes
	// are read back and the previous value is wiped straight away.
	prev, err := r.Get(q.Name)
	if err != nil {
		return keyringError("update", err)
	}
	clear(prev.Data)

	prev.Data = value
	return keyringError("update", r.Set(prev))
}

func (s *KeyringKeystore) Delete(q Query) error {
	r, err := s.ring("delete", q.Namespace)
	if err != nil {
		return err
	}

	name := q.Name
	if q.Ref != nil {
		ref, ok := q.Ref.(string)
		if !ok {
			return &Error{Op: "delete", Code: Other, Err: errors.New("foreign reference")}
		}
		name = ref
	}

	exists, err := s.contains(r, name)
	if err != nil {
		return keyringError("delete", err)
	}
	if !exists {
		return &Error{Op: "delete", Code: NotFound}
	}
	return keyringError("delete", r.Remove(name))
}

func (s *KeyringKeystore) Query(q Query) (*Result, error) {
	r, err := s.ring("query", q.Namespace)
	if err != nil {
		return nil, err
	}

	it, err := r.Get(q.Name)
	if err != nil {
		return nil, keyringError("query", err)
	}

	res := &Result{Name: q.Name, CreatedAt: parseCreated(it.Description)}
	if q.ReturnData {
		res.Value = it.Data
	}
	if q.ReturnRef {
		res.Ref = q.Name
	}
	return res, nil
}

func (s *KeyringKeystore) Enumerate(namespace string, _ *access.Context) ([]Record, error) {
	r, err := s.ring("enumerate", namespace)
	if err != nil {
		return nil, err
	}

	keys, err := r.Keys()
	if err != nil {
		return nil, keyringError("enumerate", err)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec := Record{Name: k}
		meta, err := r.GetMetadata(k)
		if err == nil && meta.Item != nil {
			rec.CreatedAt = parseCreated(meta.Description)
		} else if err != nil {
			s.logger.Debug("metadata unavailable", "namespace", namespace, "name", k, "error", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *KeyringKeystore) Purge(namespace string) error {
	r, err := s.ring("purge", namespace)
	if err != nil {
		return err
	}

	keys, err := r.Keys()
	if err != nil {
		return keyringError("purge", err)
	}
	var errs []error
	for _, k := range keys {
		if err := r.Remove(k); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return keyringError("purge", errors.Join(errs...))
}

func parseCreated(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
