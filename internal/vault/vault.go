// Package vault is the authentication-gated secret store engine.
//
// Every operation follows the same shape: negotiate user presence, act on
// the keystore with the strongest protection the host supports, then
// touch the last_access record. When the platform refuses a strong form
// (an unsigned binary, an item written under a different policy) the
// engine steps down to a weaker, still device-local, form and carries on.
// Those retries never surface to the caller unless every form fails.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benaskins/easykey/internal/access"
	"github.com/benaskins/easykey/internal/audit"
	"github.com/benaskins/easykey/internal/keystore"
)

// Default keystore namespaces.
const (
	DefaultSecretsNamespace  = "com.easykey.secrets"
	DefaultMetadataNamespace = "com.easykey.metadata"
)

// Vault is the facade the command surface and the API call into.
type Vault struct {
	ks         keystore.Keystore
	secretsNS  string
	metadataNS string
	secrets    *store
	metadata   *store
	tracker    *audit.Tracker
	negotiator access.Negotiator
	policies   access.PolicyBuilder
	auditLog   *audit.Logger
	actor      string
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	defaultReason string
	tokens        map[string]time.Time // cleanup token -> expiry
}

// New creates a vault over ks. Without options it authenticates through
// the platform's user-presence API and uses the default namespaces.
func New(ks keystore.Keystore, opts ...Option) *Vault {
	v := &Vault{
		ks:         ks,
		secretsNS:  DefaultSecretsNamespace,
		metadataNS: DefaultMetadataNamespace,
		negotiator: access.NewSystemNegotiator(),
		policies:   access.NewSystemPolicyBuilder(),
		logger:     slog.With("component", "vault"),
		now:        time.Now,
		tokens:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.secrets = &store{ks: ks, namespace: v.secretsNS, logger: v.logger}
	v.metadata = &store{ks: ks, namespace: v.metadataNS, logger: v.logger}
	v.tracker = audit.NewTracker(ks, v.metadataNS)
	v.tracker.SetClock(v.now)
	return v
}

// Option configures the vault.
type Option func(*Vault)

// WithNegotiator replaces the user-presence negotiator.
func WithNegotiator(n access.Negotiator) Option {
	return func(v *Vault) {
		v.negotiator = n
	}
}

// WithPolicyBuilder replaces the access-control policy builder.
func WithPolicyBuilder(b access.PolicyBuilder) Option {
	return func(v *Vault) {
		v.policies = b
	}
}

// WithNamespaces sets the keystore namespaces for secrets and metadata.
func WithNamespaces(secrets, metadata string) Option {
	return func(v *Vault) {
		v.secretsNS = secrets
		v.metadataNS = metadata
	}
}

// WithAuditLog records every operation to l. Write failures are logged
// and ignored.
func WithAuditLog(l *audit.Logger) Option {
	return func(v *Vault) {
		v.auditLog = l
	}
}

// WithActor tags audit entries with the calling surface ("cli", "api").
func WithActor(actor string) Option {
	return func(v *Vault) {
		v.actor = actor
	}
}

// WithDefaultReason sets the prompt reason used when a call passes none.
func WithDefaultReason(reason string) Option {
	return func(v *Vault) {
		v.defaultReason = reason
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = l
	}
}

// WithClock replaces the clock used for last_access and token expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// SetDefaultReason replaces the default prompt reason at runtime.
func (v *Vault) SetDefaultReason(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.defaultReason = reason
}

func (v *Vault) reason(given, format string, args ...any) string {
	if given != "" {
		return given
	}
	v.mu.Lock()
	def := v.defaultReason
	v.mu.Unlock()
	if def != "" {
		return def
	}
	return fmt.Sprintf(format, args...)
}

func (v *Vault) authenticate(ctx context.Context, reason string) (*access.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AuthenticationError{Reason: reason, Err: err}
	}
	c, err := v.negotiator.Authenticate(ctx, reason)
	if err != nil {
		return nil, &AuthenticationError{Reason: reason, Err: err}
	}
	if c == nil {
		v.logger.Debug("user presence unavailable, continuing without authentication context")
	}
	return c, nil
}

func (v *Vault) record(action audit.Action, name, reason, path string, err error) {
	if err != nil {
		v.logger.Debug("operation failed", "action", action, "name", name, "error", err)
	} else {
		v.logger.Debug("operation complete", "action", action, "name", name, "path", path)
	}
	if v.auditLog == nil {
		return
	}
	entry := audit.Entry{
		Timestamp: v.now().UTC(),
		Action:    action,
		Key:       name,
		Reason:    reason,
		Actor:     v.actor,
		Path:      path,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := v.auditLog.Log(entry); lerr != nil {
		v.logger.Warn("audit log write failed", "error", lerr)
	}
}

// Set stores value under name, replacing any existing value while keeping
// the original creation time. value is not retained.
func (v *Vault) Set(ctx context.Context, name string, value []byte, reason string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	reason = v.reason(reason, "store the secret %q", name)

	c, err := v.authenticate(ctx, reason)
	if err != nil {
		v.record(audit.ActionSecretWrite, name, reason, "", err)
		return err
	}
	defer c.Release()

	p := v.policies.BuildPolicy()
	defer p.Release()

	path, err := v.secrets.write(name, value, c, p)
	v.record(audit.ActionSecretWrite, name, reason, path, err)
	if err != nil {
		return err
	}
	v.tracker.Touch(c)
	return nil
}

// Get returns the value stored under name. The caller owns the returned
// buffer and should wipe it once used.
func (v *Vault) Get(ctx context.Context, name, reason string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	reason = v.reason(reason, "read the secret %q", name)

	c, err := v.authenticate(ctx, reason)
	if err != nil {
		v.record(audit.ActionSecretRead, name, reason, "", err)
		return nil, err
	}
	defer c.Release()

	value, path, err := v.secrets.read(name, c)
	v.record(audit.ActionSecretRead, name, reason, path, err)
	if err != nil {
		return nil, err
	}
	v.tracker.Touch(c)
	return value, nil
}

// Remove deletes name. Removing a secret that does not exist succeeds.
func (v *Vault) Remove(ctx context.Context, name, reason string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	reason = v.reason(reason, "remove the secret %q", name)

	c, err := v.authenticate(ctx, reason)
	if err != nil {
		v.record(audit.ActionSecretDelete, name, reason, "", err)
		return err
	}
	defer c.Release()

	path, err := v.secrets.remove(name, c)
	v.record(audit.ActionSecretDelete, name, reason, path, err)
	if err != nil {
		return err
	}
	v.tracker.Touch(c)
	return nil
}

// List returns every secret's name and creation time, sorted by name.
// Values are never read.
func (v *Vault) List(ctx context.Context, reason string) ([]keystore.Record, error) {
	reason = v.reason(reason, "list stored secrets")

	c, err := v.authenticate(ctx, reason)
	if err != nil {
		v.record(audit.ActionSecretList, "", reason, "", err)
		return nil, err
	}
	defer c.Release()

	records, err := v.secrets.list(c)
	v.record(audit.ActionSecretList, "", reason, "", err)
	if err != nil {
		return nil, err
	}
	v.tracker.Touch(c)
	return records, nil
}

// Status summarizes the vault without prompting.
type Status struct {
	Secrets    int
	LastAccess time.Time // zero when never recorded
}

// MarshalJSON renders last_access in the stored format, or null.
func (s Status) MarshalJSON() ([]byte, error) {
	var last *string
	if !s.LastAccess.IsZero() {
		v := s.LastAccess.UTC().Format(audit.TimeFormat)
		last = &v
	}
	return json.Marshal(struct {
		Secrets    int     `json:"secrets"`
		LastAccess *string `json:"last_access"`
	}{s.Secrets, last})
}

// Status counts the stored secrets and reads last_access. It neither
// authenticates nor touches last_access.
func (v *Vault) Status() (*Status, error) {
	records, err := v.secrets.list(nil)
	if err != nil {
		return nil, err
	}
	last, err := v.tracker.LastAccess()
	if err != nil {
		v.logger.Debug("last_access unreadable", "code", keystore.CodeOf(err), "error", err)
		last = time.Time{}
	}
	return &Status{Secrets: len(records), LastAccess: last}, nil
}
