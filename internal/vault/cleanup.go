package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/benaskins/easykey/internal/audit"
	"github.com/benaskins/easykey/internal/keystore"
)

// CleanupTokenTTL is how long a cleanup confirmation token stays valid.
const CleanupTokenTTL = 5 * time.Minute

// CleanupReport is the outcome of a cleanup.
type CleanupReport struct {
	Removed int      `json:"removed"`
	Failed  []string `json:"failed"`
}

// RequestCleanup issues a single-use token that Cleanup must present.
func (v *Vault) RequestCleanup() string {
	token := uuid.NewString()
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()
	for t, exp := range v.tokens {
		if !now.Before(exp) {
			delete(v.tokens, t)
		}
	}
	v.tokens[token] = now.Add(CleanupTokenTTL)
	return token
}

func (v *Vault) redeem(token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	exp, ok := v.tokens[token]
	delete(v.tokens, token)
	if !ok || !v.now().Before(exp) {
		return fmt.Errorf("%w: cleanup token is unknown, used, or expired", ErrInvalidArguments)
	}
	return nil
}

// Cleanup removes every secret and the vault metadata. Each secret is
// removed individually so that records written under any protection tier
// are reached; individual failures are reported, not fatal. Both
// namespaces are then swept. Afterwards last_access is absent.
func (v *Vault) Cleanup(ctx context.Context, token, reason string) (*CleanupReport, error) {
	if err := v.redeem(token); err != nil {
		return nil, err
	}
	reason = v.reason(reason, "remove all stored secrets")

	c, err := v.authenticate(ctx, reason)
	if err != nil {
		v.record(audit.ActionVaultCleanup, "", reason, "", err)
		return nil, err
	}
	defer c.Release()

	report := &CleanupReport{Failed: []string{}}

	records, err := v.secrets.list(c)
	if err != nil {
		v.logger.Warn("enumeration failed, sweeping namespaces only", "code", keystore.CodeOf(err), "error", err)
	}
	for _, r := range records {
		if _, err := v.secrets.remove(r.Name, c); err != nil {
			v.logger.Warn("secret not removed", "name", r.Name, "code", keystore.CodeOf(err), "error", err)
			report.Failed = append(report.Failed, r.Name)
			continue
		}
		report.Removed++
	}

	err = errors.Join(v.secrets.purge(), v.metadata.purge())
	v.record(audit.ActionVaultCleanup, "", reason, "", err)
	if err != nil {
		return report, err
	}
	return report, nil
}
