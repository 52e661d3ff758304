package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benaskins/easykey/internal/keystore"
)

func TestCleanupEmptiesVault(t *testing.T) {
	v, _, _ := strongVault()
	for _, n := range []string{"a", "b", "c"} {
		mustSet(t, v, n, "v")
	}

	report, err := v.Cleanup(context.Background(), v.RequestCleanup(), "")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if report.Removed != 3 || len(report.Failed) != 0 {
		t.Errorf("unexpected report %+v", report)
	}

	st, _ := v.Status()
	if st.Secrets != 0 {
		t.Errorf("expected empty vault, got %d secrets", st.Secrets)
	}
	if !st.LastAccess.IsZero() {
		t.Errorf("expected last_access absent, got %v", st.LastAccess)
	}
}

func TestCleanupSurvivesIndividualFailures(t *testing.T) {
	v, ks, _ := strongVault()
	for _, n := range []string{"a", "stuck", "c"} {
		mustSet(t, v, n, "v")
	}
	ks.SetRejector(func(c keystore.Call) keystore.Code {
		if c.Op == keystore.OpDelete && c.Name == "stuck" {
			return keystore.AccessControlMismatch
		}
		return keystore.Success
	})

	report, err := v.Cleanup(context.Background(), v.RequestCleanup(), "")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if report.Removed != 2 {
		t.Errorf("expected 2 removed, got %d", report.Removed)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "stuck" {
		t.Errorf("expected stuck to fail, got %v", report.Failed)
	}

	st, _ := v.Status()
	if st.Secrets != 0 {
		t.Errorf("expected sweep to empty the vault, got %d secrets", st.Secrets)
	}
}

func TestCleanupLeavesForeignRecords(t *testing.T) {
	v, ks, _ := strongVault()
	mustSet(t, v, "a", "v")
	ks.Insert(keystore.Item{Namespace: "com.other.app", Name: "a", Value: []byte("theirs")})

	if _, err := v.Cleanup(context.Background(), v.RequestCleanup(), ""); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := ks.Query(keystore.Query{Namespace: "com.other.app", Name: "a"}); err != nil {
		t.Errorf("foreign record removed: %v", err)
	}
}

func TestCleanupTokenIsSingleUse(t *testing.T) {
	v, _, _ := strongVault()
	token := v.RequestCleanup()

	if _, err := v.Cleanup(context.Background(), token, ""); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := v.Cleanup(context.Background(), token, ""); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected reused token to be rejected, got %v", err)
	}
}

func TestCleanupTokenExpires(t *testing.T) {
	c := &clock{now: t0}
	v, _, n := strongVault(WithClock(c.Now))
	token := v.RequestCleanup()

	c.now = c.now.Add(CleanupTokenTTL + time.Second)
	if _, err := v.Cleanup(context.Background(), token, ""); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
	if n.prompts != 0 {
		t.Error("expired token reached authentication")
	}
}

func TestCleanupUnknownToken(t *testing.T) {
	v, _, _ := strongVault()

	if _, err := v.Cleanup(context.Background(), "not-a-token", ""); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestCleanupAuthenticatesOnce(t *testing.T) {
	v, _, n := strongVault()
	for _, name := range []string{"a", "b", "c"} {
		mustSet(t, v, name, "v")
	}
	before := n.prompts

	v.Cleanup(context.Background(), v.RequestCleanup(), "")

	if n.prompts-before != 1 {
		t.Errorf("expected one prompt, got %d", n.prompts-before)
	}
}
