package audit

import (
	"testing"
	"time"

	"github.com/benaskins/easykey/internal/access"
	"github.com/benaskins/easykey/internal/keystore"
)

const metaNS = "com.easykey.metadata"

func TestTouchInsertsThenUpdates(t *testing.T) {
	ks := keystore.NewMemoryKeystore()
	tr := NewTracker(ks, metaNS)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 123_000_000, time.UTC)

	got, err := tr.LastAccess()
	if err != nil {
		t.Fatalf("LastAccess: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected no last_access yet, got %v", got)
	}

	tr.SetClock(func() time.Time { return t0 })
	tr.Touch(nil)

	res, err := ks.Query(keystore.Query{Namespace: metaNS, Name: LastAccessKey, ReturnData: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if string(res.Value) != "2026-03-01T09:00:00.123Z" {
		t.Errorf("unexpected stored value %q", res.Value)
	}

	tr.SetClock(func() time.Time { return t0.Add(time.Minute) })
	tr.Touch(nil)

	got, err = tr.LastAccess()
	if err != nil {
		t.Fatalf("LastAccess: %v", err)
	}
	if !got.Equal(t0.Add(time.Minute)) {
		t.Errorf("expected %v, got %v", t0.Add(time.Minute), got)
	}
}

func TestTouchConvertsToUTC(t *testing.T) {
	ks := keystore.NewMemoryKeystore()
	tr := NewTracker(ks, metaNS)
	zone := time.FixedZone("AEST", 10*60*60)
	tr.SetClock(func() time.Time { return time.Date(2026, 3, 1, 19, 0, 0, 0, zone) })

	tr.Touch(nil)

	res, _ := ks.Query(keystore.Query{Namespace: metaNS, Name: LastAccessKey, ReturnData: true})
	if string(res.Value) != "2026-03-01T09:00:00.000Z" {
		t.Errorf("unexpected stored value %q", res.Value)
	}
}

func TestTouchSwallowsFailures(t *testing.T) {
	ks := keystore.NewMemoryKeystore()
	ks.SetRejector(func(keystore.Call) keystore.Code { return keystore.Other })
	tr := NewTracker(ks, metaNS)

	tr.Touch(nil)
}

func TestTouchRetriesWithoutContext(t *testing.T) {
	ks := keystore.NewMemoryKeystore()
	tr := NewTracker(ks, metaNS)
	tr.Touch(nil)

	ks.SetRejector(func(c keystore.Call) keystore.Code {
		if c.HasContext {
			return keystore.MissingEntitlement
		}
		return keystore.Success
	})
	t1 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return t1 })

	tr.Touch(access.NewContext(nil, nil))

	got, _ := tr.LastAccess()
	if !got.Equal(t1) {
		t.Errorf("expected %v, got %v", t1, got)
	}
}

func TestTouchUsesMinimalAccessibility(t *testing.T) {
	ks := keystore.NewMemoryKeystore()
	tr := NewTracker(ks, metaNS)
	tr.Touch(access.NewContext(nil, nil))

	if ks.RequiresUserPresence(metaNS, LastAccessKey) {
		t.Error("metadata must not require user presence")
	}
}
