// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"testing"
	"time"

	"github.com/nukleusrun/oauthproxy/lib/testutil"
)

func TestReauthorize_FirstBindingIsUnconditional(t *testing.T) {
	g := &AccessGrant{cleaner: func() {}}
	exp := time.Now().Add(time.Hour)

	monotonic := g.Reauthorize(0x0001_0000_0000_0001, exp, 0)
	if monotonic {
		t.Error("first binding should report false (unconditional, not monotonic)")
	}
	if g.Authorization() != 0x0001_0000_0000_0001 {
		t.Errorf("Authorization() = %#x, want 0x0001000000000001", g.Authorization())
	}
	if !g.ExpiresAt().Equal(exp) {
		t.Errorf("ExpiresAt() = %v, want %v", g.ExpiresAt(), exp)
	}
}

func TestReauthorize_MonotonicUpdateAccepted(t *testing.T) {
	g := &AccessGrant{cleaner: func() {}}
	base := time.Now()
	g.Reauthorize(0x0001_0000_0000_0001, base.Add(time.Hour), 0)
	g.Acquire()

	ok := g.Reauthorize(0x0001_0000_0000_0003, base.Add(2*time.Hour), 0)
	if !ok {
		t.Fatal("a superset authorization with a later expiry should be accepted")
	}
	if !g.ExpiresAt().Equal(base.Add(2 * time.Hour)) {
		t.Errorf("ExpiresAt() = %v, want extended expiry", g.ExpiresAt())
	}
}

func TestReauthorize_NarrowedAuthorizationRejected(t *testing.T) {
	g := &AccessGrant{cleaner: func() {}}
	base := time.Now()
	g.Reauthorize(0x0001_0000_0000_0003, base.Add(time.Hour), 0)
	g.Acquire()

	ok := g.Reauthorize(0x0001_0000_0000_0001, base.Add(2*time.Hour), 0)
	if ok {
		t.Fatal("an authorization that is not a superset of the existing one must be rejected")
	}
	if g.Authorization() != 0x0001_0000_0000_0003 {
		t.Errorf("Authorization() changed on a rejected update: %#x", g.Authorization())
	}
	if !g.ExpiresAt().Equal(base.Add(time.Hour)) {
		t.Errorf("ExpiresAt() changed on a rejected update: %v", g.ExpiresAt())
	}
}

func TestReauthorize_EarlierExpiryRejected(t *testing.T) {
	g := &AccessGrant{cleaner: func() {}}
	base := time.Now()
	g.Reauthorize(0x0001_0000_0000_0001, base.Add(2*time.Hour), 0)
	g.Acquire()

	ok := g.Reauthorize(0x0001_0000_0000_0001, base.Add(time.Hour), 0)
	if ok {
		t.Fatal("an earlier or equal expiry must be rejected")
	}
}

func TestAcquireRelease_CleanerFiresOnce(t *testing.T) {
	fired := 0
	g := &AccessGrant{}
	g.cleaner = func() { fired++ }

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if g.RefCount() != 2 {
		t.Fatalf("RefCount() = %d, want 2", g.RefCount())
	}

	g.Release()
	if fired != 0 {
		t.Fatalf("cleaner fired at refCount 1")
	}
	g.Release()
	if fired != 1 {
		t.Fatalf("cleaner fired %d times, want 1", fired)
	}
}

func TestAcquire_PoisonedAfterRelease(t *testing.T) {
	g := &AccessGrant{cleaner: func() {}}
	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	g.Release()

	if err := g.Acquire(); err != ErrPoisoned {
		t.Fatalf("Acquire after full release = %v, want ErrPoisoned", err)
	}
}

func TestSupplyGrant_SharesAcrossAffinitySubject(t *testing.T) {
	table := NewTable()
	a := table.SupplyGrant(0, 42, "alice", true)
	b := table.SupplyGrant(0, 42, "alice", true)
	if a != b {
		t.Error("SupplyGrant should return the same grant for the same key")
	}
}

func TestSupplyGrant_AnonymousNeverShared(t *testing.T) {
	table := NewTable()
	a := table.SupplyGrant(0, 42, "", false)
	b := table.SupplyGrant(0, 42, "", false)
	if a == b {
		t.Error("anonymous grants must never be shared")
	}
	if _, ok := table.Lookup(0, 42, ""); ok {
		t.Error("anonymous grants must never be stored in the table")
	}
}

func TestSupplyGrant_RemovedFromTableAfterLastRelease(t *testing.T) {
	table := NewTable()
	g := table.SupplyGrant(3, 7, "bob", true)
	g.Acquire()

	if _, ok := table.Lookup(3, 7, "bob"); !ok {
		t.Fatal("grant should be reachable while acquired")
	}

	g.Release()
	if _, ok := table.Lookup(3, 7, "bob"); ok {
		t.Error("grant should not be reachable after its last release")
	}

	fresh := table.SupplyGrant(3, 7, "bob", true)
	if fresh == g {
		t.Error("SupplyGrant after full release should hand back a fresh grant, not the released one")
	}
}

func TestSupplyGrant_DistinctSubjectsNeverShareAGrant(t *testing.T) {
	table := NewTable()

	seen := map[*AccessGrant]bool{}
	for i := 0; i < 8; i++ {
		subject := testutil.UniqueID("subject")
		g := table.SupplyGrant(1, 99, subject, true)
		if seen[g] {
			t.Fatalf("subject %q collided with a previously issued grant", subject)
		}
		seen[g] = true
	}
}
