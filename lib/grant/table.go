// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"sync"

	"github.com/nukleusrun/oauthproxy/lib/realm"
)

// Table is the grant table: one slot per realm bit position, each
// holding affinity-keyed maps of subject-keyed grants.
type Table struct {
	mu   sync.Mutex
	rows [realm.MaxRealms]map[uint64]map[string]*AccessGrant
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

// SupplyGrant returns the shared AccessGrant for (realmIndex,
// affinityID, subject), creating it on first sight. If hasSubject is
// false (an anonymous stream), a fresh grant with a no-op cleaner is
// returned every time and is never stored in the table — anonymous
// grants are never shared across streams.
func (t *Table) SupplyGrant(realmIndex int, affinityID uint64, subject string, hasSubject bool) *AccessGrant {
	if !hasSubject {
		return &AccessGrant{cleaner: func() {}}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rows[realmIndex] == nil {
		t.rows[realmIndex] = map[uint64]map[string]*AccessGrant{}
	}
	subjects := t.rows[realmIndex][affinityID]
	if subjects == nil {
		subjects = map[string]*AccessGrant{}
		t.rows[realmIndex][affinityID] = subjects
	}

	if g, ok := subjects[subject]; ok {
		return g
	}

	g := &AccessGrant{subject: subject, hasSubject: true}
	g.cleaner = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(subjects, subject)
		if len(subjects) == 0 {
			delete(t.rows[realmIndex], affinityID)
		}
	}
	subjects[subject] = g
	return g
}

// Lookup returns the grant registered for (realmIndex, affinityID,
// subject), if one is currently in the table. Intended for tests that
// assert invariant 4 (a released grant is no longer reachable under
// any key).
func (t *Table) Lookup(realmIndex int, affinityID uint64, subject string) (*AccessGrant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subjects := t.rows[realmIndex][affinityID]
	if subjects == nil {
		return nil, false
	}
	g, ok := subjects[subject]
	return g, ok
}
