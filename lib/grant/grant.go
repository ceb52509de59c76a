// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package grant implements the shared, reference-counted access grant
// that sibling streams for the same subject on the same affinity pool
// their authorization and expiry state through.
package grant

import (
	"errors"
	"sync"
	"time"
)

// ErrPoisoned is returned by Acquire when called on a grant whose
// reference count has already reached zero and whose cleaner has
// already fired. Acquiring a released grant is a use-after-release
// bug in the caller, not a recoverable runtime condition.
var ErrPoisoned = errors.New("grant: acquire on released grant")

// Never represents an authorization with no expiry (the zero
// time.Time, which no real token claim will ever produce). A timer is
// never scheduled against Never.
var Never = time.Time{}

// AccessGrant is the shared authorization state for one subject (or
// one anonymous stream) on one affinity. It is reference counted: the
// last release triggers its cleaner, which removes it from the Table
// it was created in.
type AccessGrant struct {
	mu sync.Mutex

	subject    string
	hasSubject bool

	authorization  uint64
	expiresAt      time.Time
	challengeDelta time.Duration

	refCount uint32
	cleaner  func()
}

// Authorization returns the grant's current authorization bits.
func (g *AccessGrant) Authorization() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorization
}

// ExpiresAt returns the grant's current expiry, or the zero time
// (Never) if the grant does not expire.
func (g *AccessGrant) ExpiresAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expiresAt
}

// ChallengeDelta returns the grant's current challenge-before-expiry
// interval.
func (g *AccessGrant) ChallengeDelta() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.challengeDelta
}

// Reauthorize applies a freshly verified token's authorization,
// expiry, and challenge delta to the grant. On the first binding
// (RefCount() == 0 at the time of the call, i.e. this is the grant's
// first stream) the new values are set unconditionally and the call
// returns false. On every subsequent call the update is accepted only
// if it is monotonic: the new authorization is a superset of the
// existing one (existing & new == existing) and the new expiry is
// strictly later. A rejected update leaves the grant untouched and
// the stream runs under the grant's existing, unexpired state.
func (g *AccessGrant) Reauthorize(newAuth uint64, newExpiresAt time.Time, newChallengeDelta time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refCount == 0 {
		g.authorization = newAuth
		g.expiresAt = newExpiresAt
		g.challengeDelta = newChallengeDelta
		return false
	}

	monotonic := (g.authorization&newAuth) == g.authorization && newExpiresAt.After(g.expiresAt)
	if monotonic {
		g.expiresAt = newExpiresAt
		g.challengeDelta = newChallengeDelta
	}
	return monotonic
}

// Acquire increments the grant's reference count. It returns
// ErrPoisoned if the grant has already been fully released.
func (g *AccessGrant) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cleaner == nil && g.refCount == 0 {
		return ErrPoisoned
	}
	g.refCount++
	return nil
}

// Release decrements the grant's reference count. At zero it invokes
// the cleaner exactly once (removing the grant from its owning
// Table), then clears the cleaner so a subsequent Acquire fails
// loudly instead of resurrecting a grant the table no longer holds.
func (g *AccessGrant) Release() {
	g.mu.Lock()
	g.refCount--
	fire := g.refCount == 0 && g.cleaner != nil
	var cleaner func()
	if fire {
		cleaner = g.cleaner
		g.cleaner = nil
	}
	g.mu.Unlock()

	if cleaner != nil {
		cleaner()
	}
}

// RefCount returns the grant's current reference count.
func (g *AccessGrant) RefCount() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refCount
}
