// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package realm packs realm identity and per-realm scope sets into a
// single 64-bit authorization word, with bijective resolve/lookup and
// a reclaiming unresolve.
package realm

import (
	"strings"
	"sync"
)

const (
	// RealmMask selects bits 48..63, the realm identity bits.
	RealmMask uint64 = 0xFFFF_0000_0000_0000
	// ScopeMask selects bits 0..47, the per-realm scope bits.
	ScopeMask uint64 = 0x0000_FFFF_FFFF_FFFF

	// MaxRealms is the number of distinct realm bits available.
	MaxRealms = 16
	// MaxScopesPerRealm is the number of distinct scope bits available
	// within a single RealmInfo.
	MaxScopesPerRealm = 48
)

// Info is one (issuer, audience) binding within a named realm,
// allocated a single realm bit and its own scope-bit namespace.
type Info struct {
	RealmID      uint64
	Issuer       string
	Audience     string
	scopeBits    map[string]uint64
	nextScopeBit int
}

// realmEntry groups the Infos registered under one realm name.
type realmEntry struct {
	name  string
	infos []*Info
}

// Registry assigns realm and scope bits on first sight and answers
// resolve/lookup/unresolve against the assignments it has made. The
// original reactive worker treated its bit counters as process-wide
// ambient state; this type makes them explicit fields on a value the
// caller constructs and threads through, per SPEC_FULL.md's "global
// mutable state" design note.
//
// Registry is safe for concurrent use: a Go server may deliver BEGIN
// frames for distinct streams on different goroutines, unlike the
// reference implementation's single-threaded worker.
type Registry struct {
	mu           sync.Mutex
	realms       map[string]*realmEntry
	nextRealmBit int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{realms: map[string]*realmEntry{}}
}

// Resolve interns the RealmInfo for (realmName, issuer, audience),
// assigning it a realm bit on first sight, then OR-s in a scope bit
// for each of scopes (assigned on first sight within that RealmInfo).
// Returns 0 if the realm-bit space is saturated or if adding
// len(scopes) new scopes would overflow this RealmInfo's scope-bit
// space — in either case the caller observes an unauthenticated
// authorization, matching §7's "saturated realm/scope space" error
// kind.
func (r *Registry) Resolve(realmName, issuer, audience string, scopes []string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nextRealmBit >= MaxRealms {
		return 0
	}

	entry := r.realms[realmName]
	if entry == nil {
		entry = &realmEntry{name: realmName}
		r.realms[realmName] = entry
	}

	info := findInfo(entry.infos, issuer, audience)
	if info == nil {
		info = &Info{
			RealmID:   1 << uint(r.nextRealmBit) << 48,
			Issuer:    issuer,
			Audience:  audience,
			scopeBits: map[string]uint64{},
		}
		r.nextRealmBit++
		entry.infos = append(entry.infos, info)
	}

	if info.nextScopeBit+len(scopes) > MaxScopesPerRealm {
		return 0
	}

	authorization := info.RealmID
	for _, s := range scopes {
		authorization |= info.supplyScopeBit(s)
	}
	return authorization
}

// supplyScopeBit returns the bit for scope, assigning a fresh one on
// first sight.
func (info *Info) supplyScopeBit(scope string) uint64 {
	if bit, ok := info.scopeBits[scope]; ok {
		return bit
	}
	bit := uint64(1) << uint(info.nextScopeBit)
	info.nextScopeBit++
	info.scopeBits[scope] = bit
	return bit
}

// Lookup selects the realm named kid, finds the RealmInfo matching
// (issuer, audience), and OR-s in bits for only the scopes already
// known to that RealmInfo — scopes Resolve has never seen contribute
// 0 and are never created by a lookup. Returns 0 if no realm named kid
// exists, or no RealmInfo matches (issuer, audience).
func (r *Registry) Lookup(kid, issuer, audience string, scopes []string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.realms[kid]
	if entry == nil {
		return 0
	}
	info := findInfo(entry.infos, issuer, audience)
	if info == nil {
		return 0
	}

	authorization := info.RealmID
	for _, s := range scopes {
		if bit, ok := info.scopeBits[s]; ok {
			authorization |= bit
		}
	}
	return authorization
}

// LookupClaims is a convenience over Lookup for callers holding a
// verified token's claims, splitting the space-delimited "scope"
// claim the way the reference implementation does.
func (r *Registry) LookupClaims(kid, issuer, audience, scopeClaim string) uint64 {
	return r.Lookup(kid, issuer, audience, splitScope(scopeClaim))
}

// Unresolve removes the RealmInfo holding authorization's single
// realm bit, pruning the owning realm entirely if that was its last
// RealmInfo. Returns false if authorization carries zero or more than
// one realm bit, or if no RealmInfo was found holding it (so a second
// call with the same authorization returns false).
func (r *Registry) Unresolve(authorization uint64) bool {
	realmBit := authorization & RealmMask
	if realmBit == 0 || realmBit&(realmBit-1) != 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, entry := range r.realms {
		for i, info := range entry.infos {
			if info.RealmID != realmBit {
				continue
			}
			entry.infos = append(entry.infos[:i], entry.infos[i+1:]...)
			if len(entry.infos) == 0 {
				delete(r.realms, name)
			}
			return true
		}
	}
	return false
}

// BitIndex returns the 0..15 position of authorization's single realm
// bit, and false if authorization carries zero or more than one realm
// bit. Used to index the Grant Table's per-realm slot.
func BitIndex(authorization uint64) (int, bool) {
	realmBit := authorization & RealmMask
	if realmBit == 0 || realmBit&(realmBit-1) != 0 {
		return 0, false
	}
	for i := 0; i < MaxRealms; i++ {
		if realmBit == uint64(1)<<uint(i)<<48 {
			return i, true
		}
	}
	return 0, false
}

func findInfo(infos []*Info, issuer, audience string) *Info {
	for _, info := range infos {
		if info.Issuer == issuer && info.Audience == audience {
			return info
		}
	}
	return nil
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
