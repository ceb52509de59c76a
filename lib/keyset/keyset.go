// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyset parses a JWK set once at startup into an immutable
// kid-indexed map, rejecting keys the token verifier could never use
// unambiguously.
package keyset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// ErrMissingKID is returned when a JWK omits "kid".
var ErrMissingKID = errors.New("Key without kid")

// ErrMissingAlg is returned when a JWK omits "alg".
var ErrMissingAlg = errors.New("Key without alg")

// ErrDuplicateKID is returned when two JWKs in the same set share a "kid".
var ErrDuplicateKID = errors.New("Key with duplicate kid")

// Key is an immutable, validated entry from a JWK set.
type Key struct {
	KID      string
	Alg      string
	material any // go-jose's decoded public key material (e.g. *rsa.PublicKey, ed25519.PublicKey)
}

// Material returns the key's public material, suitable for passing to
// a jose.JSONWebSignature.Verify call.
func (k Key) Material() any {
	return k.material
}

// Set is an immutable, concurrency-safe mapping from kid to Key.
type Set struct {
	keys map[string]Key
}

// Lookup returns the key registered under kid, if any.
func (s *Set) Lookup(kid string) (Key, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of keys in the set.
func (s *Set) Len() int {
	return len(s.keys)
}

// Empty returns an empty, usable Set — the result of loading a
// missing key file, which is tolerated rather than treated as an
// error.
func Empty() *Set {
	return &Set{keys: map[string]Key{}}
}

// LoadFile reads and parses a JWK-set JSON file at path. A missing
// file yields an empty set, not an error — only a malformed or
// structurally invalid file is fatal.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("keyset: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes JWK-set JSON and validates every key, failing on the
// first structural problem: a missing kid, a missing alg, or a
// duplicate kid across the set.
func Parse(jwkSetJSON []byte) (*Set, error) {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(jwkSetJSON, &raw); err != nil {
		return nil, fmt.Errorf("keyset: malformed JWK set: %w", err)
	}

	keys := make(map[string]Key, len(raw.Keys))
	for _, entry := range raw.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(entry); err != nil {
			return nil, fmt.Errorf("keyset: malformed JWK: %w", err)
		}

		// jose.JSONWebKey.UnmarshalJSON accepts keys without "kid" or
		// "alg" (both are optional per RFC 7517); this proxy requires
		// both, matching the reference implementation's load-time
		// validation.
		if jwk.KeyID == "" {
			return nil, ErrMissingKID
		}

		var raw struct {
			Alg string `json:"alg"`
		}
		_ = json.Unmarshal(entry, &raw)
		if raw.Alg == "" {
			return nil, ErrMissingAlg
		}

		if _, exists := keys[jwk.KeyID]; exists {
			return nil, ErrDuplicateKID
		}

		keys[jwk.KeyID] = Key{KID: jwk.KeyID, Alg: raw.Alg, material: jwk.Key}
	}

	return &Set{keys: keys}, nil
}
