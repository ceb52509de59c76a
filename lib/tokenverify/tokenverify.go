// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenverify extracts a bearer JWT from an inbound request
// and verifies its JWS compact serialization against a key set,
// checking the time-bound claims before the signature so that an
// expired token never pays for signature verification.
package tokenverify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/nukleusrun/oauthproxy/lib/keyset"
)

// queryAccessToken matches an access_token query parameter anywhere
// in a request path, mirroring the reference implementation's regex.
var queryAccessToken = regexp.MustCompile(`(?:\?|.*?&)access_token=([^&#]+)(?:&.*)?`)

// allowedAlgorithms is the set of JWS algorithms this proxy will even
// attempt to parse. go-jose/v4 requires an explicit allow-list at
// parse time rather than trusting the token's own "alg" header; the
// key-specific check in Verify narrows this further to the single
// algorithm recorded for the token's kid.
var allowedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
	jose.HS256, jose.HS384, jose.HS512,
}

// Claims is the subset of JWT claims this proxy reads.
type Claims struct {
	Subject        string
	Issuer         string
	Audience       string
	Scope          string
	ExpiresAt      *time.Time
	NotBefore      *time.Time
	ChallengeAfter *time.Time
}

// ExtractBearer finds the bearer token carried on an inbound BEGIN's
// HTTP headers. It checks the ":path" query string first, then the
// "authorization" header; if both are present the header-derived
// token wins, matching the reference implementation's
// last-assignment-wins evaluation order. Returns "" if neither header
// carries a token.
func ExtractBearer(path, authorization string) string {
	token := ""
	if m := queryAccessToken.FindStringSubmatch(path); m != nil {
		token = m[1]
	}
	if after, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		token = after
	}
	return token
}

// Result is the outcome of verifying a bearer token.
type Result struct {
	Verified bool
	KID      string
	Claims   Claims
}

// Verify parses token as a JWS compact serialization, validates its
// kid/alg against keys, checks exp/nbf against now, and verifies the
// signature — in that order, so an expired or not-yet-valid token
// never reaches signature verification. namespace, if non-empty, is
// prefixed to "caf" to locate the challenge-after claim.
//
// Every failure mode (no matching kid, alg mismatch, expired,
// not-yet-valid, bad signature, malformed JWS) collapses to
// Result{Verified: false}: per the spec's error handling design, a
// token verification failure is never a fatal condition, only a
// demotion to unauthenticated.
func Verify(keys *keyset.Set, token string, namespace string, now time.Time) Result {
	jws, err := jose.ParseSigned(token, allowedAlgorithms)
	if err != nil || len(jws.Signatures) == 0 {
		return Result{}
	}

	header := jws.Signatures[0].Header
	kid := header.KeyID
	alg := header.Algorithm
	if kid == "" || alg == "" {
		return Result{}
	}

	key, ok := keys.Lookup(kid)
	if !ok || key.Alg != alg {
		return Result{}
	}

	payload := jws.UnsafePayloadWithoutVerification()
	claims, err := parseClaims(payload, namespace)
	if err != nil {
		return Result{}
	}
	if claims.ExpiresAt != nil && now.After(*claims.ExpiresAt) {
		return Result{}
	}
	if claims.NotBefore != nil && now.Before(*claims.NotBefore) {
		return Result{}
	}

	if _, err := jws.Verify(key.Material()); err != nil {
		return Result{}
	}

	return Result{Verified: true, KID: kid, Claims: claims}
}

func parseClaims(payload []byte, namespace string) (Claims, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claims{}, fmt.Errorf("tokenverify: malformed claims: %w", err)
	}

	claims := Claims{
		Subject:  stringClaim(raw, "sub"),
		Issuer:   stringClaim(raw, "iss"),
		Audience: stringClaim(raw, "aud"),
		Scope:    stringClaim(raw, "scope"),
	}
	claims.ExpiresAt = numericDateClaim(raw, "exp")
	claims.NotBefore = numericDateClaim(raw, "nbf")
	claims.ChallengeAfter = numericDateClaim(raw, namespace+"caf")

	return claims, nil
}

func stringClaim(raw map[string]any, name string) string {
	if v, ok := raw[name].(string); ok {
		return v
	}
	return ""
}

func numericDateClaim(raw map[string]any, name string) *time.Time {
	v, ok := raw[name]
	if !ok {
		return nil
	}
	seconds, ok := v.(float64)
	if !ok {
		return nil
	}
	t := time.Unix(int64(seconds), 0).UTC()
	return &t
}
