// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements an authorizing stream proxy: it accepts a
// stream carrying a bearer token, verifies the token, resolves the
// authorization it grants to a downstream route, and relays the
// stream there for as long as the grant it acquired stays valid.
//
// [Factory] is the process-wide entry point. Accept takes an inbound
// BEGIN frame, verifies its bearer token against a [keyset.Set],
// resolves realm membership via a [realm.Registry], supplies or
// reauthorizes a shared [grant.AccessGrant] from a [grant.Table],
// resolves a [Route] from a [RouteTable], dials it, and returns a
// running [Pair].
//
// [Pair] is one proxied connection: an initial [Half] relaying
// accept→connect and a reply Half relaying connect→accept, sharing
// one AccessGrant. Only the reply half ever carries a timer — the
// expiry/challenge wakeup that Pair.scheduleTimer arms.
// A Half forwards stream frames one-for-one and mirrors throttle
// frames back; its state field doubles as the correlation table that
// tracks whether the downstream BEGIN has arrived yet.
//
// [Config] and [LoadConfig] load the static route table and the few
// process-wide toggles (ExpireInFlightRequests,
// ChallengeDeltaClaimNamespace, the key-set path, the listen address)
// from YAML. cmd/oauthproxy owns the accepting endpoint's connection
// loop and the per-connection dispatch into Factory.Accept and the
// resulting Pair; this package never touches a net.Listener directly.
package proxy
