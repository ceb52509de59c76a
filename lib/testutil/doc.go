// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for this repository's
// packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the places in the test suite where real wall-clock timeouts are
// used to bound a goroutine under test, as opposed to the fake,
// manually-advanced clock used for the expiry/challenge timer itself.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it when a test needs several distinct grant
// subjects or stream affinities that must not collide with each
// other.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
