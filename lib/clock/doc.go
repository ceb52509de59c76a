// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time abstraction behind the
// proxy core's one stateful timer: the per-pair expiry/challenge
// wakeup a reply half schedules in Pair.scheduleTimer. The interface
// is deliberately narrow — Now and AfterFunc are the only two
// operations that half ever needs — rather than a general-purpose
// stand-in for the whole time package.
//
// Real() provides the standard library behavior; Fake() provides a
// deterministic clock that advances only when Advance is called, so
// timer tests never depend on wall-clock sleeps.
//
// # Wiring Pattern
//
// Factory carries a Clock field threaded into every Pair it builds:
//
//	factory := &Factory{Clock: clock.Real(), ...}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	factory := &Factory{Clock: c, ...}
//	// ... Accept schedules the reply half's timer ...
//	c.Advance(5 * time.Second) // fire it deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls AfterFunc on a FakeClock concurrently with
// the test, call WaitForTimers first to block until the expected
// number of timers are registered before calling Advance. This
// eliminates the race between timer registration and time advancement
// that plagues tests using time.Sleep for synchronization.
package clock
