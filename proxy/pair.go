// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"log/slog"
	"time"

	"github.com/nukleusrun/oauthproxy/lib/clock"
	"github.com/nukleusrun/oauthproxy/lib/grant"
	"github.com/nukleusrun/oauthproxy/wire"
)

// Pair is one logical proxied connection: an initial half relaying
// accept→connect and a reply half relaying connect→accept, sharing
// one AccessGrant. Only the reply half ever carries a timer. The
// reply half's PendingReply/Active state is this repository's
// correlation table: "present" means PendingReply, "removed" means
// the transition to Active, matching SPEC_FULL.md §3's invariant
// without a second map to keep in sync.
type Pair struct {
	Initial *Half
	Reply   *Half

	Grant *grant.AccessGrant

	clock  clock.Clock
	logger *slog.Logger
	writer wire.Writer
}

// scheduleTimer applies SPEC_FULL.md §4.5's construction-time
// scheduling rule to the reply half: challenge-before-expiry if the
// reply side advertises the challenge capability and the grant has a
// non-zero challenge delta, otherwise a plain expiry timer, otherwise
// (no expiry) none at all.
func (p *Pair) scheduleTimer() {
	exp := p.Grant.ExpiresAt()
	if exp.Equal(grant.Never) {
		return
	}
	delta := p.Grant.ChallengeDelta()
	if wire.CanChallenge(p.Reply.getCapabilities()) && delta > 0 {
		p.Reply.scheduleAt(p.clock, exp.Add(-delta), p.onTimerFire)
	} else {
		p.Reply.scheduleAt(p.clock, exp, p.onTimerFire)
	}
}

// onTimerFire is the reply half's GRANT_VALIDATION signal handler.
func (p *Pair) onTimerFire() {
	now := p.clock.Now()
	exp := p.Grant.ExpiresAt()
	remaining := exp.Sub(now)

	if remaining > 0 {
		p.rescheduleStillAlive(now, exp)
		return
	}
	p.expireAndTeardown()
}

// rescheduleStillAlive handles the "remaining > 0" branch: the grant
// was reauthorized out from under this timer. It either issues a
// challenge and reschedules at exp, reschedules at the (possibly
// updated) challenge-after point, or falls back to exp.
func (p *Pair) rescheduleStillAlive(now, exp time.Time) {
	delta := p.Grant.ChallengeDelta()
	capabilities := p.Reply.getCapabilities()

	if !wire.CanChallenge(capabilities) {
		p.Reply.scheduleAt(p.clock, exp, p.onTimerFire)
		return
	}

	challengeAfter := exp.Add(-delta)
	switch {
	case !now.Before(challengeAfter) && now.Before(exp):
		p.logger.Info("issuing reauthentication challenge", "stream_id", p.Reply.sourceStreamID)
		_ = p.writer.DoSignal(p.Reply.source, p.Reply.sourceRouteID, p.Reply.sourceStreamID, wire.SignalGrantValidation, 0, wire.ChallengeSignalExtension())
		p.Reply.scheduleAt(p.clock, exp, p.onTimerFire)
	case now.Before(challengeAfter):
		p.Reply.scheduleAt(p.clock, challengeAfter, p.onTimerFire)
	default:
		p.Reply.scheduleAt(p.clock, exp, p.onTimerFire)
	}
}

// expireAndTeardown handles the "remaining <= 0" branch: the grant
// has genuinely expired. It resets the reply half's source
// (downstream), clears the accept-side throttle state, and either
// synthesizes a 401 toward the client (if the downstream never
// answered) or aborts the client-facing stream (if it had), then
// releases the grant.
func (p *Pair) expireAndTeardown() {
	replyNotStarted := p.Reply.getState() == PendingReply

	_ = p.writer.DoReset(p.Reply.source, p.Reply.sourceRouteID, p.Reply.sourceStreamID, 0, p.Reply.sourceAuthorization)
	if p.Reply.clearThrottle != nil {
		p.Reply.clearThrottle(p.Reply.acceptInitialID)
	}

	if replyNotStarted {
		_ = p.writer.DoBegin(p.Reply.target, p.Reply.targetRouteID, p.Reply.targetStreamID, 0, p.Reply.targetAuthorization, 0, 0, wire.UnauthorizedBeginExtension())
		_ = p.writer.DoEnd(p.Reply.target, p.Reply.targetRouteID, p.Reply.targetStreamID, 0, p.Reply.targetAuthorization, nil)
	} else {
		_ = p.writer.DoAbort(p.Reply.target, p.Reply.targetRouteID, p.Reply.targetStreamID, 0, p.Reply.targetAuthorization)
	}

	p.logger.Info("grant expired, tearing down pair",
		"stream_id", p.Reply.sourceStreamID,
		"reply_started", !replyNotStarted,
	)

	p.Reply.teardown()
	if p.Initial.getState() != Closed {
		p.Initial.teardown()
	}
}
