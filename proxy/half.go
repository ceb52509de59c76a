// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nukleusrun/oauthproxy/lib/clock"
	"github.com/nukleusrun/oauthproxy/lib/grant"
	"github.com/nukleusrun/oauthproxy/wire"
)

// State is a ProxyHalf's position in its lifecycle.
type State int

const (
	// PendingReply is the reply half's state from creation until its
	// downstream BEGIN arrives. This is the correlation table: a half
	// in PendingReply is exactly one whose connect-side BEGIN has not
	// yet returned (SPEC_FULL.md §3).
	PendingReply State = iota
	// Active is every half's steady state: frames relay symmetrically.
	Active
	// Closing means END or ABORT has been forwarded but teardown
	// (timer cancellation, grant release) has not yet completed.
	Closing
	// Closed is terminal: the grant has been released and the timer,
	// if any, is stopped.
	Closed
)

// Half is one direction of a proxied connection: frames arriving on
// source are relayed to target, and throttle frames arriving on
// target are relayed back to source. The initial half relays
// accept→connect; the reply half relays connect→accept and is the
// only half that ever carries a timer (SPEC_FULL.md §9, "Timer handle
// ownership").
type Half struct {
	mu sync.Mutex

	isInitial bool

	source         wire.Sink
	sourceRouteID  uint64
	sourceStreamID uint64

	target         wire.Sink
	targetRouteID  uint64
	targetStreamID uint64

	// sourceAuthorization is carried on every throttle frame (WINDOW,
	// RESET) this half forwards back to source. targetAuthorization is
	// carried on every stream frame (DATA, END, ABORT) this half
	// forwards to target, except the initial half's own BEGIN, which
	// the factory writes directly with the freshly resolved connect
	// authorization. The two differ because each half's source and
	// target sit on opposite sides of token verification: the initial
	// half's source is the client, carrying its own raw authorization,
	// while its target is downstream, carrying the resolved realm/scope
	// authorization; the reply half is the mirror image.
	sourceAuthorization uint64
	targetAuthorization uint64

	acceptInitialID uint64
	connectReplyID  uint64

	capabilities uint8

	grant *grant.AccessGrant
	timer *clock.Timer

	state State

	// clearThrottle notifies the accepting endpoint that it can stop
	// expecting further throttle frames for acceptInitialID. Set by
	// the Factory at construction; nil is a valid no-op.
	clearThrottle func(acceptInitialID uint64)

	writer wire.Writer
	log    *slog.Logger
}

func (h *Half) logger() *slog.Logger {
	if h.log != nil {
		return h.log
	}
	return slog.Default()
}

// AcceptInitialID returns the stream id the accepting endpoint uses
// for this pair, stable across both halves.
func (h *Half) AcceptInitialID() uint64 {
	return h.acceptInitialID
}

// State returns the half's current lifecycle state.
func (h *Half) State() State {
	return h.getState()
}

// Teardown cancels this half's timer, if any, and releases its grant
// reference exactly once. Safe to call more than once.
func (h *Half) Teardown() {
	h.teardown()
}

func (h *Half) setCapabilities(c uint8) {
	h.mu.Lock()
	h.capabilities = c
	h.mu.Unlock()
}

func (h *Half) getCapabilities() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capabilities
}

func (h *Half) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Half) getState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// OnData forwards a DATA frame to target, carrying through trace,
// padding, groupID, payload, and extension, but pinning authorization
// to this half's resolved target authorization (SPEC_FULL.md §3's
// data-model invariant).
func (h *Half) OnData(trace uint64, padding, groupID uint32, payload []byte, extension any) error {
	return h.writer.DoData(h.target, h.targetRouteID, h.targetStreamID, trace, h.targetAuthorization, padding, groupID, payload, extension)
}

// OnEnd forwards an END frame, then cancels the timer and releases
// the grant exactly once.
func (h *Half) OnEnd(trace uint64, extension any) error {
	err := h.writer.DoEnd(h.target, h.targetRouteID, h.targetStreamID, trace, h.targetAuthorization, extension)
	h.logger().Info("stream ended", "stream_id", h.sourceStreamID, "reason", "end")
	h.teardown()
	return err
}

// OnAbort forwards an ABORT frame, detaches the reply correlation if
// present, then cancels the timer and releases the grant.
func (h *Half) OnAbort(trace uint64) error {
	err := h.writer.DoAbort(h.target, h.targetRouteID, h.targetStreamID, trace, h.targetAuthorization)
	h.logger().Info("stream aborted", "stream_id", h.sourceStreamID, "reason", "abort")
	h.detachCorrelation()
	h.teardown()
	return err
}

// OnWindow handles a throttle WINDOW arriving from target: it updates
// this half's tracked capabilities and forwards credit/padding/
// groupID back to source.
func (h *Half) OnWindow(trace uint64, credit, padding, groupID uint32, capabilities uint8) error {
	h.setCapabilities(capabilities)
	return h.writer.DoWindow(h.source, h.sourceRouteID, h.sourceStreamID, trace, h.sourceAuthorization, credit, padding, groupID, capabilities)
}

// OnReset handles a throttle RESET arriving from target: forward to
// source, detach correlation, cancel timer, release grant.
func (h *Half) OnReset(trace uint64) error {
	err := h.writer.DoReset(h.source, h.sourceRouteID, h.sourceStreamID, trace, h.sourceAuthorization)
	h.logger().Info("stream reset", "stream_id", h.sourceStreamID, "reason", "reset")
	h.detachCorrelation()
	h.teardown()
	return err
}

// ResetAndAbandon emits a RESET on this half's own source without
// detaching correlation or releasing the grant — used when source
// itself violates the framing contract (an unrecognized frame type)
// and the connection carrying it is being dropped regardless.
func (h *Half) ResetAndAbandon(trace uint64) error {
	return h.writer.DoReset(h.source, h.sourceRouteID, h.sourceStreamID, trace, h.sourceAuthorization)
}

// OnReplyBegin handles the reply half's downstream BEGIN arriving: it
// forwards the paired BEGIN to the accept side with the upstream's
// trace/authorization/extension carried through and transitions the
// half out of PendingReply, closing the correlation window a timer
// firing concurrently would otherwise still see open.
func (h *Half) OnReplyBegin(trace, authorization uint64, extension *wire.HTTPBeginExtension) error {
	h.setState(Active)
	return h.writer.DoBegin(h.target, h.targetRouteID, h.targetStreamID, trace, authorization, 0, h.getCapabilities(), extension)
}

// teardown cancels this half's timer (idempotent) and releases its
// grant reference exactly once.
func (h *Half) teardown() {
	h.mu.Lock()
	alreadyClosed := h.state == Closed
	h.state = Closed
	timer := h.timer
	h.timer = nil
	h.mu.Unlock()

	if alreadyClosed {
		return
	}
	if timer != nil {
		timer.Stop()
	}
	h.grant.Release()
}

// detachCorrelation notifies the accepting endpoint that the
// accept-side throttle state for acceptInitialID should be cleared —
// SPEC_FULL.md §4.5's teardown invariant: "every code path that
// removes a correlation also calls clearThrottle".
func (h *Half) detachCorrelation() {
	if h.clearThrottle != nil {
		h.clearThrottle(h.acceptInitialID)
	}
}

// scheduleAt replaces this half's outstanding timer (stopping any
// existing one first) with one that fires fn at deadline.
func (h *Half) scheduleAt(clk clock.Clock, deadline time.Time, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	d := deadline.Sub(clk.Now())
	if d < 0 {
		d = 0
	}
	h.timer = clk.AfterFunc(d, fn)
}
