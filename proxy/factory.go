// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nukleusrun/oauthproxy/lib/clock"
	"github.com/nukleusrun/oauthproxy/lib/grant"
	"github.com/nukleusrun/oauthproxy/lib/keyset"
	"github.com/nukleusrun/oauthproxy/lib/realm"
	"github.com/nukleusrun/oauthproxy/lib/tokenverify"
	"github.com/nukleusrun/oauthproxy/wire"
)

// ErrRouteNotFound is returned by Accept when no configured route
// matches the inbound BEGIN's (routeId, authorization) — SPEC_FULL.md
// §7's "route not found" error kind: the caller drops the stream
// rather than acknowledging it.
var ErrRouteNotFound = errors.New("proxy: no route for authorization")

// Route is a pre-configured downstream target: a stream routes to it
// iff route.Authorization & streamAuthorization == route.Authorization.
type Route struct {
	RouteID       uint64
	Authorization uint64
	DialAddress   string
}

// RouteResolver resolves a stream's (routeId, authorization) pair to
// a configured downstream Route.
type RouteResolver interface {
	Resolve(routeID, authorization uint64) (Route, bool)
}

// RouteTable is a static, config-loaded RouteResolver: one Route per
// routeId, matched by the O(1) authorization-subset check SPEC_FULL.md
// §4.2 calls for.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[uint64]Route
}

// NewRouteTable returns an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{routes: map[uint64]Route{}}
}

// Set registers or replaces the route for route.RouteID.
func (t *RouteTable) Set(route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[route.RouteID] = route
}

// Resolve returns the route registered for routeID if its required
// authorization bits are all present in authorization.
func (t *RouteTable) Resolve(routeID, authorization uint64) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	route, ok := t.routes[routeID]
	if !ok || route.Authorization&authorization != route.Authorization {
		return Route{}, false
	}
	return route, true
}

// DownstreamConn is what Dialer hands back: a Sink to write frames on
// plus the ability to read frames the downstream sends back. *wire.Conn
// satisfies this directly.
type DownstreamConn interface {
	wire.Sink
	ReadFrame() (wire.Frame, error)
	Close() error
}

// Dialer opens the downstream connection for a resolved Route.
type Dialer interface {
	Dial(ctx context.Context, address string) (DownstreamConn, error)
}

// Factory owns every piece of process-wide state the core needs to
// turn an inbound BEGIN into a running Pair: the Key Store, Realm
// Registry, Grant Table, route table, and the stream-id generator.
// None of this state is read by realm, tokenverify, or grant directly
// — Factory is the only place that wires them together.
type Factory struct {
	Keys   *keyset.Set
	Realms *realm.Registry
	Grants *grant.Table
	Routes RouteResolver
	Dialer Dialer
	Clock  clock.Clock
	Logger *slog.Logger

	// ExpireInFlightRequests, if false, forces every grant's expiresAt
	// to grant.Never regardless of the verified token's exp claim.
	ExpireInFlightRequests bool

	// ChallengeDeltaClaimNamespace prefixes "caf" when looking up the
	// challenge-after claim in a verified token.
	ChallengeDeltaClaimNamespace string

	// ClearThrottle, if set, is called with a half's acceptInitialID
	// whenever a correlation is detached — SPEC_FULL.md §4.5's
	// teardown invariant. Left nil, it is a no-op.
	ClearThrottle func(acceptInitialID uint64)

	nextStreamID atomic.Uint64
	writer       wire.Writer
}

func (f *Factory) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Accept verifies the bearer token on an inbound BEGIN, resolves its
// authorization and route, acquires the shared grant, dials the
// resolved route, and returns the fully wired, already-running Pair.
// The caller (the accepting endpoint's connection loop) continues
// reading frames off the same accept-side connection and dispatches
// them to pair.Initial (stream frames) or pair.Reply (throttle
// frames); Accept itself owns dispatch for the connect-side
// connection it just dialed.
func (f *Factory) Accept(ctx context.Context, acceptSink wire.Sink, begin wire.Begin) (*Pair, error) {
	var path, authorizationHeader string
	if begin.Extension != nil {
		path, _ = begin.Extension.Header(":path")
		authorizationHeader, _ = begin.Extension.Header("authorization")
	}

	token := tokenverify.ExtractBearer(path, authorizationHeader)
	result := tokenverify.Verify(f.Keys, token, f.ChallengeDeltaClaimNamespace, f.Clock.Now())

	// Property 8: an unverified token leaves the inbound authorization
	// unchanged, not zeroed.
	authorization := begin.Authorization
	var subject string
	hasSubject := false
	expiresAt := grant.Never
	var challengeDelta time.Duration

	if result.Verified {
		authorization = f.Realms.LookupClaims(result.KID, result.Claims.Issuer, result.Claims.Audience, result.Claims.Scope)
		if result.Claims.Subject != "" {
			subject, hasSubject = result.Claims.Subject, true
		}
		if f.ExpireInFlightRequests && result.Claims.ExpiresAt != nil {
			expiresAt = *result.Claims.ExpiresAt
		}
		if result.Claims.ExpiresAt != nil && result.Claims.ChallengeAfter != nil {
			challengeDelta = result.Claims.ExpiresAt.Sub(*result.Claims.ChallengeAfter)
		}
	}

	route, ok := f.Routes.Resolve(begin.RouteID, authorization)
	if !ok {
		return nil, fmt.Errorf("%w: route %d authorization %#x", ErrRouteNotFound, begin.RouteID, authorization)
	}

	realmIndex := 0
	if hasSubject {
		idx, ok := realm.BitIndex(authorization)
		if !ok {
			hasSubject = false
		} else {
			realmIndex = idx
		}
	}

	affinity := begin.Affinity
	if affinity == 0 {
		affinity = randomAffinity()
	}

	g := f.Grants.SupplyGrant(realmIndex, affinity, subject, hasSubject)
	// Reauthorize before acquiring: RefCount()==0 here is what tells
	// Reauthorize this is the grant's first binding, which must set its
	// state unconditionally rather than go through the monotonic check
	// a sibling stream's reauthorization is held to.
	g.Reauthorize(authorization, expiresAt, challengeDelta)
	if err := g.Acquire(); err != nil {
		return nil, fmt.Errorf("proxy: acquire grant for initial half: %w", err)
	}
	if err := g.Acquire(); err != nil {
		g.Release()
		return nil, fmt.Errorf("proxy: acquire grant for reply half: %w", err)
	}

	downstream, err := f.Dialer.Dial(ctx, route.DialAddress)
	if err != nil {
		g.Release()
		g.Release()
		return nil, fmt.Errorf("proxy: dial route %d at %s: %w", route.RouteID, route.DialAddress, err)
	}

	n := f.nextStreamID.Add(1)
	acceptInitialID := n<<1 | 1
	connectReplyID := acceptInitialID &^ 1

	initial := &Half{
		isInitial:           true,
		source:              acceptSink,
		sourceRouteID:       begin.RouteID,
		sourceStreamID:      acceptInitialID,
		target:              downstream,
		targetRouteID:       route.RouteID,
		targetStreamID:      acceptInitialID,
		sourceAuthorization: begin.Authorization,
		targetAuthorization: authorization,
		acceptInitialID:     acceptInitialID,
		connectReplyID:      connectReplyID,
		capabilities:        begin.Capabilities,
		grant:               g,
		state:               Active,
		clearThrottle:       f.ClearThrottle,
		log:                 f.logger(),
	}
	reply := &Half{
		isInitial:           false,
		source:              downstream,
		sourceRouteID:       route.RouteID,
		sourceStreamID:      connectReplyID,
		target:              acceptSink,
		targetRouteID:       begin.RouteID,
		targetStreamID:      connectReplyID,
		sourceAuthorization: authorization,
		targetAuthorization: begin.Authorization,
		acceptInitialID:     acceptInitialID,
		connectReplyID:      connectReplyID,
		capabilities:        begin.Capabilities,
		grant:               g,
		state:               PendingReply,
		clearThrottle:       f.ClearThrottle,
		log:                 f.logger(),
	}

	pair := &Pair{
		Initial: initial,
		Reply:   reply,
		Grant:   g,
		clock:   f.Clock,
		logger:  f.logger(),
		writer:  f.writer,
	}

	if err := f.writer.DoBegin(downstream, route.RouteID, acceptInitialID, begin.Trace, authorization, affinity, begin.Capabilities, begin.Extension); err != nil {
		initial.teardown()
		reply.teardown()
		return nil, fmt.Errorf("proxy: forward begin to route %d: %w", route.RouteID, err)
	}

	pair.scheduleTimer()
	go f.pumpConnect(pair, downstream)

	return pair, nil
}

// pumpConnect reads frames arriving on the connect-side connection
// for the lifetime of pair, dispatching stream frames (BEGIN/DATA/
// END/ABORT) to the reply half and throttle frames (WINDOW/RESET) to
// the initial half. An unrecognized frame type is a framing
// violation: reset the source and stop.
func (f *Factory) pumpConnect(pair *Pair, downstream DownstreamConn) {
	defer downstream.Close()

	for {
		frame, err := downstream.ReadFrame()
		if err != nil {
			f.logger().Debug("connect-side connection closed", "error", err, "stream_id", pair.Reply.sourceStreamID)
			pair.Reply.teardown()
			if pair.Initial.getState() != Closed {
				pair.Initial.teardown()
			}
			return
		}

		switch v := frame.(type) {
		case wire.Begin:
			_ = pair.Reply.OnReplyBegin(v.Trace, v.Authorization, v.Extension)
		case wire.Data:
			_ = pair.Reply.OnData(v.Trace, v.Padding, v.GroupID, v.Payload, v.Extension)
		case wire.End:
			_ = pair.Reply.OnEnd(v.Trace, v.Extension)
		case wire.Abort:
			_ = pair.Reply.OnAbort(v.Trace)
		case wire.Window:
			_ = pair.Initial.OnWindow(v.Trace, v.Credit, v.Padding, v.GroupID, v.Capabilities)
		case wire.Reset:
			_ = pair.Initial.OnReset(v.Trace)
		default:
			_ = f.writer.DoReset(pair.Reply.source, pair.Reply.sourceRouteID, pair.Reply.sourceStreamID, 0, pair.Reply.sourceAuthorization)
			return
		}
	}
}

// randomAffinity generates an opaque affinity correlation key when
// the accepting transport doesn't supply one, per SPEC_FULL.md §2.2.
func randomAffinity() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
