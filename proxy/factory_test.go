// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nukleusrun/oauthproxy/lib/clock"
	"github.com/nukleusrun/oauthproxy/lib/grant"
	"github.com/nukleusrun/oauthproxy/lib/keyset"
	"github.com/nukleusrun/oauthproxy/lib/realm"
	"github.com/nukleusrun/oauthproxy/lib/testutil"
	"github.com/nukleusrun/oauthproxy/wire"
)

// fakeDownstream is a DownstreamConn whose ReadFrame blocks on a
// channel the test controls, so pumpConnect's goroutine never races
// the assertions a test makes about the frames written to it. resets
// additionally fans out to a channel so a test can wait for a frame
// pumpConnect writes asynchronously instead of racing its goroutine.
type fakeDownstream struct {
	recordingSink
	frames    chan wire.Frame
	closed    chan struct{}
	resetSeen chan wire.Reset
}

func newFakeDownstream() *fakeDownstream {
	return &fakeDownstream{
		frames:    make(chan wire.Frame, 8),
		closed:    make(chan struct{}),
		resetSeen: make(chan wire.Reset, 1),
	}
}

func (f *fakeDownstream) Reset(frame wire.Reset) error {
	if err := f.recordingSink.Reset(frame); err != nil {
		return err
	}
	f.resetSeen <- frame
	return nil
}

func (f *fakeDownstream) ReadFrame() (wire.Frame, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-f.closed:
		return nil, errors.New("fakeDownstream: closed")
	}
}

func (f *fakeDownstream) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

type fakeDialer struct {
	conn *fakeDownstream
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (DownstreamConn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newTestFactory(t *testing.T, dialer Dialer) (*Factory, *RouteTable) {
	t.Helper()
	routes := NewRouteTable()
	routes.Set(Route{RouteID: 7, Authorization: 0, DialAddress: "downstream:1"})

	return &Factory{
		Keys:   keyset.Empty(),
		Realms: realm.New(),
		Grants: grant.NewTable(),
		Routes: routes,
		Dialer: dialer,
		Clock:  clock.Fake(time.Unix(1_700_000_000, 0)),
	}, routes
}

func TestFactory_Accept_UnauthenticatedPassesThroughAuthorization(t *testing.T) {
	downstream := newFakeDownstream()
	factory, _ := newTestFactory(t, &fakeDialer{conn: downstream})

	begin := wire.Begin{
		RouteID:       7,
		StreamID:      1,
		Authorization: 0,
		Extension:     &wire.HTTPBeginExtension{},
	}

	pair, err := factory.Accept(context.Background(), &recordingSink{}, begin)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	t.Cleanup(func() { downstream.Close() })
	if pair.Initial.targetAuthorization != 0 {
		t.Errorf("targetAuthorization = %#x, want 0 for an unverified token", pair.Initial.targetAuthorization)
	}
	if len(downstream.begins) != 1 {
		t.Fatalf("downstream got %d begins, want 1", len(downstream.begins))
	}
	if downstream.begins[0].StreamID&1 == 0 {
		t.Errorf("initial half's forwarded stream id %d should be odd", downstream.begins[0].StreamID)
	}
}

func TestFactory_Accept_NoMatchingRouteFails(t *testing.T) {
	downstream := newFakeDownstream()
	factory, _ := newTestFactory(t, &fakeDialer{conn: downstream})

	begin := wire.Begin{RouteID: 999, StreamID: 1}
	if _, err := factory.Accept(context.Background(), &recordingSink{}, begin); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("err = %v, want ErrRouteNotFound", err)
	}
}

func TestFactory_Accept_DialFailureReleasesGrant(t *testing.T) {
	factory, _ := newTestFactory(t, &fakeDialer{err: errors.New("connection refused")})

	begin := wire.Begin{RouteID: 7, StreamID: 1}
	if _, err := factory.Accept(context.Background(), &recordingSink{}, begin); err == nil {
		t.Fatal("expected an error when the dial fails")
	}
}

func TestFactory_Accept_StreamIDsDifferOnlyInParity(t *testing.T) {
	downstream := newFakeDownstream()
	factory, _ := newTestFactory(t, &fakeDialer{conn: downstream})

	pair, err := factory.Accept(context.Background(), &recordingSink{}, wire.Begin{RouteID: 7, StreamID: 1})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	t.Cleanup(func() { downstream.Close() })
	if pair.Initial.sourceStreamID&^1 != pair.Reply.sourceStreamID&^1 {
		t.Errorf("initial %d and reply %d should share everything but the parity bit", pair.Initial.sourceStreamID, pair.Reply.sourceStreamID)
	}
	if pair.Initial.sourceStreamID&1 != 1 {
		t.Error("initial half's stream id should be odd")
	}
	if pair.Reply.sourceStreamID&1 != 0 {
		t.Error("reply half's stream id should be even")
	}
}

func TestFactory_PumpConnect_UnrecognizedFrameResetsDownstream(t *testing.T) {
	downstream := newFakeDownstream()
	factory, _ := newTestFactory(t, &fakeDialer{conn: downstream})

	_, err := factory.Accept(context.Background(), &recordingSink{}, wire.Begin{RouteID: 7, StreamID: 1})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	t.Cleanup(func() { downstream.Close() })

	// pumpConnect runs on its own goroutine; a SIGNAL from downstream is
	// not one of the reply-side frame types it recognizes.
	testutil.RequireSend(t, downstream.frames, wire.Frame(wire.Signal{RouteID: 7, StreamID: 0, SignalID: wire.SignalGrantValidation}), time.Second, "delivering unrecognized frame")

	testutil.RequireReceive(t, downstream.resetSeen, time.Second, "reset after unrecognized downstream frame")

	// pumpConnect closes the downstream connection on its way out after
	// issuing the reset.
	testutil.RequireClosed(t, downstream.closed, time.Second, "downstream closed after unrecognized frame")
}
