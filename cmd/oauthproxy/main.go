// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Oauthproxy is the accepting endpoint for the authorizing stream
// proxy: it terminates the wire protocol over TCP, verifies bearer
// tokens, and relays each stream to its resolved downstream route.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nukleusrun/oauthproxy/lib/clock"
	"github.com/nukleusrun/oauthproxy/lib/grant"
	"github.com/nukleusrun/oauthproxy/lib/keyset"
	"github.com/nukleusrun/oauthproxy/lib/realm"
	"github.com/nukleusrun/oauthproxy/proxy"
	"github.com/nukleusrun/oauthproxy/transport"
	"github.com/nukleusrun/oauthproxy/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (required)")
	flag.Parse()

	if configPath == "" {
		return fmt.Errorf("-config is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	config, err := proxy.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	keys, err := keyset.LoadFile(config.Keys)
	if err != nil {
		return fmt.Errorf("failed to load key set %s: %w", config.Keys, err)
	}

	logger.Info("starting oauthproxy",
		"listen_address", config.ListenAddress,
		"keys", keys.Len(),
		"routes", len(config.Routes),
	)

	listener, err := transport.NewTCPListener(config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.ListenAddress, err)
	}

	server := &acceptServer{
		factory: &proxy.Factory{
			Keys:                         keys,
			Realms:                       realm.New(),
			Grants:                       grant.NewTable(),
			Routes:                       config.RouteTable(),
			Dialer:                       &tcpDialer{dialer: &transport.TCPDialer{}},
			Clock:                        clock.Real(),
			Logger:                       logger,
			ExpireInFlightRequests:       config.ExpireInFlightRequests,
			ChallengeDeltaClaimNamespace: config.ChallengeDeltaClaimNamespace,
		},
		listener:  listener,
		logger:    logger,
		throttled: map[uint64]*proxy.Pair{},
	}
	server.factory.ClearThrottle = server.clearThrottle

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		listener.Close()
		<-serveErr
		server.teardownAll()
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// tcpDialer adapts transport.TCPDialer to proxy.Dialer by wrapping the
// raw net.Conn it returns in a wire.Conn.
type tcpDialer struct {
	dialer *transport.TCPDialer
}

func (d *tcpDialer) Dial(ctx context.Context, address string) (proxy.DownstreamConn, error) {
	conn, err := d.dialer.DialContext(ctx, address)
	if err != nil {
		return nil, err
	}
	return wire.NewConn(conn), nil
}

// acceptServer runs the accepting endpoint's connection loop: one
// goroutine per accepted net.Conn, reading its first frame (expected
// to be BEGIN), handing it to Factory.Accept, then relaying further
// frames on that connection into the returned Pair until it closes.
type acceptServer struct {
	factory  *proxy.Factory
	listener *transport.TCPListener
	logger   *slog.Logger

	mu        sync.Mutex
	throttled map[uint64]*proxy.Pair
}

func (s *acceptServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *acceptServer) clearThrottle(acceptInitialID uint64) {
	s.mu.Lock()
	delete(s.throttled, acceptInitialID)
	s.mu.Unlock()
}

// teardownAll force-closes every pair still open after the listener
// has stopped accepting new connections, so a shutdown releases every
// outstanding grant reference instead of leaking them until their
// timers fire.
func (s *acceptServer) teardownAll() {
	s.mu.Lock()
	remaining := make([]*proxy.Pair, 0, len(s.throttled))
	for _, pair := range s.throttled {
		remaining = append(remaining, pair)
	}
	s.mu.Unlock()

	if len(remaining) == 0 {
		return
	}
	s.logger.Info("tearing down pairs still open at shutdown", "count", len(remaining))
	for _, pair := range remaining {
		pair.Initial.Teardown()
		if pair.Reply.State() != proxy.Closed {
			pair.Reply.Teardown()
		}
	}
}

// serveConn owns one accept-side connection for its lifetime: the
// first frame must be BEGIN, establishing the Pair; every later frame
// dispatches into pair.Initial (stream frames) or pair.Reply (throttle
// frames) by kind.
func (s *acceptServer) serveConn(ctx context.Context, conn net.Conn) {
	acceptConn := wire.NewConn(conn)
	defer acceptConn.Close()

	frame, err := acceptConn.ReadFrame()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Debug("accept-side connection closed before begin", "error", err)
		}
		return
	}
	begin, ok := frame.(wire.Begin)
	if !ok {
		s.logger.Warn("accept-side first frame was not begin", "frame", fmt.Sprintf("%T", frame))
		return
	}

	pair, err := s.factory.Accept(ctx, acceptConn, begin)
	if err != nil {
		s.logger.Warn("accept failed", "error", err, "route_id", begin.RouteID)
		return
	}

	s.mu.Lock()
	s.throttled[pair.Initial.AcceptInitialID()] = pair
	s.mu.Unlock()
	defer s.clearThrottle(pair.Initial.AcceptInitialID())

	for {
		frame, err := acceptConn.ReadFrame()
		if err != nil {
			s.logger.Debug("accept-side connection closed", "error", err, "stream_id", begin.StreamID)
			pair.Initial.Teardown()
			if pair.Reply.State() != proxy.Closed {
				pair.Reply.Teardown()
			}
			return
		}

		switch v := frame.(type) {
		case wire.Data:
			_ = pair.Initial.OnData(v.Trace, v.Padding, v.GroupID, v.Payload, v.Extension)
		case wire.End:
			_ = pair.Initial.OnEnd(v.Trace, v.Extension)
		case wire.Abort:
			_ = pair.Initial.OnAbort(v.Trace)
		case wire.Window:
			_ = pair.Reply.OnWindow(v.Trace, v.Credit, v.Padding, v.GroupID, v.Capabilities)
		case wire.Reset:
			_ = pair.Reply.OnReset(v.Trace)
		default:
			s.logger.Warn("accept-side sent unexpected frame", "frame", fmt.Sprintf("%T", frame))
			_ = pair.Initial.ResetAndAbandon(0)
			return
		}
	}
}
