// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport supplies the raw TCP accepting endpoint and
// dialer that cmd/oauthproxy runs the wire frame protocol over. It
// exists purely to make the core (realm, tokenverify, grant, proxy)
// runnable end-to-end: those packages depend only on wire.Frame and
// wire.Sink, never on this package.
//
// [TCPListener] accepts connections a client speaks the wire
// package's length-delimited CBOR envelope over. [TCPDialer] opens
// the corresponding outbound connection to a resolved route's
// downstream address. Both are narrow on purpose — there is no NAT
// traversal, multiplexing, or peer authentication here, unlike the
// WebRTC-based transports this package's ancestor also implemented.
package transport
