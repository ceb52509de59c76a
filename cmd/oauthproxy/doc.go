// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Oauthproxy runs the authorizing stream proxy as a standalone TCP
// service: it terminates the wire package's framed protocol from
// accepting clients, hands each inbound BEGIN to a proxy.Factory, and
// relays the rest of that connection's frames into the resulting
// proxy.Pair for as long as its grant remains valid.
package main
