// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the frame types the oauth proxy core consumes
// and produces — BEGIN, DATA, END, ABORT, WINDOW, RESET, and SIGNAL —
// plus the HTTP header extensions carried on BEGIN and SIGNAL.
//
// [Frame] is a tagged union: each concrete type (Begin, Data, ...)
// satisfies the marker method, and callers dispatch with a Go type
// switch. [Sink] is the destination frames are written to; [Writer]
// is the stateless helper the proxy pair and Frame Writer glue use to
// build frames from their constituent fields rather than constructing
// structs ad hoc at every call site.
//
// [Encode] and [Decode] serialize a Frame to/from a CBOR envelope.
// [Conn] wraps a net.Conn with a 4-byte length prefix around each
// envelope and implements Sink directly, so cmd/oauthproxy can hand
// one to the proxy pair as either the accept-side or connect-side
// Sink without a further adapter. This envelope format is this
// repository's own invention for exercising the core over a real
// accepting endpoint; core packages (realm, tokenverify, grant, proxy)
// depend only on the Frame types above, never on the envelope codec
// or Conn.
package wire
