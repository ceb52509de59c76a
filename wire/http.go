// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// HTTPHeader is a single pseudo- or regular HTTP header carried in a
// BEGIN or SIGNAL extension. Pseudo-headers (":path", ":status",
// ":method") use the HTTP/2-style colon-prefixed names the reference
// fabric uses.
type HTTPHeader struct {
	Name  string
	Value string
}

// HTTPBeginExtension is the BEGIN extension the Token Verifier reads
// (":path", "authorization") and the proxy pair writes when
// synthesizing a 401 (":status").
type HTTPBeginExtension struct {
	Headers []HTTPHeader
}

// Header returns the value of the first header matching name
// (case-sensitive, matching the reference fabric's header list
// representation), and whether it was present.
func (e HTTPBeginExtension) Header(name string) (string, bool) {
	for _, h := range e.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// HTTPSignalExtension is the SIGNAL extension written on a challenge.
type HTTPSignalExtension struct {
	Headers []HTTPHeader
}

// Header returns the value of the first header matching name
// (case-sensitive, matching the reference fabric's header list
// representation), and whether it was present.
func (e HTTPSignalExtension) Header(name string) (string, bool) {
	for _, h := range e.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// ChallengeSignalExtension builds the fixed header set a challenge
// SIGNAL carries.
func ChallengeSignalExtension() *HTTPSignalExtension {
	return &HTTPSignalExtension{Headers: []HTTPHeader{
		{Name: ":method", Value: "post"},
		{Name: "content-type", Value: "application/x-challenge-response"},
	}}
}

// UnauthorizedBeginExtension builds the fixed header set the
// synthesized 401 response's BEGIN carries.
func UnauthorizedBeginExtension() *HTTPBeginExtension {
	return &HTTPBeginExtension{Headers: []HTTPHeader{
		{Name: ":status", Value: "401"},
	}}
}
