// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/nukleusrun/oauthproxy/lib/codec"
)

func TestEncodeDecode_Begin(t *testing.T) {
	begin := Begin{
		RouteID:       1,
		StreamID:      3,
		Trace:         7,
		Authorization: 0x0001_0000_0000_0001,
		Affinity:      99,
		Capabilities:  CapabilityChallenge,
		Extension: &HTTPBeginExtension{Headers: []HTTPHeader{
			{Name: ":path", Value: "/widgets"},
			{Name: "authorization", Value: "Bearer xyz"},
		}},
	}

	encoded, err := Encode(begin)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(Begin)
	if !ok {
		t.Fatalf("Decode returned %T, want Begin", decoded)
	}
	if got.RouteID != begin.RouteID || got.StreamID != begin.StreamID || got.Authorization != begin.Authorization {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, begin)
	}
	if got.Extension == nil {
		t.Fatal("Extension round-tripped to nil")
	}
	path, ok := got.Extension.Header(":path")
	if !ok || path != "/widgets" {
		t.Errorf("Header(:path) = %q, %v, want /widgets, true", path, ok)
	}
}

func TestEncodeDecode_Signal(t *testing.T) {
	signal := Signal{
		RouteID:   1,
		StreamID:  4,
		SignalID:  SignalGrantValidation,
		Trace:     11,
		Extension: ChallengeSignalExtension(),
	}
	encoded, err := Encode(signal)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(Signal)
	if !ok {
		t.Fatalf("Decode returned %T, want Signal", decoded)
	}
	if got.SignalID != SignalGrantValidation {
		t.Errorf("SignalID = %d, want %d", got.SignalID, SignalGrantValidation)
	}
	method, ok := got.Extension.Header(":method")
	if !ok || method != "post" {
		t.Errorf("Header(:method) = %q, %v, want post, true", method, ok)
	}
}

func TestEncodeDecode_Data(t *testing.T) {
	data := Data{
		RouteID:       1,
		StreamID:      3,
		Trace:         5,
		Authorization: 0x0001_0000_0000_0001,
		Padding:       16,
		GroupID:       2,
		Payload:       []byte("hello"),
	}
	encoded, err := Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(Data)
	if !ok {
		t.Fatalf("Decode returned %T, want Data", decoded)
	}
	if !bytes.Equal(got.Payload, data.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, data.Payload)
	}
}

func TestEncodeDecode_AllFrameKinds(t *testing.T) {
	frames := []Frame{
		Begin{RouteID: 1, StreamID: 1},
		Data{RouteID: 1, StreamID: 1},
		End{RouteID: 1, StreamID: 1},
		Abort{RouteID: 1, StreamID: 1},
		Window{RouteID: 1, StreamID: 1},
		Reset{RouteID: 1, StreamID: 1},
		Signal{RouteID: 1, StreamID: 1},
	}
	for _, f := range frames {
		encoded, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode(%T): %v", f, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%T): %v", f, err)
		}
		if got, want := decoded, f; !reflect.DeepEqual(got, want) {
			t.Errorf("round-trip %T: got %+v, want %+v", f, got, want)
		}
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	// Build an envelope with a discriminant Encode's type switch would
	// never produce, bypassing it to exercise Decode's default case.
	corrupted, err := codec.Marshal(envelope{Kind: kind(99)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(corrupted); err == nil {
		t.Error("Decode should reject an unknown frame kind")
	}
}

func TestDecode_MissingPayload(t *testing.T) {
	corrupted, err := codec.Marshal(envelope{Kind: kindBegin})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(corrupted); err == nil {
		t.Error("Decode should reject a begin envelope with no begin payload")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("Decode should reject malformed CBOR")
	}
}
