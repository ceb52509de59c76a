// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/nukleusrun/oauthproxy/lib/codec"
)

// kind discriminates the tagged union on the wire. Values are stable
// once assigned; they are never reused for a different frame type.
type kind uint8

const (
	kindBegin kind = iota + 1
	kindData
	kindEnd
	kindAbort
	kindWindow
	kindReset
	kindSignal
)

// envelope is the wire representation of a Frame: a discriminant plus
// one populated payload field. Extension fields are carried as their
// decoded Go value (HTTPBeginExtension, HTTPSignalExtension, or nil)
// rather than as opaque bytes — this repository's own wire format, not
// a reproduction of the reference fabric's flyweight codec, so there
// is no reason to pay for a second serialization pass.
type envelope struct {
	Kind   kind `cbor:"1,keyasint"`
	Begin  *Begin `cbor:"2,keyasint,omitempty"`
	Data   *Data `cbor:"3,keyasint,omitempty"`
	End    *End `cbor:"4,keyasint,omitempty"`
	Abort  *Abort `cbor:"5,keyasint,omitempty"`
	Window *Window `cbor:"6,keyasint,omitempty"`
	Reset  *Reset `cbor:"7,keyasint,omitempty"`
	Signal *Signal `cbor:"8,keyasint,omitempty"`
}

// Encode serializes f as a CBOR envelope. It adds no length prefix;
// Conn writes one ahead of each envelope on a stream transport (see
// transport.TCPListener/TCPDialer).
func Encode(f Frame) ([]byte, error) {
	env := envelope{}
	switch v := f.(type) {
	case Begin:
		env.Kind, env.Begin = kindBegin, &v
	case Data:
		env.Kind, env.Data = kindData, &v
	case End:
		env.Kind, env.End = kindEnd, &v
	case Abort:
		env.Kind, env.Abort = kindAbort, &v
	case Window:
		env.Kind, env.Window = kindWindow, &v
	case Reset:
		env.Kind, env.Reset = kindReset, &v
	case Signal:
		env.Kind, env.Signal = kindSignal, &v
	default:
		return nil, fmt.Errorf("wire: unknown frame type %T", f)
	}
	return codec.Marshal(env)
}

// Decode parses a CBOR envelope back into its concrete Frame.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	switch env.Kind {
	case kindBegin:
		if env.Begin == nil {
			return nil, fmt.Errorf("wire: begin envelope missing payload")
		}
		return *env.Begin, nil
	case kindData:
		if env.Data == nil {
			return nil, fmt.Errorf("wire: data envelope missing payload")
		}
		return *env.Data, nil
	case kindEnd:
		if env.End == nil {
			return nil, fmt.Errorf("wire: end envelope missing payload")
		}
		return *env.End, nil
	case kindAbort:
		if env.Abort == nil {
			return nil, fmt.Errorf("wire: abort envelope missing payload")
		}
		return *env.Abort, nil
	case kindWindow:
		if env.Window == nil {
			return nil, fmt.Errorf("wire: window envelope missing payload")
		}
		return *env.Window, nil
	case kindReset:
		if env.Reset == nil {
			return nil, fmt.Errorf("wire: reset envelope missing payload")
		}
		return *env.Reset, nil
	case kindSignal:
		if env.Signal == nil {
			return nil, fmt.Errorf("wire: signal envelope missing payload")
		}
		return *env.Signal, nil
	default:
		return nil, fmt.Errorf("wire: unknown frame kind %d", env.Kind)
	}
}
