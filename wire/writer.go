// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// Writer builds frames from their constituent fields and forwards
// them to a Sink. It holds no state: every call site supplies the
// route/stream/authorization fields explicitly, so a caller can never
// accidentally default a field the proxy pair requires to be carried
// through verbatim.
type Writer struct{}

// DoBegin writes a BEGIN frame.
func (Writer) DoBegin(sink Sink, routeID, streamID, trace, authorization, affinity uint64, capabilities uint8, extension *HTTPBeginExtension) error {
	return sink.Begin(Begin{
		RouteID:       routeID,
		StreamID:      streamID,
		Trace:         trace,
		Authorization: authorization,
		Affinity:      affinity,
		Capabilities:  capabilities,
		Extension:     extension,
	})
}

// DoData writes a DATA frame, forwarding padding/groupID/payload/extension verbatim.
func (Writer) DoData(sink Sink, routeID, streamID, trace, authorization uint64, padding, groupID uint32, payload []byte, extension any) error {
	return sink.Data(Data{
		RouteID:       routeID,
		StreamID:      streamID,
		Trace:         trace,
		Authorization: authorization,
		Padding:       padding,
		GroupID:       groupID,
		Payload:       payload,
		Extension:     extension,
	})
}

// DoEnd writes an END frame.
func (Writer) DoEnd(sink Sink, routeID, streamID, trace, authorization uint64, extension any) error {
	return sink.End(End{
		RouteID:       routeID,
		StreamID:      streamID,
		Trace:         trace,
		Authorization: authorization,
		Extension:     extension,
	})
}

// DoAbort writes an ABORT frame.
func (Writer) DoAbort(sink Sink, routeID, streamID, trace, authorization uint64) error {
	return sink.Abort(Abort{RouteID: routeID, StreamID: streamID, Trace: trace, Authorization: authorization})
}

// DoWindow writes a WINDOW frame.
func (Writer) DoWindow(sink Sink, routeID, streamID, trace, authorization uint64, credit, padding, groupID uint32, capabilities uint8) error {
	return sink.Window(Window{
		RouteID:       routeID,
		StreamID:      streamID,
		Trace:         trace,
		Authorization: authorization,
		Credit:        credit,
		Padding:       padding,
		GroupID:       groupID,
		Capabilities:  capabilities,
	})
}

// DoReset writes a RESET frame.
func (Writer) DoReset(sink Sink, routeID, streamID, trace, authorization uint64) error {
	return sink.Reset(Reset{RouteID: routeID, StreamID: streamID, Trace: trace, Authorization: authorization})
}

// DoSignal writes a SIGNAL frame.
func (Writer) DoSignal(sink Sink, routeID, streamID uint64, signalID uint32, trace uint64, extension *HTTPSignalExtension) error {
	return sink.Signal(Signal{RouteID: routeID, StreamID: streamID, SignalID: signalID, Trace: trace, Extension: extension})
}
