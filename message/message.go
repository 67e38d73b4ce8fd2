// Package message defines the control and data messages exchanged over a
// connector connection.
//
// A connection starts with the handshake: the client sends its Locale, the
// shared key as a String and a HelloRequest; the server answers with a
// HelloResponse or an ErrorResponse. Each call then sends one
// OperationRequest and receives either a single OperationResponsePart or, for
// streamed results, a run of parts punctuated by pauses and closed by an
// OperationResponseEnd:
//
//	client                          server
//	OperationRequest        ->
//	                        <-      OperationResponsePart (x N)
//	                        <-      OperationResponsePause
//	OperationRequestMoreData ->     (or OperationRequestStopData)
//	                        <-      OperationResponsePart ...
//	                        <-      OperationResponseEnd
package message

import (
	"connector-rpc/objects"
)

// Hello info levels. A server includes a section when the requested level
// has all of the section's bits set.
const (
	InfoLevelServerInfo       int32 = 4
	InfoLevelConnectorKeyList int32 = 16
	InfoLevelDefaultConfig    int32 = 32
	InfoLevelConnectorInfo    int32 = 48
)

// ServerStartTime is the server info key holding the start time in Unix
// milliseconds.
const ServerStartTime = "SERVER_START_TIME"

// HelloRequest opens a connection.
type HelloRequest struct {
	InfoLevel int32
}

// Wants reports whether every bit of level was requested.
func (h *HelloRequest) Wants(level int32) bool {
	return h.InfoLevel&level == level
}

// HelloResponse answers a HelloRequest.
type HelloResponse struct {
	Exception      error
	ServerInfo     map[string]any
	ConnectorInfos []*objects.RemoteConnectorInfo
	ConnectorKeys  []*objects.ConnectorKey
}

// OperationRequest invokes one method of one connector operation.
type OperationRequest struct {
	ConnectorKey     *objects.ConnectorKey
	APIConfiguration *objects.APIConfiguration
	Operation        string
	Method           string
	// Arguments are the call arguments with the results handler, if any,
	// replaced by nil.
	Arguments []any
}

// OperationResponsePart carries one result, one streamed item or the failure
// of the call.
type OperationResponsePart struct {
	Exception error
	Result    any
}

// OperationResponsePause asks the client whether to continue streaming.
type OperationResponsePause struct{}

// OperationResponseEnd closes a streamed response.
type OperationResponseEnd struct{}

// OperationRequestMoreData answers a pause: keep going.
type OperationRequestMoreData struct{}

// OperationRequestStopData answers a pause: stop after the current batch.
type OperationRequestStopData struct{}

// ErrorResponse replaces any expected message when the server gives up on the
// exchange.
type ErrorResponse struct {
	Exception error
}
