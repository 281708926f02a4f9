package ws

import (
	"errors"

	"rtbridge/internal/channel"
	"rtbridge/internal/jsonrpc"
)

// ChannelParams are the params of EventChannel#listen and EventChannel#cancel
type ChannelParams struct {
	Channel   string            `json:"channel"`
	Arguments channel.Arguments `json:"arguments,omitempty"`
}

// EventParams are the params of an EventChannel#event notification
type EventParams struct {
	Channel string         `json:"channel"`
	Event   any            `json:"event,omitempty"`
	Error   *channel.Error `json:"error,omitempty"`
	End     bool           `json:"end,omitempty"`
}

// channelErrorCodes maps channel error codes to JSON-RPC codes
var channelErrorCodes = map[string]int{
	channel.CodeInvalidArgument:    jsonrpc.CodeInvalidParams,
	channel.CodeFailedPrecondition: jsonrpc.CodeFailedPrecondition,
	channel.CodeNotFound:           jsonrpc.CodeNotFound,
	channel.CodeResourceExhausted:  jsonrpc.CodeResourceExhausted,
}

// toRPCError converts an error returned by a channel session
func toRPCError(err error) *jsonrpc.Error {
	var chErr *channel.Error
	if !errors.As(err, &chErr) {
		return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
	}
	code, ok := channelErrorCodes[chErr.Code]
	if !ok {
		code = jsonrpc.CodeServerError
	}
	return jsonrpc.NewErrorWithData(code, chErr.Message, chErr)
}
