package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rtbridge/internal/bridge"
	"rtbridge/internal/channel"
	"rtbridge/internal/database"
	"rtbridge/internal/jsonrpc"
)

type handlerFunc func(ctx context.Context, req *jsonrpc.Request, owner Owner) (interface{}, *jsonrpc.Error)

// DatabasePlugin executes database methods on behalf of connections
type DatabasePlugin struct {
	db       *database.Database
	channels *channel.Registry
	handlers map[string]handlerFunc
	newID    func() string
	logger   zerolog.Logger
}

// NewDatabasePlugin creates a plugin serving db. Observed queries are
// registered as channels in channels.
func NewDatabasePlugin(db *database.Database, channels *channel.Registry, logger zerolog.Logger) *DatabasePlugin {
	p := &DatabasePlugin{
		db:       db,
		channels: channels,
		newID:    uuid.NewString,
		logger:   logger.With().Str("component", "plugin").Logger(),
	}
	p.handlers = map[string]handlerFunc{
		MethodQueryObserve: p.observe,
		MethodQueryGet:     p.get,
		MethodRefSet:       p.set,
		MethodRefUpdate:    p.update,
		MethodRefRemove:    p.remove,
	}
	return p
}

// HasMethod checks if the plugin serves method
func (p *DatabasePlugin) HasMethod(method string) bool {
	_, ok := p.handlers[method]
	return ok
}

// Methods returns all served methods
func (p *DatabasePlugin) Methods() []string {
	methods := make([]string, 0, len(p.handlers))
	for m := range p.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Execute runs req. Channels created by Query#observe are recorded on owner.
func (p *DatabasePlugin) Execute(ctx context.Context, req *jsonrpc.Request, owner Owner) *jsonrpc.Response {
	handler, ok := p.handlers[req.Method]
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}
	if err := ctx.Err(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "request cancelled"))
	}

	result, rpcErr := handler(ctx, req, owner)
	if rpcErr != nil {
		p.logger.Debug().
			Str("method", req.Method).
			Int("code", rpcErr.Code).
			Str("error", rpcErr.Message).
			Msg("method failed")
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		p.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal result")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

// observe registers a bridge for the query and returns its channel name
func (p *DatabasePlugin) observe(_ context.Context, req *jsonrpc.Request, owner Owner) (interface{}, *jsonrpc.Error) {
	q, rpcErr := p.query(req)
	if rpcErr != nil {
		return nil, rpcErr
	}

	name := ChannelPrefix + p.newID()
	b := bridge.New(q, func() {
		p.channels.Unregister(name)
	}, p.logger.With().Str("channel", name).Logger())

	if err := p.channels.Register(name, b); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
	}
	if owner != nil {
		owner.Own(name)
	}

	p.logger.Debug().
		Str("channel", name).
		Str("path", q.Path()).
		Str("query", q.Identifier()).
		Msg("query observed")
	return name, nil
}

// get reads the query once
func (p *DatabasePlugin) get(_ context.Context, req *jsonrpc.Request, _ Owner) (interface{}, *jsonrpc.Error) {
	q, rpcErr := p.query(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	snap, err := q.Get()
	if err != nil {
		return nil, toRPCError(err)
	}
	return snap, nil
}

func (p *DatabasePlugin) set(_ context.Context, req *jsonrpc.Request, _ Owner) (interface{}, *jsonrpc.Error) {
	var args WriteArgs
	if err := req.ParamsAs(&args); err != nil {
		return nil, invalidParams(err)
	}
	value, err := args.value()
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := p.db.Set(args.Path, value); err != nil {
		return nil, toRPCError(err)
	}
	return true, nil
}

func (p *DatabasePlugin) update(_ context.Context, req *jsonrpc.Request, _ Owner) (interface{}, *jsonrpc.Error) {
	var args WriteArgs
	if err := req.ParamsAs(&args); err != nil {
		return nil, invalidParams(err)
	}
	value, err := args.value()
	if err != nil {
		return nil, invalidParams(err)
	}
	values, ok := value.(map[string]any)
	if !ok {
		return nil, invalidParams(fmt.Errorf("update value must be an object"))
	}
	if err := p.db.Update(args.Path, values); err != nil {
		return nil, toRPCError(err)
	}
	return true, nil
}

func (p *DatabasePlugin) remove(_ context.Context, req *jsonrpc.Request, _ Owner) (interface{}, *jsonrpc.Error) {
	var args WriteArgs
	if err := req.ParamsAs(&args); err != nil {
		return nil, invalidParams(err)
	}
	if err := p.db.Remove(args.Path); err != nil {
		return nil, toRPCError(err)
	}
	return true, nil
}

// query decodes QueryArgs from the request params
func (p *DatabasePlugin) query(req *jsonrpc.Request) (*database.Query, *jsonrpc.Error) {
	var args QueryArgs
	if err := req.ParamsAs(&args); err != nil {
		return nil, invalidParams(err)
	}
	q, err := args.build(p.db)
	if err != nil {
		return nil, invalidParams(err)
	}
	return q, nil
}

// value decodes the written value. An explicit null is allowed and deletes,
// an omitted value is rejected.
func (a WriteArgs) value() (any, error) {
	if len(a.Value) == 0 {
		return nil, fmt.Errorf("value is required")
	}
	var v any
	if err := json.Unmarshal(a.Value, &v); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	return v, nil
}

func invalidParams(err error) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
}

// toRPCError maps database errors to JSON-RPC errors
func toRPCError(err error) *jsonrpc.Error {
	switch {
	case errors.Is(err, database.ErrPermissionDenied):
		return jsonrpc.NewError(jsonrpc.CodePermissionDenied, err.Error())
	case errors.Is(err, database.ErrClosed):
		return jsonrpc.NewError(jsonrpc.CodeFailedPrecondition, err.Error())
	default:
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	}
}
