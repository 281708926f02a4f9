package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtbridge/internal/channel"
	"rtbridge/internal/config"
	"rtbridge/internal/jsonrpc"
	"rtbridge/internal/plugin"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Client represents a WebSocket client connection
type Client struct {
	conn           *websocket.Conn
	plugin         *plugin.DatabasePlugin
	session        *channel.Session
	maxMessageSize int64
	logger         zerolog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, dbPlugin *plugin.DatabasePlugin, channels *channel.Registry, cfg *config.Config, logger zerolog.Logger) *Client {
	c := &Client{
		conn:           conn,
		plugin:         dbPlugin,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         logger,
		sendChan:       make(chan []byte, sendBuffer),
		closeChan:      make(chan struct{}),
	}
	c.session = channel.NewSession(channels, c.emit, cfg.MaxChannelsPerClient, logger)
	return c
}

// Run starts the client read and write loops
func (c *Client) Run(ctx context.Context) {
	// Configure connection
	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(ctx)

	// Read loop (runs in current goroutine)
	c.readPump(ctx)
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handleMessage(ctx, data)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	requests, isBatch, err := jsonrpc.ParseBatchRequest(data)
	if err != nil {
		if err == jsonrpc.ErrInvalidRequest {
			c.sendError(jsonrpc.NewIDNull(), jsonrpc.ErrInvalidRequest)
		} else {
			c.sendError(jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		}
		return
	}

	if !isBatch {
		if resp := c.handleRequest(ctx, requests[0]); resp != nil {
			c.sendResponse(resp)
		}
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		if resp := c.handleRequest(ctx, req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) > 0 {
		c.sendBatchResponse(responses)
	}
}

// handleRequest executes one request. Notifications produce no response.
func (c *Client) handleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var resp *jsonrpc.Response
	if err := req.Validate(); err != nil {
		resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	} else {
		switch req.Method {
		case jsonrpc.MethodChannelListen:
			resp = c.handleListen(req)
		case jsonrpc.MethodChannelCancel:
			resp = c.handleCancel(req)
		default:
			if c.plugin.HasMethod(req.Method) {
				resp = c.plugin.Execute(ctx, req, c.session)
			} else {
				resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
			}
		}
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

// handleListen handles EventChannel#listen
func (c *Client) handleListen(req *jsonrpc.Request) *jsonrpc.Response {
	var params ChannelParams
	if err := req.ParamsAs(&params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
	}
	if params.Channel == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "channel is required"))
	}

	if err := c.session.Listen(params.Channel, params.Arguments); err != nil {
		c.logger.Debug().
			Err(err).
			Str("channel", params.Channel).
			Msg("listen rejected")
		return jsonrpc.NewErrorResponse(req.ID, toRPCError(err))
	}

	resp, _ := jsonrpc.NewResponse(req.ID, true)
	return resp
}

// handleCancel handles EventChannel#cancel
func (c *Client) handleCancel(req *jsonrpc.Request) *jsonrpc.Response {
	var params ChannelParams
	if err := req.ParamsAs(&params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
	}

	err := c.session.Cancel(params.Channel, params.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, toRPCError(err))
	}

	resp, _ := jsonrpc.NewResponse(req.ID, true)
	return resp
}

// emit pushes a channel envelope to the client as a notification
func (c *Client) emit(name string, env channel.Envelope) {
	notif, err := jsonrpc.NewNotification(jsonrpc.MethodChannelEvent, EventParams{
		Channel: name,
		Event:   env.Event,
		Error:   env.Error,
		End:     env.End,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("channel", name).Msg("failed to marshal event")
		return
	}
	data, err := notif.Bytes()
	if err != nil {
		c.logger.Error().Err(err).Str("channel", name).Msg("failed to marshal notification")
		return
	}
	c.send(data)
}

// sendResponse sends a JSON-RPC response
func (c *Client) sendResponse(resp *jsonrpc.Response) {
	data, err := resp.Bytes()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal response")
		return
	}
	c.send(data)
}

// sendBatchResponse sends a batch of JSON-RPC responses
func (c *Client) sendBatchResponse(responses []*jsonrpc.Response) {
	data, err := json.Marshal(responses)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal batch response")
		return
	}
	c.send(data)
}

// sendError sends a JSON-RPC error response
func (c *Client) sendError(id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	resp := jsonrpc.NewErrorResponse(id, rpcErr)
	c.sendResponse(resp)
}

// send sends data to the client
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		// Channel full, drop message
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

// Close closes the client connection and cancels its channels
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.session.Close()
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
