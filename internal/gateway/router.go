// Package gateway is the transport layer: one WebSocket connection per
// peer, one session per connection, and a registry mapping inbound request
// types to handlers so new capabilities plug in without the transport
// knowing about them.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// MessageHandler processes one inbound request for a connected client.
type MessageHandler func(ctx context.Context, client *Client, msg *protocol.InboundMessage)

// Registrar is the only integration point plugins get with the transport.
type Registrar interface {
	RegisterMessageHandler(msgType string, handler MessageHandler) error
}

// Plugin adds inbound request types at startup.
type Plugin interface {
	Name() string
	RegisterHandlers(r Registrar) error
}

// Router maps inbound request types to handlers.
type Router struct {
	handlers map[string]MessageHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

// RegisterMessageHandler adds a handler. Two handlers for the same type is
// an initialization error, not a silent overwrite.
func (r *Router) RegisterMessageHandler(msgType string, handler MessageHandler) error {
	if _, dup := r.handlers[msgType]; dup {
		return fmt.Errorf("message handler for %q registered twice", msgType)
	}
	r.handlers[msgType] = handler
	return nil
}

// Handle dispatches one inbound message. Unknown types reject the request
// with a RUN_ERROR event; the session survives.
func (r *Router) Handle(ctx context.Context, client *Client, msg *protocol.InboundMessage) {
	handler, ok := r.handlers[msg.Type]
	if !ok {
		slog.Warn("unknown request type", "type", msg.Type, "client", client.ID())
		client.SendEvent(protocol.NewRunError("", protocol.ErrInvalidRequest+": unknown request type "+msg.Type))
		return
	}

	slog.Debug("handling request", "type", msg.Type, "client", client.ID())
	handler(ctx, client, msg)
}
