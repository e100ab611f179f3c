// Package bridge receives interceptor events relayed through the CDP binding
// and forwards them to the message router.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/auracap/internal/types"
)

// Dispatcher is the router entry point.
type Dispatcher interface {
	Dispatch(ctx context.Context, tabID string, msg types.Message) types.Response
}

// Relay forwards binding payloads for one binding name.
type Relay struct {
	binding    string
	dispatcher Dispatcher
}

func NewRelay(binding string, dispatcher Dispatcher) *Relay {
	return &Relay{binding: binding, dispatcher: dispatcher}
}

// Binding returns the binding name this relay consumes.
func (r *Relay) Binding() string { return r.binding }

// HandleBinding decodes one binding call and dispatches it. Calls for other
// bindings and non-capture message types are dropped. Failures are logged,
// never returned, since the page has no channel to receive them.
func (r *Relay) HandleBinding(ctx context.Context, tabID, name, payload string) {
	if name != r.binding {
		return
	}

	var msg types.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Debug("bridge payload rejected", "tab_id", tabID, "error", err)
		return
	}
	if msg.Type != types.MsgAuraRequestStart && msg.Type != types.MsgAuraRequestDone {
		slog.Debug("bridge message type rejected", "tab_id", tabID, "type", msg.Type)
		return
	}

	resp := r.dispatcher.Dispatch(ctx, tabID, msg)
	if resp.Status != types.StatusSuccess {
		slog.Warn("bridge delivery failed", "tab_id", tabID, "type", msg.Type, "error", resp.Message)
	}
}
