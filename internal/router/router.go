// Package router is the single entry point for inbound messages from the UI
// surfaces and the page bridge.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/dgnsrekt/auracap/internal/session"
	"github.com/dgnsrekt/auracap/internal/types"
)

// CallStore is the log store as seen by the router.
type CallStore interface {
	Put(ctx context.Context, call *types.CapturedCall) error
	Complete(ctx context.Context, id string, c types.CallCompletion) (bool, error)
	Get(ctx context.Context, id string) (*types.CapturedCall, error)
	ListByTab(ctx context.Context, tabID string) ([]types.CapturedCall, error)
	ListAll(ctx context.Context) ([]types.CapturedCall, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	ClearByTab(ctx context.Context, tabID string) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
}

// Sessions is the session cache as seen by the router.
type Sessions interface {
	EnsureSession(ctx context.Context, tabID string) (*session.TabSession, error)
	FreshConnection(s *session.TabSession) session.Connection
	DescribeSObject(ctx context.Context, s *session.TabSession, name string) (json.RawMessage, error)
	Sessions() []session.TabSession
}

// Settings is the settings service as seen by the router.
type Settings interface {
	Get() types.Settings
	Update(ctx context.Context, patch types.SettingsPatch) (types.Settings, error)
}

// TabLister reports the browser tabs currently known.
type TabLister interface {
	Tabs() []types.TabInfo
}

type request struct {
	tabID      string
	session    *session.TabSession
	sessionErr error
	payload    json.RawMessage
}

// requireSession returns the tab's session or the reason it has none.
func (r request) requireSession() (*session.TabSession, error) {
	if r.session != nil {
		return r.session, nil
	}
	if r.sessionErr != nil {
		return nil, r.sessionErr
	}
	return nil, types.ErrNoSession
}

type handlerFunc func(ctx context.Context, req request) (any, error)

// Router dispatches messages by type to exactly one handler.
type Router struct {
	store      CallStore
	sessions   Sessions
	settings   Settings
	tabs       TabLister
	maxPayload int
	now        func() time.Time

	handlers map[string]handlerFunc
}

// New builds a router. tabs may be nil.
func New(store CallStore, sessions Sessions, settings Settings, tabs TabLister, maxPayload int) *Router {
	r := &Router{
		store:      store,
		sessions:   sessions,
		settings:   settings,
		tabs:       tabs,
		maxPayload: maxPayload,
		now:        time.Now,
	}
	r.handlers = map[string]handlerFunc{
		types.MsgGetRecord:         r.handleGetRecord,
		types.MsgUpdateRecord:      r.handleUpdateRecord,
		types.MsgDescribeSObject:   r.handleDescribe,
		types.MsgGetLWCDebugStatus: r.handleGetDebug,
		types.MsgToggleLWCDebug:    r.handleToggleDebug,
		types.MsgAuraRequestStart:  r.handleCaptureStart,
		types.MsgAuraRequestDone:   r.handleCaptureComplete,
		types.MsgGetAPICall:        r.handleGetCall,
		types.MsgListAPICalls:      r.handleListCalls,
		types.MsgClearAPICalls:     r.handleClearCalls,
		types.MsgListAllAPICalls:   r.handleListAllCalls,
		types.MsgClearAllAPICalls:  r.handleClearAllCalls,
		types.MsgDeleteAPICalls:    r.handleDeleteCalls,
		types.MsgGetSettings:       r.handleGetSettings,
		types.MsgSetSettings:       r.handleSetSettings,
		types.MsgListTabs:          r.handleListTabs,
	}
	return r
}

// Types lists the accepted message types in sorted order.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch produces exactly one response for msg. Errors and panics in a
// handler become error responses.
func (r *Router) Dispatch(ctx context.Context, tabID string, msg types.Message) (resp types.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router handler panic", "type", msg.Type, "tab_id", tabID, "panic", rec, "stack", string(debug.Stack()))
			resp = types.Failure(fmt.Errorf("internal error handling %s", msg.Type))
		}
	}()

	req := request{tabID: tabID, payload: msg.Payload}
	if tabID != "" {
		req.session, req.sessionErr = r.sessions.EnsureSession(ctx, tabID)
	}

	h, ok := r.handlers[msg.Type]
	if !ok {
		return types.Failure(types.NewError(types.CodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type), nil))
	}

	payload, err := h(ctx, req)
	if err != nil {
		if types.CodeOf(err) != types.CodeNoSession {
			slog.Debug("router handler failed", "type", msg.Type, "tab_id", tabID, "error", err)
		}
		return types.Failure(err)
	}
	return types.Success(payload)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.NewError(types.CodeValidation, "invalid payload", err)
	}
	return nil
}

// remoteErr tags remote API failures; already coded errors pass through.
func remoteErr(op string, err error) error {
	var coded *types.CodedError
	if errors.As(err, &coded) {
		return err
	}
	return types.NewError(types.CodeRemoteAPI, op, err)
}

func (r *Router) nowMillis() int64 {
	return r.now().UnixMilli()
}
