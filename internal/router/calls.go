package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/auracap/internal/capture"
	"github.com/dgnsrekt/auracap/internal/types"
)

func (r *Router) handleCaptureStart(ctx context.Context, req request) (any, error) {
	if !r.settings.Get().CaptureEnabled {
		return nil, nil
	}
	var p types.CaptureStart
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, types.NewError(types.CodeValidation, "id is required", nil)
	}
	requestedAt := p.RequestedAt
	if requestedAt <= 0 {
		requestedAt = r.nowMillis()
	}
	kind := p.Kind
	if kind == "" {
		kind = types.KindUnknown
	}

	call := &types.CapturedCall{
		ID:             p.ID,
		OriginTab:      req.tabID,
		Source:         types.SourcePage,
		Kind:           kind,
		Scope:          p.Scope,
		OperationName:  p.OperationName,
		DisplayName:    p.DisplayName,
		RequestPayload: capture.BoundPayload(p.RequestPayload, r.maxPayload),
		State:          types.CallPending,
		RequestedAt:    requestedAt,
	}
	if err := r.store.Put(ctx, call); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *Router) handleCaptureComplete(ctx context.Context, req request) (any, error) {
	if !r.settings.Get().CaptureEnabled {
		return nil, nil
	}
	var p types.CaptureComplete
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, types.NewError(types.CodeValidation, "id is required", nil)
	}
	respondedAt := p.RespondedAt
	if respondedAt <= 0 {
		respondedAt = r.nowMillis()
	}

	completion := types.CallCompletion{
		RemoteCallID: p.RemoteCallID,
		State:        types.ParseCallState(p.State),
		RespondedAt:  respondedAt,
	}
	if completion.State == types.CallSuccess {
		completion.ResponsePayload = capture.BoundPayload(p.ResponsePayload, r.maxPayload)
	} else {
		completion.Errors = p.Errors
	}

	applied, err := r.store.Complete(ctx, p.ID, completion)
	if err != nil {
		return nil, err
	}
	if !applied {
		slog.Debug("duplicate completion ignored", "tab_id", req.tabID, "call_id", p.ID)
	}
	return nil, nil
}

type idPayload struct {
	ID string `json:"id"`
}

// handleGetCall returns the call or a nil payload when it does not exist.
func (r *Router) handleGetCall(ctx context.Context, req request) (any, error) {
	var p idPayload
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, types.NewError(types.CodeValidation, "id is required", nil)
	}
	call, err := r.store.Get(ctx, p.ID)
	if types.CodeOf(err) == types.CodeNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return call, nil
}

func requireTab(req request) error {
	if req.tabID == "" {
		return types.NewError(types.CodeValidation, "sender tab is required", nil)
	}
	return nil
}

func (r *Router) handleListCalls(ctx context.Context, req request) (any, error) {
	if err := requireTab(req); err != nil {
		return nil, err
	}
	return r.store.ListByTab(ctx, req.tabID)
}

func (r *Router) handleClearCalls(ctx context.Context, req request) (any, error) {
	if err := requireTab(req); err != nil {
		return nil, err
	}
	_, err := r.store.ClearByTab(ctx, req.tabID)
	return nil, err
}

func (r *Router) handleListAllCalls(ctx context.Context, _ request) (any, error) {
	return r.store.ListAll(ctx)
}

func (r *Router) handleClearAllCalls(ctx context.Context, _ request) (any, error) {
	_, err := r.store.ClearAll(ctx)
	return nil, err
}

type deleteCallsPayload struct {
	IDs []string `json:"ids"`
}

func (r *Router) handleDeleteCalls(ctx context.Context, req request) (any, error) {
	var p deleteCallsPayload
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	n, err := r.store.DeleteByIDs(ctx, p.IDs)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"deleted": n}, nil
}
