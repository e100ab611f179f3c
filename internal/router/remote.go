package router

import (
	"context"
	"net/url"
	"regexp"

	"github.com/dgnsrekt/auracap/internal/types"
)

var recordPagePattern = regexp.MustCompile(`/lightning/r/([A-Za-z0-9_]+)/([A-Za-z0-9]{15}(?:[A-Za-z0-9]{3})?)(?:/|$)`)

// RecordFromURL extracts the sobject name and record id from a record page URL.
func RecordFromURL(rawURL string) (sobject, id string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}
	m := recordPagePattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func (r *Router) handleGetRecord(ctx context.Context, req request) (any, error) {
	s, err := req.requireSession()
	if err != nil {
		return nil, err
	}
	sobject, id, ok := RecordFromURL(s.TabURL)
	if !ok {
		return nil, types.NewError(types.CodeValidation, "tab is not showing a record page", nil)
	}
	rec, err := r.sessions.FreshConnection(s).GetRecord(ctx, sobject, id)
	if err != nil {
		return nil, remoteErr("get record", err)
	}
	return rec, nil
}

type updateRecordPayload struct {
	SObjectName string         `json:"sObjectName"`
	RecordData  map[string]any `json:"recordData"`
}

func (r *Router) handleUpdateRecord(ctx context.Context, req request) (any, error) {
	var p updateRecordPayload
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	if p.SObjectName == "" {
		return nil, types.NewError(types.CodeValidation, "sObjectName is required", nil)
	}
	if id, _ := p.RecordData["Id"].(string); id == "" {
		return nil, types.NewError(types.CodeValidation, "recordData.Id is required", nil)
	}
	s, err := req.requireSession()
	if err != nil {
		return nil, err
	}
	res, err := r.sessions.FreshConnection(s).UpdateRecord(ctx, p.SObjectName, p.RecordData)
	if err != nil {
		return nil, remoteErr("update record", err)
	}
	return res, nil
}

type describePayload struct {
	SObjectName string `json:"sObjectName"`
}

func (r *Router) handleDescribe(ctx context.Context, req request) (any, error) {
	var p describePayload
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	if p.SObjectName == "" {
		return nil, types.NewError(types.CodeValidation, "sObjectName is required", nil)
	}
	s, err := req.requireSession()
	if err != nil {
		return nil, err
	}
	desc, err := r.sessions.DescribeSObject(ctx, s, p.SObjectName)
	if err != nil {
		return nil, remoteErr("describe sobject", err)
	}
	return desc, nil
}

func (r *Router) handleGetDebug(ctx context.Context, req request) (any, error) {
	s, err := req.requireSession()
	if err != nil {
		return nil, err
	}
	enabled, err := r.sessions.FreshConnection(s).GetDebugMode(ctx)
	if err != nil {
		return nil, remoteErr("get debug mode", err)
	}
	return enabled, nil
}

type toggleDebugPayload struct {
	Enabled *bool `json:"enabled"`
}

// handleToggleDebug sets the flag when enabled is given, otherwise flips it.
func (r *Router) handleToggleDebug(ctx context.Context, req request) (any, error) {
	var p toggleDebugPayload
	if err := decode(req.payload, &p); err != nil {
		return nil, err
	}
	s, err := req.requireSession()
	if err != nil {
		return nil, err
	}
	conn := r.sessions.FreshConnection(s)

	var next bool
	if p.Enabled != nil {
		next = *p.Enabled
	} else {
		current, err := conn.GetDebugMode(ctx)
		if err != nil {
			return nil, remoteErr("get debug mode", err)
		}
		next = !current
	}
	if err := conn.SetDebugMode(ctx, next); err != nil {
		return nil, remoteErr("set debug mode", err)
	}
	return next, nil
}
