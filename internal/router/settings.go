package router

import (
	"context"
	"sort"

	"github.com/dgnsrekt/auracap/internal/types"
)

func (r *Router) handleGetSettings(_ context.Context, _ request) (any, error) {
	return r.settings.Get(), nil
}

func (r *Router) handleSetSettings(ctx context.Context, req request) (any, error) {
	var patch types.SettingsPatch
	if err := decode(req.payload, &patch); err != nil {
		return nil, err
	}
	return r.settings.Update(ctx, patch)
}

// handleListTabs merges the browser's tabs with the live sessions.
func (r *Router) handleListTabs(_ context.Context, _ request) (any, error) {
	byID := make(map[string]types.TabInfo)
	if r.tabs != nil {
		for _, t := range r.tabs.Tabs() {
			byID[t.TabID] = t
		}
	}
	for _, s := range r.sessions.Sessions() {
		t, ok := byID[s.TabID]
		if !ok {
			t = types.TabInfo{TabID: s.TabID, URL: s.TabURL}
		}
		t.Session = true
		byID[s.TabID] = t
	}

	out := make([]types.TabInfo, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out, nil
}
