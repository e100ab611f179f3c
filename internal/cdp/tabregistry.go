package cdp

import (
	"context"
	"sort"
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/auracap/internal/storage"
	"github.com/dgnsrekt/auracap/internal/types"
)

// TabRegistry maps CDP target IDs to tab metadata for every open page,
// attached or not.
type TabRegistry struct {
	tabs map[target.ID]*types.TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*types.TabInfo)}
}

// Upsert records the tab's current URL and title and reports whether the
// URL changed.
func (r *TabRegistry) Upsert(targetID target.ID, url, title string) (types.TabInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.tabs[targetID]
	if !ok {
		info = &types.TabInfo{TabID: string(targetID), ShortID: storage.ShortTabID(string(targetID))}
		r.tabs[targetID] = info
	}
	changed := !ok || info.URL != url
	info.URL = url
	if title != "" {
		info.Title = title
	}
	return *info, changed
}

func (r *TabRegistry) SetAttached(targetID target.ID, attached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.tabs[targetID]; ok {
		info.Attached = attached
	}
}

func (r *TabRegistry) Get(targetID target.ID) (*types.TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	if !ok {
		return nil, false
	}
	out := *info
	return &out, true
}

func (r *TabRegistry) GetByStringID(tabID string) (*types.TabInfo, bool) {
	return r.Get(target.ID(tabID))
}

// TabURL resolves a tab's current URL for the session cache.
func (r *TabRegistry) TabURL(_ context.Context, tabID string) (string, bool) {
	info, ok := r.GetByStringID(tabID)
	if !ok || info.URL == "" {
		return "", false
	}
	return info.URL, true
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

// Tabs lists every known tab ordered by id.
func (r *TabRegistry) Tabs() []types.TabInfo {
	r.mu.RLock()
	out := make([]types.TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
