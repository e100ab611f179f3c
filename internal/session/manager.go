// Package session keeps per-tab authentication state and hands out fresh
// API connections built from it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dgnsrekt/auracap/internal/sfapi"
	"github.com/dgnsrekt/auracap/internal/types"
)

// TabURLSource resolves the current URL of a tab.
type TabURLSource interface {
	TabURL(ctx context.Context, tabID string) (string, bool)
}

// CookieSource reads a cookie value for an origin.
type CookieSource interface {
	Cookie(ctx context.Context, origin, name string) (string, bool, error)
}

// Connection is the remote API surface used by the router.
type Connection interface {
	GetRecord(ctx context.Context, sobject, id string) (json.RawMessage, error)
	UpdateRecord(ctx context.Context, sobject string, record map[string]any) (sfapi.UpdateResult, error)
	Describe(ctx context.Context, sobject string) (json.RawMessage, error)
	GetDebugMode(ctx context.Context) (bool, error)
	SetDebugMode(ctx context.Context, enabled bool) error
}

// ConnectionFactory builds a connection for an origin and credential.
type ConnectionFactory func(origin, token string) Connection

// SFAPIFactory returns a factory producing sfapi clients.
func SFAPIFactory(apiVersion string) ConnectionFactory {
	return func(origin, token string) Connection {
		return sfapi.New(origin, token, apiVersion, nil)
	}
}

// TabSession is the transient state of one authenticated tab.
type TabSession struct {
	TabID      string    `json:"tabId"`
	OriginURL  string    `json:"originUrl"`
	TabURL     string    `json:"tabUrl"`
	Token      string    `json:"-"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Manager owns every TabSession and the describe cache. Sessions live only
// in memory.
type Manager struct {
	urls    TabURLSource
	cookies CookieSource
	connect ConnectionFactory
	idle    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*TabSession

	describe *lru.Cache[string, json.RawMessage]
}

func NewManager(urls TabURLSource, cookies CookieSource, connect ConnectionFactory, idle time.Duration, cacheSize int) (*Manager, error) {
	cache, err := lru.New[string, json.RawMessage](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("session: describe cache: %w", err)
	}
	return &Manager{
		urls:     urls,
		cookies:  cookies,
		connect:  connect,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*TabSession),
		describe: cache,
	}, nil
}

// EnsureSession re-validates the tab against its URL and cookie. It returns
// ErrNoSession, after dropping any stale session, when the tab does not
// qualify.
func (m *Manager) EnsureSession(ctx context.Context, tabID string) (*TabSession, error) {
	if tabID == "" {
		return nil, types.ErrNoSession
	}
	tabURL, ok := m.urls.TabURL(ctx, tabID)
	if !ok {
		m.evict(tabID, "tab unknown")
		return nil, types.ErrNoSession
	}
	origin, ok := APIOrigin(tabURL)
	if !ok {
		m.evict(tabID, "not an application url")
		return nil, types.ErrNoSession
	}

	token, found, err := m.cookies.Cookie(ctx, origin, CredentialCookie)
	if err != nil {
		slog.Debug("session cookie read failed", "tab_id", tabID, "origin", origin, "error", err)
		m.evict(tabID, "cookie read failed")
		return nil, types.NewError(types.CodeNoSession, "credential unavailable", err)
	}
	if !found || token == "" {
		m.evict(tabID, "no credential")
		return nil, types.ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if s, ok := m.sessions[tabID]; ok && s.Token == token && s.OriginURL == origin {
		s.LastUsedAt = now
		s.TabURL = tabURL
		out := *s
		return &out, nil
	}
	s := &TabSession{TabID: tabID, OriginURL: origin, TabURL: tabURL, Token: token, LastUsedAt: now}
	m.sessions[tabID] = s
	slog.Debug("session established", "tab_id", tabID, "origin", origin)
	out := *s
	return &out, nil
}

// Sessions lists live sessions ordered by tab id.
func (m *Manager) Sessions() []TabSession {
	m.mu.Lock()
	out := make([]TabSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// FreshConnection builds a new connection for every use.
func (m *Manager) FreshConnection(s *TabSession) Connection {
	return m.connect(s.OriginURL, s.Token)
}

// OnTabClosed drops the tab's session.
func (m *Manager) OnTabClosed(tabID string) {
	m.evict(tabID, "tab closed")
}

// Sweep evicts sessions idle for longer than the idle window and returns how
// many were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.LastUsedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("idle sessions evicted", "count", removed)
	}
	return removed
}

// Run sweeps on every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// DescribeSObject serves schema descriptions from the LRU, fetching on miss.
// Concurrent misses for one name may both fetch; the later insert wins.
func (m *Manager) DescribeSObject(ctx context.Context, s *TabSession, name string) (json.RawMessage, error) {
	if name == "" {
		return nil, types.NewError(types.CodeValidation, "sObjectName is required", nil)
	}
	key := s.OriginURL + "|" + name
	if cached, ok := m.describe.Get(key); ok {
		return cached, nil
	}

	desc, err := m.FreshConnection(s).Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	m.describe.Add(key, desc)
	return desc, nil
}

// CachedDescribes returns the cached keys, least recently used first.
func (m *Manager) CachedDescribes() []string {
	return m.describe.Keys()
}

func (m *Manager) evict(tabID, reason string) {
	m.mu.Lock()
	_, ok := m.sessions[tabID]
	delete(m.sessions, tabID)
	m.mu.Unlock()
	if ok {
		slog.Debug("session evicted", "tab_id", tabID, "reason", reason)
	}
}
