package capture

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/google/uuid"

	"github.com/dgnsrekt/auracap/internal/types"
)

// CallSink persists captured calls.
type CallSink interface {
	Put(ctx context.Context, call *types.CapturedCall) error
}

// BodyFetcher retrieves a finished response body.
type BodyFetcher func(ctx context.Context) ([]byte, error)

type pendingRequest struct {
	tabID       string
	requestID   string
	kind        string
	body        string
	requestedAt int64
	status      int64
	seen        time.Time
}

// NetworkCapture tracks RPC requests seen on the network layer and de-batches
// them into individual calls once their response body is available.
type NetworkCapture struct {
	sink       CallSink
	recognizer *Recognizer
	enabled    func() bool
	maxPayload int
	staleAfter time.Duration

	now   func() time.Time
	newID func() string

	pending   map[string]*pendingRequest
	pendingMu sync.Mutex

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewNetworkCapture starts the stale-entry cleanup loop. enabled may be nil.
func NewNetworkCapture(sink CallSink, enabled func() bool, maxPayload int, staleAfter time.Duration) *NetworkCapture {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	n := &NetworkCapture{
		sink:       sink,
		recognizer: defaultRecognizer,
		enabled:    enabled,
		maxPayload: maxPayload,
		staleAfter: staleAfter,
		now:        time.Now,
		newID:      uuid.NewString,
		pending:    make(map[string]*pendingRequest),
		done:       make(chan struct{}),
	}
	go n.cleanupLoop()
	return n
}

// Close stops the cleanup loop and waits for in-flight body fetches.
func (n *NetworkCapture) Close() {
	n.once.Do(func() { close(n.done) })
	n.wg.Wait()
}

// SetRecognizer replaces the endpoint rules. Call before events flow.
func (n *NetworkCapture) SetRecognizer(r *Recognizer) {
	if r != nil {
		n.recognizer = r
	}
}

func pendingKey(tabID, requestID string) string {
	return tabID + "/" + requestID
}

func (n *NetworkCapture) capturing() bool {
	return n.enabled == nil || n.enabled()
}

// PendingCount returns the number of tracked, unanswered requests.
func (n *NetworkCapture) PendingCount() int {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	return len(n.pending)
}

func (n *NetworkCapture) OnRequestWillBeSent(tabID string, ev *network.EventRequestWillBeSent) {
	if ev == nil || ev.Request == nil || !n.capturing() {
		return
	}
	kind, ok := n.recognizer.Recognize(ev.Request.Method, ev.Request.URL)
	if !ok {
		return
	}

	var body []byte
	for _, entry := range ev.Request.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			body = append(body, entry.Bytes...)
			continue
		}
		body = append(body, decoded...)
	}

	now := n.now()
	n.pendingMu.Lock()
	n.pending[pendingKey(tabID, string(ev.RequestID))] = &pendingRequest{
		tabID:       tabID,
		requestID:   string(ev.RequestID),
		kind:        kind,
		body:        string(body),
		requestedAt: now.UnixMilli(),
		seen:        now,
	}
	n.pendingMu.Unlock()
}

func (n *NetworkCapture) OnResponseReceived(tabID string, ev *network.EventResponseReceived) {
	if ev == nil || ev.Response == nil {
		return
	}
	n.pendingMu.Lock()
	if p, ok := n.pending[pendingKey(tabID, string(ev.RequestID))]; ok {
		p.status = ev.Response.Status
	}
	n.pendingMu.Unlock()
}

// OnLoadingFinished claims the pending entry and fetches the body in the
// background. A failed fetch drops the entry.
func (n *NetworkCapture) OnLoadingFinished(ctx context.Context, tabID string, ev *network.EventLoadingFinished, getBody BodyFetcher) {
	if ev == nil {
		return
	}
	key := pendingKey(tabID, string(ev.RequestID))
	n.pendingMu.Lock()
	p, ok := n.pending[key]
	if ok {
		delete(n.pending, key)
	}
	n.pendingMu.Unlock()

	if !ok {
		return
	}
	if getBody == nil {
		slog.Debug("network call lost, no body fetcher", "tab_id", tabID, "request_id", p.requestID)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		body, err := getBody(ctx)
		if err != nil || len(body) == 0 {
			slog.Debug("network call lost, response body unavailable",
				"tab_id", tabID, "request_id", p.requestID, "status", p.status, "error", err)
			return
		}
		n.record(ctx, p, body)
	}()
}

func (n *NetworkCapture) OnLoadingFailed(tabID string, ev *network.EventLoadingFailed) {
	if ev == nil {
		return
	}
	key := pendingKey(tabID, string(ev.RequestID))
	n.pendingMu.Lock()
	_, ok := n.pending[key]
	delete(n.pending, key)
	n.pendingMu.Unlock()
	if ok {
		slog.Debug("network call lost, loading failed", "tab_id", tabID, "request_id", ev.RequestID, "reason", ev.ErrorText)
	}
}

// OnTabClosed forgets every pending request of the tab.
func (n *NetworkCapture) OnTabClosed(tabID string) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	for key, p := range n.pending {
		if p.tabID == tabID {
			delete(n.pending, key)
		}
	}
}

// Ingest de-batches one request/response body pair and stores each matched
// action. It returns how many calls were persisted.
func (n *NetworkCapture) Ingest(ctx context.Context, tabID, kind string, requestBody string, responseBody []byte, requestedAt int64) (int, error) {
	actions, err := ParseRequestEnvelope(requestBody)
	if err != nil {
		return 0, err
	}
	results, err := ParseResponseEnvelope(responseBody)
	if err != nil {
		return 0, err
	}

	meta := CallMeta{
		TabID:       tabID,
		Kind:        kind,
		RequestedAt: requestedAt,
		RespondedAt: n.now().UnixMilli(),
		MaxPayload:  n.maxPayload,
	}

	stored := 0
	for _, pair := range Unwrap(actions, results) {
		call := BuildCall(n.newID(), meta, pair)
		// Each call is independent; a failed write does not abort the batch.
		if err := n.sink.Put(ctx, &call); err != nil {
			slog.Warn("failed to store network call", "tab_id", tabID, "remote_call_id", pair.Request.ID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (n *NetworkCapture) record(ctx context.Context, p *pendingRequest, body []byte) {
	stored, err := n.Ingest(ctx, p.tabID, p.kind, p.body, body, p.requestedAt)
	if err != nil {
		slog.Debug("network call lost, envelope unreadable", "tab_id", p.tabID, "request_id", p.requestID, "error", err)
		return
	}
	slog.Debug("network calls captured", "tab_id", p.tabID, "request_id", p.requestID, "kind", p.kind, "count", stored)
}

func (n *NetworkCapture) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.cleanupStale()
		case <-n.done:
			return
		}
	}
}

func (n *NetworkCapture) cleanupStale() {
	threshold := n.now().Add(-n.staleAfter)

	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()

	for key, p := range n.pending {
		if p.seen.Before(threshold) {
			slog.Debug("network call lost, no response", "tab_id", p.tabID, "request_id", p.requestID)
			delete(n.pending, key)
		}
	}
}
