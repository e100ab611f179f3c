package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/auracap/internal/relay"
	"github.com/dgnsrekt/auracap/internal/types"
)

type recordedCall struct {
	tabID string
	msg   types.Message
}

type stubDispatcher struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (d *stubDispatcher) Dispatch(ctx context.Context, tabID string, msg types.Message) types.Response {
	d.mu.Lock()
	d.calls = append(d.calls, recordedCall{tabID: tabID, msg: msg})
	d.mu.Unlock()
	if msg.Type == "BOOM" {
		return types.Failure(types.NewError(types.CodeUnknownType, "unknown message type BOOM", nil))
	}
	return types.Success(map[string]any{"echo": msg.Type, "tab": tabID})
}

func (d *stubDispatcher) Types() []string { return []string{types.MsgGetSettings, types.MsgListAPICalls} }

func (d *stubDispatcher) last() recordedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func newTestServer(t *testing.T) (*httptest.Server, *stubDispatcher, *relay.Broker) {
	t.Helper()
	d := &stubDispatcher{}
	b := relay.NewBroker()
	health := func(ctx context.Context) Health { return Health{Tabs: 3, Attached: 1, Sessions: 1, StoredCalls: 7} }
	srv := httptest.NewServer(NewServer(d, b, health))
	t.Cleanup(srv.Close)
	return srv, d, b
}

func TestPostMessage(t *testing.T) {
	srv, d, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/messages",
		strings.NewReader(`{"type":"LIST_API_CALLS","payload":{"limit":5}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tab-ID", "TAB1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}

	var body types.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != types.StatusSuccess {
		t.Fatalf("status = %q; want success", body.Status)
	}

	got := d.last()
	if got.tabID != "TAB1" || got.msg.Type != types.MsgListAPICalls {
		t.Fatalf("dispatched %+v", got)
	}
	if string(got.msg.Payload) != `{"limit":5}` {
		t.Fatalf("payload = %s", got.msg.Payload)
	}
}

func TestPostMessageErrorEnvelope(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/messages", "application/json", strings.NewReader(`{"type":"BOOM"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body types.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != types.StatusError || !strings.Contains(body.Message, "UNKNOWN_TYPE") {
		t.Fatalf("body = %+v; want UNKNOWN_TYPE error", body)
	}
}

func TestPostMessageRequiresType(t *testing.T) {
	srv, d, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/messages", "application/json", strings.NewReader(`{"type":"  "}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", resp.StatusCode)
	}
	if len(d.calls) != 0 {
		t.Fatalf("dispatcher called %d times; want 0", len(d.calls))
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.Tabs != 3 || h.StoredCalls != 7 {
		t.Fatalf("health = %+v", h)
	}
}

func TestMessageTypes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/messages/types")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Types []string `json:"types"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Types) != 2 || body.Types[0] != types.MsgGetSettings {
		t.Fatalf("types = %v", body.Types)
	}
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(&stubDispatcher{}, relay.NewBroker(), nil)
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func dialWS(t *testing.T, srv *httptest.Server, query string) (*wsClient, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws"+query)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return &wsClient{t: t, conn: conn}, func() { _ = conn.Close() }
}

type wsClient struct {
	t    *testing.T
	conn interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		SetReadDeadline(time.Time) error
	}
}

func (c *wsClient) send(frame string) {
	c.t.Helper()
	if err := wsutil.WriteClientText(c.conn, []byte(frame)); err != nil {
		c.t.Fatalf("ws write: %v", err)
	}
}

func (c *wsClient) read() map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := wsutil.ReadServerText(c.conn)
	if err != nil {
		c.t.Fatalf("ws read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		c.t.Fatalf("ws frame %s: %v", data, err)
	}
	return out
}

func TestWebSocketRequestReply(t *testing.T) {
	srv, d, _ := newTestServer(t)
	c, closeFn := dialWS(t, srv, "")
	defer closeFn()

	c.send(`{"requestId":"r1","tabId":"TAB9","type":"GET_SETTINGS"}`)
	reply := c.read()
	if reply["requestId"] != "r1" || reply["status"] != types.StatusSuccess {
		t.Fatalf("reply = %v", reply)
	}
	if got := d.last(); got.tabID != "TAB9" || got.msg.Type != types.MsgGetSettings {
		t.Fatalf("dispatched %+v", got)
	}

	c.send(`not json`)
	reply = c.read()
	if reply["status"] != types.StatusError || !strings.Contains(reply["message"].(string), "VALIDATION") {
		t.Fatalf("reply = %v; want VALIDATION error", reply)
	}
}

func TestWebSocketForwardsEvents(t *testing.T) {
	srv, _, b := newTestServer(t)
	c, closeFn := dialWS(t, srv, "?feeds=calls")
	defer closeFn()

	deadline := time.Now().Add(5 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(relay.Event{Feed: relay.FeedSettings, Payload: `{"ignored":true}`})
	b.Publish(relay.Event{Feed: relay.FeedCalls, Payload: `{"id":"c1"}`})

	evt := c.read()
	data, _ := evt["data"].(map[string]any)
	if evt["event"] != relay.FeedCalls || data["id"] != "c1" {
		t.Fatalf("event = %v", evt)
	}
}

func TestOpenAPIDescribesMessageChannel(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/openapi.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var doc struct {
		Info struct {
			Description string `json:"description"`
		} `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, want := range []string{"`" + types.MsgGetSettings + "`", "`" + types.MsgListAPICalls + "`", "X-Tab-ID", "/ws", "feeds=calls"} {
		if !strings.Contains(doc.Info.Description, want) {
			t.Fatalf("description missing %q:\n%s", want, doc.Info.Description)
		}
	}
}
