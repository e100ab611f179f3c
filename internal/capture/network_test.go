package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/auracap/internal/types"
)

type memorySink struct {
	mu    sync.Mutex
	calls []types.CapturedCall
	fail  map[string]bool
}

func (m *memorySink) Put(_ context.Context, call *types.CapturedCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[call.RemoteCallID] {
		return errors.New("disk full")
	}
	m.calls = append(m.calls, *call)
	return nil
}

func (m *memorySink) snapshot() []types.CapturedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.CapturedCall(nil), m.calls...)
}

func newTestCapture(sink CallSink, enabled func() bool) *NetworkCapture {
	n := NewNetworkCapture(sink, enabled, 0, time.Minute)
	base := time.UnixMilli(1_000_000)
	var mu sync.Mutex
	tick := 0
	n.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * 10 * time.Millisecond)
	}
	seq := 0
	n.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("call-%d", seq)
	}
	return n
}

func requestEvent(id, method, url, body string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request: &network.Request{
			URL:         url,
			Method:      method,
			HasPostData: body != "",
			PostDataEntries: []*network.PostDataEntry{
				{Bytes: base64.StdEncoding.EncodeToString([]byte(body))},
			},
		},
	}
}

const apexURL = "https://acme.lightning.force.com/aura?r=3&aura.ApexAction.execute=1"

func TestNetworkCaptureEndToEndSuccess(t *testing.T) {
	sink := &memorySink{}
	n := newTestCapture(sink, nil)
	defer n.Close()

	body := formBody(`{"actions":[{"id":"1","descriptor":"aura://ApexActionController/ACTION$execute","params":{"classname":"Ctl","method":"go"}}]}`)
	n.OnRequestWillBeSent("tab-1", requestEvent("r1", "POST", apexURL, body))
	n.OnResponseReceived("tab-1", &network.EventResponseReceived{RequestID: "r1", Response: &network.Response{Status: 200}})
	n.OnLoadingFinished(context.Background(), "tab-1", &network.EventLoadingFinished{RequestID: "r1"}, func(context.Context) ([]byte, error) {
		return []byte(`{"actions":[{"id":"1","state":"SUCCESS","returnValue":{"x":1}}]}`), nil
	})
	n.wg.Wait()

	calls := sink.snapshot()
	if len(calls) != 1 {
		t.Fatalf("stored %d calls; want 1", len(calls))
	}
	c := calls[0]
	if c.State != types.CallSuccess || string(c.ResponsePayload) != `{"x":1}` {
		t.Fatalf("call = %+v; want SUCCESS with {\"x\":1}", c)
	}
	if c.Kind != types.KindApex || c.DisplayName != "Ctl.go" || c.OriginTab != "tab-1" {
		t.Fatalf("call metadata = %q %q %q", c.Kind, c.DisplayName, c.OriginTab)
	}
	if c.RespondedAt < c.RequestedAt {
		t.Fatalf("RespondedAt %d < RequestedAt %d", c.RespondedAt, c.RequestedAt)
	}
	if n.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d; want 0", n.PendingCount())
	}
}

func TestNetworkCaptureBatchWithPartialResponse(t *testing.T) {
	sink := &memorySink{}
	n := newTestCapture(sink, nil)
	defer n.Close()

	req := formBody(`{"actions":[{"id":"1","descriptor":"a"},{"id":"2","descriptor":"b"},{"id":"3","descriptor":"c"}]}`)
	res := []byte(`{"actions":[{"id":"3","state":"SUCCESS"},{"id":"1","state":"ERROR","error":[{"message":"nope"}]}]}`)

	stored, err := n.Ingest(context.Background(), "tab-1", types.KindApex, req, res, 100)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if stored != 2 {
		t.Fatalf("Ingest() = %d; want 2", stored)
	}
	calls := sink.snapshot()
	if calls[0].RemoteCallID != "1" || calls[1].RemoteCallID != "3" {
		t.Fatalf("stored remote ids = %s,%s; want 1,3", calls[0].RemoteCallID, calls[1].RemoteCallID)
	}
	if calls[0].ID == calls[1].ID {
		t.Fatal("calls share an id")
	}
	if string(calls[0].Errors) != `[{"message":"nope"}]` {
		t.Fatalf("Errors = %s", calls[0].Errors)
	}
}

func TestNetworkCaptureWriteFailureDoesNotAbortBatch(t *testing.T) {
	sink := &memorySink{fail: map[string]bool{"1": true}}
	n := newTestCapture(sink, nil)
	defer n.Close()

	req := formBody(`{"actions":[{"id":"1"},{"id":"2"}]}`)
	res := []byte(`{"actions":[{"id":"1","state":"SUCCESS"},{"id":"2","state":"SUCCESS"}]}`)
	stored, err := n.Ingest(context.Background(), "tab-1", types.KindRecord, req, res, 100)
	if err != nil || stored != 1 {
		t.Fatalf("Ingest() = %d, %v; want 1, nil", stored, err)
	}
}

func TestNetworkCaptureIgnoresUnrecognisedAndDisabled(t *testing.T) {
	sink := &memorySink{}
	enabled := false
	n := newTestCapture(sink, func() bool { return enabled })
	defer n.Close()

	n.OnRequestWillBeSent("tab-1", requestEvent("r1", "POST", apexURL, "message=%7B%7D"))
	if n.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d while disabled; want 0", n.PendingCount())
	}

	enabled = true
	n.OnRequestWillBeSent("tab-1", requestEvent("r2", "GET", apexURL, ""))
	n.OnRequestWillBeSent("tab-1", requestEvent("r3", "POST", "https://acme.lightning.force.com/other", "x=1"))
	if n.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d for unrecognised requests; want 0", n.PendingCount())
	}
}

func TestNetworkCaptureDropsLostRequests(t *testing.T) {
	sink := &memorySink{}
	n := newTestCapture(sink, nil)
	defer n.Close()

	n.OnRequestWillBeSent("tab-1", requestEvent("r1", "POST", apexURL, "message=%7B%7D"))
	n.OnRequestWillBeSent("tab-1", requestEvent("r2", "POST", apexURL, "message=%7B%7D"))
	n.OnRequestWillBeSent("tab-2", requestEvent("r3", "POST", apexURL, "message=%7B%7D"))

	n.OnLoadingFailed("tab-1", &network.EventLoadingFailed{RequestID: "r1", ErrorText: "net::ERR_ABORTED"})
	n.OnLoadingFinished(context.Background(), "tab-1", &network.EventLoadingFinished{RequestID: "r2"}, func(context.Context) ([]byte, error) {
		return nil, errors.New("No resource with given identifier found")
	})
	n.wg.Wait()
	if n.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d; want 1", n.PendingCount())
	}

	n.OnTabClosed("tab-2")
	if n.PendingCount() != 0 {
		t.Fatalf("PendingCount() after tab close = %d; want 0", n.PendingCount())
	}
	if len(sink.snapshot()) != 0 {
		t.Fatal("lost requests produced stored calls")
	}
}

func TestNetworkCaptureCleanupStale(t *testing.T) {
	n := newTestCapture(&memorySink{}, nil)
	defer n.Close()

	n.OnRequestWillBeSent("tab-1", requestEvent("r1", "POST", apexURL, "message=%7B%7D"))
	n.now = func() time.Time { return time.UnixMilli(1_000_000).Add(2 * time.Minute) }
	n.cleanupStale()
	if n.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d; want 0", n.PendingCount())
	}
}
