package bridge

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgnsrekt/auracap/internal/types"
)

type recordingDispatcher struct {
	tabs     []string
	messages []types.Message
	resp     types.Response
}

func (d *recordingDispatcher) Dispatch(_ context.Context, tabID string, msg types.Message) types.Response {
	d.tabs = append(d.tabs, tabID)
	d.messages = append(d.messages, msg)
	return d.resp
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestHandleBindingForwardsCaptureEvents(t *testing.T) {
	d := &recordingDispatcher{resp: types.Success(nil)}
	r := NewRelay("__relay", d)

	r.HandleBinding(context.Background(), "tab-1", "__relay", `{"type":"AURA_REQUEST_START","payload":{"id":"a","requestedAt":5}}`)

	if len(d.messages) != 1 {
		t.Fatalf("dispatched %d messages; want 1", len(d.messages))
	}
	if d.tabs[0] != "tab-1" || d.messages[0].Type != types.MsgAuraRequestStart {
		t.Fatalf("dispatched %s/%s", d.tabs[0], d.messages[0].Type)
	}
	if string(d.messages[0].Payload) != `{"id":"a","requestedAt":5}` {
		t.Fatalf("payload = %s; want it unmodified", d.messages[0].Payload)
	}
}

func TestHandleBindingDropsForeignTraffic(t *testing.T) {
	d := &recordingDispatcher{resp: types.Success(nil)}
	r := NewRelay("__relay", d)
	ctx := context.Background()

	r.HandleBinding(ctx, "tab-1", "otherBinding", `{"type":"AURA_REQUEST_START"}`)
	r.HandleBinding(ctx, "tab-1", "__relay", `not json`)
	r.HandleBinding(ctx, "tab-1", "__relay", `{"type":"CLEAR_ALL_API_CALLS"}`)

	if len(d.messages) != 0 {
		t.Fatalf("dispatched %v; want nothing", d.messages)
	}
}

func TestHandleBindingLogsDeliveryFailure(t *testing.T) {
	logs := captureLogs(t)
	d := &recordingDispatcher{resp: types.Failure(types.NewError(types.CodeNotFound, "call x not found", nil))}
	r := NewRelay("__relay", d)

	r.HandleBinding(context.Background(), "tab-1", "__relay", `{"type":"AURA_REQUEST_COMPLETE","payload":{"id":"x"}}`)

	if !strings.Contains(logs.String(), "bridge delivery failed") {
		t.Fatalf("logs = %q; want delivery failure", logs.String())
	}
}
