package router

import (
	"context"
	"testing"
	"time"

	"github.com/dgnsrekt/auracap/internal/bridge"
	"github.com/dgnsrekt/auracap/internal/types"
)

func TestTabQueueCompletesCallDespiteSlowSession(t *testing.T) {
	f := newFixture(t, 0)
	f.sessions.firstDelay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := bridge.NewTabQueue(ctx, bridge.NewRelay("__auracapRelay", f.router), "tab-1")

	q.Push("__auracapRelay", `{"type":"AURA_REQUEST_START","payload":`+startPayload("q", 100)+`}`)
	q.Push("__auracapRelay", `{"type":"AURA_REQUEST_COMPLETE","payload":`+completePayload("q", "SUCCESS", 100, 160)+`}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp := f.mustSucceed(t, "tab-1", types.MsgGetAPICall, `{"id":"q"}`)
		if call, ok := resp.Payload.(*types.CapturedCall); ok && call.State != types.CallPending {
			if call.State != types.CallSuccess || call.Duration() != 60 {
				t.Fatalf("call state = %s duration = %d; want SUCCESS 60", call.State, call.Duration())
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("call never left PENDING")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
