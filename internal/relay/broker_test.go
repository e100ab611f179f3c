package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	if b.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d; want 2", b.ClientCount())
	}

	b.Publish(Event{Feed: FeedCalls, Payload: `{"id":"c1"}`})
	for i, ch := range []<-chan Event{ch1, ch2} {
		evt := <-ch
		if evt.Feed != FeedCalls || evt.Payload != `{"id":"c1"}` {
			t.Fatalf("subscriber %d got %+v", i, evt)
		}
	}

	b.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Fatal("channel still open after Unsubscribe()")
	}
	b.Unsubscribe(id1)
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d; want 1", b.ClientCount())
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()
	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish(Event{Feed: FeedCalls, Payload: "{}"})
	}
	if len(ch) != subscriberBufSize {
		t.Fatalf("buffered = %d; want %d", len(ch), subscriberBufSize)
	}
	if b.Dropped() != 5 {
		t.Fatalf("Dropped() = %d; want 5", b.Dropped())
	}
}

func TestBrokerPublishJSON(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()

	b.PublishJSON(FeedSettings, map[string]any{"captureEnabled": false})
	evt := <-ch
	if evt.Feed != FeedSettings || evt.Payload != `{"captureEnabled":false}` {
		t.Fatalf("event = %+v", evt)
	}

	b.PublishJSON(FeedSettings, func() {})
	if len(ch) != 0 {
		t.Fatal("unmarshalable value was published")
	}
}

func TestParseFeeds(t *testing.T) {
	if got := parseFeeds(""); got != nil {
		t.Fatalf("parseFeeds(\"\") = %v; want nil", got)
	}
	if got := parseFeeds(" , "); got != nil {
		t.Fatalf("parseFeeds(blank) = %v; want nil", got)
	}
	got := parseFeeds("calls, settings")
	if len(got) != 2 || !got["calls"] || !got["settings"] {
		t.Fatalf("parseFeeds() = %v", got)
	}
}

func TestSSEHandlerFiltersFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=settings", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for b.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{Feed: FeedCalls, Payload: `{"skip":true}`})
	b.Publish(Event{Feed: FeedSettings, Payload: `{"maxRequestEntries":5}`})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: settings" || lines[1] != `data: {"maxRequestEntries":5}` {
		t.Fatalf("stream = %q", lines)
	}
}
