package events

import "testing"

func TestDispatcherOnReceivesEmittedEvents(t *testing.T) {
	d := NewDispatcher("crawl-1")
	var got Event
	d.On("page.fetched", func(ev Event) { got = ev })

	d.Emit("page.fetched", map[string]any{"url": "https://example.com/"})

	if got.Type != "page.fetched" {
		t.Fatalf("expected page.fetched, got %q", got.Type)
	}
	if got.CrawlID != "crawl-1" {
		t.Fatalf("expected crawl id stamped, got %q", got.CrawlID)
	}
	if got.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", got.Seq)
	}
	if got.Payload["url"] != "https://example.com/" {
		t.Fatalf("expected payload to pass through, got %+v", got.Payload)
	}
}

func TestDispatcherOnceFiresOnlyOnce(t *testing.T) {
	d := NewDispatcher("crawl-1")
	count := 0
	d.Once("crawl.heartbeat", func(Event) { count++ })

	d.Emit("crawl.heartbeat", nil)
	d.Emit("crawl.heartbeat", nil)

	if count != 1 {
		t.Fatalf("expected once handler to fire exactly once, fired %d", count)
	}
}

func TestDispatcherUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher("crawl-1")
	count := 0
	unsubscribe := d.On("error.occurred", func(Event) { count++ })

	d.Emit("error.occurred", nil)
	unsubscribe()
	d.Emit("error.occurred", nil)

	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestDispatcherOffRemovesByIdentity(t *testing.T) {
	d := NewDispatcher("crawl-1")
	count := 0
	handler := func(Event) { count++ }
	d.On("checkpoint.saved", handler)

	d.Off("checkpoint.saved", handler)
	d.Emit("checkpoint.saved", nil)

	if count != 0 {
		t.Fatalf("expected Off to remove handler before emit, got %d calls", count)
	}
}

func TestDispatcherOnWithReplayDeliversBacklogImmediately(t *testing.T) {
	d := NewDispatcher("crawl-1")
	d.Emit("crawl.backpressure", map[string]any{"host": "a.example"})
	d.Emit("crawl.backpressure", map[string]any{"host": "b.example"})

	var seen []string
	d.OnWithReplay("crawl.backpressure", func(ev Event) {
		seen = append(seen, ev.Payload["host"].(string))
	})

	if len(seen) != 2 || seen[0] != "a.example" || seen[1] != "b.example" {
		t.Fatalf("expected replay of both prior events in order, got %v", seen)
	}

	d.Emit("crawl.backpressure", map[string]any{"host": "c.example"})
	if len(seen) != 3 || seen[2] != "c.example" {
		t.Fatalf("expected live event to append after replay, got %v", seen)
	}
}

func TestDispatcherHandlerPanicDoesNotAbortEmit(t *testing.T) {
	d := NewDispatcher("crawl-1")
	secondCalled := false
	d.On("crawl.finished", func(Event) { panic("boom") })
	d.On("crawl.finished", func(Event) { secondCalled = true })

	d.Emit("crawl.finished", nil)

	if !secondCalled {
		t.Fatalf("expected second handler to run despite first panicking")
	}
}
