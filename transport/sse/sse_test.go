package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/conduit/bus"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/transport"
	"github.com/pithecene-io/conduit/types"
)

func newTestBus(capacity int) *bus.Bus {
	logger := log.NewLogger("sse-test").WithOutput(io.Discard)
	return bus.New(logger, metrics.NewCollector("sse", "none"), capacity)
}

func newTestServer(t *testing.T, b *bus.Bus, opts transport.Options) *httptest.Server {
	t.Helper()
	handler := NewHandler(b, log.NewLogger("sse-test").WithOutput(io.Discard), opts)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func publishText(b *bus.Bus, sessionID, delta string) {
	ev := &types.TextMessageContentEvent{
		BaseEvent: types.NewBase(types.EventTextMessageContent),
		MessageID: "m1",
		Delta:     delta,
	}
	ev.SessionID = &sessionID
	b.Publish(ev)
}

// waitForSubscriber polls until the session has at least one subscriber.
func waitForSubscriber(t *testing.T, b *bus.Bus, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount(sessionID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliversEventsAndDoneFrame(t *testing.T) {
	b := newTestBus(16)
	defer b.Close()
	server := newTestServer(t, b, transport.Options{KeepAliveInterval: time.Minute})

	resp, err := http.Get(server.URL + "/stream?session=s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %s", ct)
	}

	waitForSubscriber(t, b, "s1")
	publishText(b, "s1", "Hel")
	publishText(b, "s1", "lo")
	b.CloseSession("s1")

	var deltas []string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "event: done":
			sawDone = true
		case strings.HasPrefix(line, "data: ") && !sawDone:
			var envelope struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope); err != nil {
				t.Fatalf("bad data frame %q: %v", line, err)
			}
			deltas = append(deltas, envelope.Delta)
		}
	}

	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("deltas = %v, want [Hel lo]", deltas)
	}
	if !sawDone {
		t.Error("expected event: done frame on session completion")
	}
}

func TestMissingSessionIDRejected(t *testing.T) {
	b := newTestBus(16)
	defer b.Close()
	server := newTestServer(t, b, transport.Options{})

	resp, err := http.Get(server.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestKeepAliveComments(t *testing.T) {
	b := newTestBus(16)
	defer b.Close()
	server := newTestServer(t, b, transport.Options{KeepAliveInterval: 20 * time.Millisecond})

	resp, err := http.Get(server.URL + "/stream?session=s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(2*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ":") {
			return // keep-alive comment observed
		}
	}
	t.Fatal("no keep-alive comment before deadline")
}

func TestOverrunEmitsErrorFrame(t *testing.T) {
	b := newTestBus(1)
	defer b.Close()
	server := newTestServer(t, b, transport.Options{KeepAliveInterval: time.Minute})

	resp, err := http.Get(server.URL + "/stream?session=s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	waitForSubscriber(t, b, "s1")
	// The handler forwards from a capacity-1 queue; publishing in a tight
	// loop outruns it and forces an overrun, which detaches the
	// subscriber and stops the loop.
	for i := 0; i < 100000 && b.SubscriberCount("s1") > 0; i++ {
		publishText(b, "s1", "x")
	}
	if b.SubscriberCount("s1") > 0 {
		t.Fatal("subscriber never overran")
	}

	sawError := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: error" {
			sawError = true
			break
		}
	}
	if !sawError {
		t.Error("expected event: error frame after overrun")
	}
}
