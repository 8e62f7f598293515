package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cams-platform/cams/internal/logging"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientCommand{Action: "subscribe", Channel: channel}))
}

// publishUntil republishes until the subscribe command has taken effect and a
// matching event arrives, since subscription happens on the client's read
// goroutine.
func publishUntil(t *testing.T, hub *Hub, conn *websocket.Conn, channel, event string) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	received := make(chan Event, 1)
	go func() {
		var ev Event
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}()

	for time.Now().Before(deadline) {
		hub.Publish(channel, event, map[string]string{"k": "v"})
		select {
		case ev := <-received:
			return ev
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no event received")
	return Event{}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(logging.Nop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Stop(context.Background())

	conn := dial(t, srv.URL)
	subscribe(t, conn, "connections")

	ev := publishUntil(t, hub, conn, "connections", "connection.test")
	assert.Equal(t, "connections", ev.Channel)
	assert.Equal(t, "connection.test", ev.Event)
	assert.False(t, ev.TS.IsZero())
}

func TestHubFiltersByChannel(t *testing.T) {
	hub := NewHub(logging.Nop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Stop(context.Background())

	conn := dial(t, srv.URL)
	subscribe(t, conn, "import:job-1")

	// Confirm the subscription is live on the wanted channel first.
	ev := publishUntil(t, hub, conn, "import:job-1", "import.progress")
	require.Equal(t, "import:job-1", ev.Channel)

	// An event on another channel must not reach this client. Drain until
	// the read deadline; only leftover job-1 events may appear.
	hub.Publish("import:job-2", "import.progress", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		var got Event
		if err := conn.ReadJSON(&got); err != nil {
			break
		}
		assert.NotEqual(t, "import:job-2", got.Channel, "received event for a channel the client never subscribed to")
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(logging.Nop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Stop(context.Background())

	conn := dial(t, srv.URL)
	subscribe(t, conn, "connections")
	publishUntil(t, hub, conn, "connections", "connection.test")

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "unsubscribe", Channel: "connections"}))
	// Give the read pump a moment to apply the command.
	time.Sleep(100 * time.Millisecond)

	hub.Publish("connections", "connection.deleted", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		var got Event
		if err := conn.ReadJSON(&got); err != nil {
			break
		}
		assert.NotEqual(t, "connection.deleted", got.Event, "received event after unsubscribing")
	}
}

func TestPublishEvictsSlowClientOnce(t *testing.T) {
	hub := NewHub(logging.Nop(), nil)

	// A client with an unbuffered send channel and no write pump is slow on
	// every publish.
	c := &client{hub: hub, send: make(chan Event), channels: map[string]struct{}{"jobs": {}}}
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	start := make(chan struct{})
	panics := make(chan interface{}, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panics <- r
				}
			}()
			<-start
			hub.Publish("jobs", "import.progress", nil)
		}()
	}
	close(start)
	wg.Wait()
	close(panics)

	for p := range panics {
		t.Fatalf("Publish panicked: %v", p)
	}

	hub.mu.RLock()
	_, present := hub.clients[c]
	hub.mu.RUnlock()
	assert.False(t, present, "slow client should have been evicted")

	_, open := <-c.send
	assert.False(t, open, "send channel should be closed after eviction")
}

func TestStopRacingSlowEvictionClosesOnce(t *testing.T) {
	hub := NewHub(logging.Nop(), nil)

	c := &client{hub: hub, send: make(chan Event), channels: map[string]struct{}{"jobs": {}}}
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	start := make(chan struct{})
	panics := make(chan interface{}, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				panics <- r
			}
		}()
		<-start
		hub.Publish("jobs", "import.progress", nil)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				panics <- r
			}
		}()
		<-start
		hub.Stop(context.Background())
	}()
	close(start)
	wg.Wait()
	close(panics)

	for p := range panics {
		t.Fatalf("hub panicked: %v", p)
	}
}
