package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}

	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}

	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}

	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}

	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHub_GetClientCount(t *testing.T) {
	hub := NewHub(nil)

	// Initial count should be 0
	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("GetClientCount() = %v, want 0", count)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	conn := &fakeConn{}
	client := hub.RegisterClient(conn, "alice", "main")
	hub.RegisterClient(&fakeConn{}, "bob", "side")

	waitFor(t, func() bool { return hub.GetClientCount() == 2 })
	if n := hub.TableClientCount("main"); n != 1 {
		t.Errorf("TableClientCount(main) = %d, want 1", n)
	}

	hub.UnregisterClient(client)
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		t.Error("unregistered connection not closed")
	}
}

func TestHub_PublishReachesOnlyTable(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	mainConn := &fakeConn{}
	side := &fakeConn{}
	hub.RegisterClient(mainConn, "alice", "main")
	hub.RegisterClient(side, "bob", "side")
	waitFor(t, func() bool { return hub.GetClientCount() == 2 })

	if !hub.Publish("main", ParticipantLanded{Participant: 1, FinalScore: 100, Multiplier: 2}) {
		t.Fatal("Publish() dropped the message")
	}
	waitFor(t, func() bool { return len(mainConn.received()) == 1 })

	var msg struct {
		Type    string            `json:"type"`
		TableID string            `json:"table_id"`
		Data    ParticipantLanded `json:"data"`
	}
	if err := json.Unmarshal(mainConn.received()[0], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != string(EventParticipantLanded) || msg.TableID != "main" {
		t.Errorf("envelope = %+v", msg)
	}
	if msg.Data.FinalScore != 100 {
		t.Errorf("FinalScore = %d, want 100", msg.Data.FinalScore)
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(side.received()); n != 0 {
		t.Errorf("other table received %d messages", n)
	}
}

func TestHub_BroadcastChannelFull(t *testing.T) {
	hub := NewHub(nil)

	// Don't start the hub, so broadcast channel fills up
	for i := 0; i < BROADCAST_BUFFER; i++ {
		if !hub.Broadcast("main", map[string]string{"msg": "test"}) {
			t.Fatalf("Broadcast() dropped message %d before the buffer was full", i)
		}
	}

	// Next broadcast should not block (should drop message)
	done := make(chan bool, 1)
	go func() {
		done <- hub.Broadcast("main", map[string]string{"msg": "overflow"})
	}()

	select {
	case queued := <-done:
		if queued {
			t.Error("Broadcast() queued past the buffer")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast() blocked when channel was full")
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	// Concurrent broadcasts
	var wg sync.WaitGroup
	broadcasts := 100

	for i := 0; i < broadcasts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast("main", map[string]any{
				"type":  "test",
				"value": n,
			})
		}(i)
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
		// Success
	case <-time.After(1 * time.Second):
		t.Error("Concurrent broadcasts timed out")
	}
}

func TestHub_PublishKeepsOrder(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	conn := &fakeConn{}
	hub.RegisterClient(conn, "alice", "main")
	waitFor(t, func() bool { return hub.GetClientCount() == 1 })

	const n = CLIENT_BUFFER / 2
	for i := 0; i < n; i++ {
		if !hub.Publish("main", ScoreUpdated{Participant: 1, BaseScore: int64(i)}) {
			t.Fatalf("Publish() dropped message %d", i)
		}
	}
	waitFor(t, func() bool { return len(conn.received()) == n })

	for i, raw := range conn.received() {
		var msg struct {
			Data ScoreUpdated `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Data.BaseScore != int64(i) {
			t.Fatalf("message %d carries score %d, want %d", i, msg.Data.BaseScore, i)
		}
	}
}

func TestClient_OutboxFullDrops(t *testing.T) {
	client := newClient(&fakeConn{}, "alice", "main")

	for i := 0; i < CLIENT_BUFFER; i++ {
		if !client.enqueue([]byte("{}")) {
			t.Fatalf("enqueue() dropped frame %d before the outbox was full", i)
		}
	}
	if client.enqueue([]byte("{}")) {
		t.Error("enqueue() accepted a frame past the outbox size")
	}
}

func TestClient_Send(t *testing.T) {
	conn := &fakeConn{}
	client := &Client{conn: conn, userID: "alice", tableID: "main"}

	if err := client.Send(WSMessage{Type: "pong"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := conn.received()
	if len(got) != 1 || string(got[0]) != `{"type":"pong"}` {
		t.Errorf("received %q", got)
	}

	if err := client.Send(func() {}); err == nil {
		t.Error("Send() accepted an unmarshalable message")
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	message := map[string]any{
		"type": "benchmark",
		"data": "test_data",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast("main", message)
	}
}
