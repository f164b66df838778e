package ws

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// newPipeConnection creates a Connection whose writes can be read back from
// the returned client end of an in-memory pipe.
func newPipeConnection(t *testing.T, id string, fd int) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return &Connection{
		ID:        id,
		Conn:      server,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}, client
}

// readText reads one text frame from the client end.
func readText(t *testing.T, client net.Conn, into chan<- string) {
	t.Helper()
	go func() {
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			into <- "read error: " + err.Error()
			return
		}
		into <- string(data)
	}()
}

func TestConnectionManager_AddGetRemove(t *testing.T) {
	cm := NewConnectionManager()
	conn, _ := newPipeConnection(t, "conn-1", 11)

	cm.Add(conn)
	if cm.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", cm.Count())
	}
	if got := cm.Get("conn-1"); got != conn {
		t.Error("Get returned the wrong connection")
	}
	if got := cm.GetByFd(11); got != conn {
		t.Error("GetByFd returned the wrong connection")
	}

	if !cm.Remove("conn-1") {
		t.Fatal("expected Remove to report true")
	}
	if cm.Remove("conn-1") {
		t.Fatal("expected second Remove to report false")
	}
	if cm.Count() != 0 {
		t.Errorf("expected 0 connections, got %d", cm.Count())
	}
	if cm.Get("conn-1") != nil {
		t.Error("expected Get to return nil after removal")
	}
}

func TestConnectionManager_SendToSet(t *testing.T) {
	cm := NewConnectionManager()

	conn1, client1 := newPipeConnection(t, "conn-1", 11)
	conn2, client2 := newPipeConnection(t, "conn-2", 12)
	conn3, client3 := newPipeConnection(t, "conn-3", 13)
	cm.Add(conn1)
	cm.Add(conn2)
	cm.Add(conn3)

	got1 := make(chan string, 1)
	got2 := make(chan string, 1)
	readText(t, client1, got1)
	readText(t, client2, got2)

	// conn-3 gets no reader; it must not receive anything. Unknown IDs are
	// skipped without error.
	cm.SendToSet([]string{"conn-1", "conn-2", "ghost"}, []byte("hello"))

	for i, ch := range []chan string{got1, got2} {
		select {
		case msg := <-ch:
			if msg != "hello" {
				t.Errorf("client %d: expected %q, got %q", i+1, "hello", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d: timed out waiting for frame", i+1)
		}
	}

	got3 := make(chan string, 1)
	readText(t, client3, got3)
	select {
	case msg := <-got3:
		t.Fatalf("conn-3 unexpectedly received %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectionManager_Broadcast(t *testing.T) {
	cm := NewConnectionManager()

	conn1, client1 := newPipeConnection(t, "conn-1", 11)
	conn2, client2 := newPipeConnection(t, "conn-2", 12)
	cm.Add(conn1)
	cm.Add(conn2)

	got1 := make(chan string, 1)
	got2 := make(chan string, 1)
	readText(t, client1, got1)
	readText(t, client2, got2)

	cm.Broadcast([]byte("everyone"))

	for i, ch := range []chan string{got1, got2} {
		select {
		case msg := <-ch:
			if msg != "everyone" {
				t.Errorf("client %d: expected %q, got %q", i+1, "everyone", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d: timed out waiting for frame", i+1)
		}
	}
}
