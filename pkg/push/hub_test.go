package push

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	received []string
	closed   bool
	failSend bool
}

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.received = append(c.received, string(msg))
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.received...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_SubscribeReplaysBeforeBroadcast(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	conn := &fakeConn{}

	require.NoError(t, hub.Subscribe(user, conn, []byte("snapshot")))
	assert.Equal(t, 1, hub.Broadcast(user, []byte("update")))

	assert.Equal(t, []string{"snapshot", "update"}, conn.messages())
}

func TestHub_SubscribeFuncReadsStateUnderLock(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	conn := &fakeConn{}

	// A transition broadcast while the replay is being built must still
	// reach the new connection, after the replay.
	var wg sync.WaitGroup
	err := hub.SubscribeFunc(user, conn, func() ([][]byte, error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast(user, []byte("completed"))
		}()
		return [][]byte{[]byte("processing")}, nil
	})
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, []string{"processing", "completed"}, conn.messages())
}

func TestHub_SubscribeFuncError(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	conn := &fakeConn{}

	err := hub.SubscribeFunc(user, conn, func() ([][]byte, error) { return nil, errors.New("gone") })
	assert.EqualError(t, err, "gone")
	assert.Zero(t, hub.Count(user))
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(testLogger())
	alice, bob := uuid.New(), uuid.New()
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, hub.Subscribe(alice, a))
	require.NoError(t, hub.Subscribe(bob, b))

	hub.CloseAll()

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Zero(t, hub.Count(alice))
	assert.Zero(t, hub.Broadcast(bob, []byte("late")))

	late := &fakeConn{}
	assert.ErrorIs(t, hub.Subscribe(alice, late), ErrHubClosed)
	assert.True(t, late.Closed())
}

func TestHub_CloseAllEndsSSEStream(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	subscribed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := NewSSEConn(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		if err := hub.Subscribe(user, conn); err != nil {
			return
		}
		close(subscribed)
		<-conn.Done()
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	<-subscribed
	hub.CloseAll()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream still open after CloseAll")
	}
}

func TestHub_BroadcastIsScopedToUser(t *testing.T) {
	hub := NewHub(testLogger())
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b := &fakeConn{}, &fakeConn{}, &fakeConn{}

	require.NoError(t, hub.Subscribe(alice, a1))
	require.NoError(t, hub.Subscribe(alice, a2))
	require.NoError(t, hub.Subscribe(bob, b))

	assert.Equal(t, 2, hub.Broadcast(alice, []byte("hello")))
	assert.Len(t, a1.messages(), 1)
	assert.Len(t, a2.messages(), 1)
	assert.Empty(t, b.messages())
}

func TestHub_BroadcastPrunesDeadConnections(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	live, closed, broken := &fakeConn{}, &fakeConn{}, &fakeConn{failSend: true}

	require.NoError(t, hub.Subscribe(user, live))
	require.NoError(t, hub.Subscribe(user, closed))
	require.NoError(t, hub.Subscribe(user, broken))
	require.NoError(t, closed.Close())

	assert.Equal(t, 1, hub.Broadcast(user, []byte("x")))
	assert.Equal(t, 1, hub.Count(user))
	assert.True(t, broken.Closed())
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	conn := &fakeConn{}

	require.NoError(t, hub.Subscribe(user, conn))
	hub.Unsubscribe(user, conn)

	assert.Equal(t, 0, hub.Count(user))
	assert.Equal(t, 0, hub.Broadcast(user, []byte("x")))
}

func TestHub_FailedReplayDoesNotRegister(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	conn := &fakeConn{failSend: true}

	assert.Error(t, hub.Subscribe(user, conn, []byte("snapshot")))
	assert.Equal(t, 0, hub.Count(user))
}

func TestSSEConn(t *testing.T) {
	rec := httptest.NewRecorder()
	conn, err := NewSSEConn(rec)
	require.NoError(t, err)

	require.NoError(t, conn.Send([]byte(`{"type":"import_progress"}`)))
	require.NoError(t, conn.Ping())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte("late")), ErrStreamClosed)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"type\":\"import_progress\"}\n\n: ping\n\n", rec.Body.String())

	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestWSConn(t *testing.T) {
	hub := NewHub(testLogger())
	user := uuid.New()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConn(ws)
		if err := hub.Subscribe(user, conn, []byte("snapshot")); err != nil {
			return
		}
		conn.Serve()
		hub.Unsubscribe(user, conn)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(msg))

	assert.Equal(t, 1, hub.Broadcast(user, []byte("update")))
	_, msg, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "update", string(msg))
}
