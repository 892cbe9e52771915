package push

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

var (
	ErrStreamingUnsupported = errors.New("streaming unsupported")
	ErrStreamClosed         = errors.New("stream closed")
)

// SSEConn writes messages as server-sent events.
type SSEConn struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// NewSSEConn sets the event-stream headers on w.
func NewSSEConn(w http.ResponseWriter) (*SSEConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEConn{w: w, flusher: flusher, done: make(chan struct{})}, nil
}

func (c *SSEConn) Send(msg []byte) error {
	return c.write("data: %s\n\n", msg)
}

// Ping writes a comment line to keep intermediaries from timing out.
func (c *SSEConn) Ping() error {
	return c.write(": ping\n\n")
}

func (c *SSEConn) Closed() bool {
	return c.closed.Load()
}

// Close marks the stream closed. Once it returns no write is in flight, so
// the handler owning the ResponseWriter may return.
func (c *SSEConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// Done is closed when the stream is closed.
func (c *SSEConn) Done() <-chan struct{} {
	return c.done
}

func (c *SSEConn) write(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Closed() {
		return ErrStreamClosed
	}

	if _, err := fmt.Fprintf(c.w, format, args...); err != nil {
		c.closed.Store(true)
		return err
	}
	c.flusher.Flush()
	return nil
}
