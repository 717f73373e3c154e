package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Feed broadcasts reference topic changes to WebSocket clients. It sits in
// front of the real reference sink: the registry writes through it, clients
// observe what went through.
type Feed struct {
	sink    store.ReferenceSink
	logger  *slog.Logger
	bufSize int

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*feedClient]struct{}
	closed    bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewFeed wraps sink with a WebSocket broadcast of every reference change
func NewFeed(sink store.ReferenceSink, bufSize int, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Feed{
		sink:    sink,
		logger:  logger,
		bufSize: bufSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// Create implements store.ReferenceSink
func (f *Feed) Create(ctx context.Context, path string, typ topic.Type, props topic.Properties) error {
	if err := f.sink.Create(ctx, path, typ, props); err != nil {
		return err
	}
	f.broadcast(store.ReferenceEvent{
		Kind:       store.RefEventCreated,
		Path:       path,
		Type:       typ,
		Properties: props,
	})
	return nil
}

// Publish implements store.ReferenceSink
func (f *Feed) Publish(ctx context.Context, path string, value topic.Value) error {
	if err := f.sink.Publish(ctx, path, value); err != nil {
		return err
	}
	f.broadcast(store.ReferenceEvent{
		Kind:  store.RefEventUpdated,
		Path:  path,
		Type:  value.Type,
		Value: &value,
	})
	return nil
}

// Remove implements store.ReferenceSink
func (f *Feed) Remove(ctx context.Context, path string) error {
	if err := f.sink.Remove(ctx, path); err != nil {
		return err
	}
	f.broadcast(store.ReferenceEvent{
		Kind: store.RefEventRemoved,
		Path: path,
	})
	return nil
}

// broadcast fans an event out to every connected client. A client whose send
// queue is full is dropped rather than allowed to stall the others.
func (f *Feed) broadcast(ev store.ReferenceEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("failed to encode reference event", "path", ev.Path, "error", err)
		return
	}

	f.clientsMu.RLock()
	var slow []*feedClient
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	f.clientsMu.RUnlock()

	for _, c := range slow {
		f.logger.Warn("dropping slow feed client")
		f.removeClient(c)
	}
}

// ClientCount returns the number of connected feed clients
func (f *Feed) ClientCount() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

// Close disconnects all feed clients. The underlying sink is unaffected.
func (f *Feed) Close() {
	f.clientsMu.Lock()
	f.closed = true
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.clients = make(map[*feedClient]struct{})
	f.clientsMu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (f *Feed) removeClient(c *feedClient) {
	f.clientsMu.Lock()
	_, ok := f.clients[c]
	if ok {
		delete(f.clients, c)
	}
	f.clientsMu.Unlock()

	if ok {
		c.close()
	}
}

// ServeHTTP upgrades the connection and streams reference events until the
// client goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("feed upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan []byte, f.bufSize),
	}

	f.clientsMu.Lock()
	if f.closed {
		f.clientsMu.Unlock()
		conn.Close()
		return
	}
	f.clients[client] = struct{}{}
	count := len(f.clients)
	f.clientsMu.Unlock()

	f.logger.Info("feed client connected", "remote", r.RemoteAddr, "clients", count)

	go f.writePump(client)
	f.readPump(client)
}

// readPump consumes control frames until the connection drops. Clients never
// send data frames; anything readable just keeps the pong deadline fresh.
func (f *Feed) readPump(c *feedClient) {
	defer f.removeClient(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
