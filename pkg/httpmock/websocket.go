package httpmock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/mock"
)

// ErrConnectionNotFound is returned when pushing to an unknown connection.
var ErrConnectionNotFound = errors.New("websocket connection not found")

// maxMessageSize bounds inbound frames.
const maxMessageSize = 1 << 20

// ConnectionInfo describes an open WebSocket connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	DefinitionID string    `json:"definitionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Hub tracks the open WebSocket connections of a listener.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*connection)}
}

func (h *Hub) add(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// Connections lists the open connections, oldest first.
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.RLock()
	out := make([]ConnectionInfo, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.info())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Push sends a text message to the connection with the given id.
func (h *Hub) Push(ctx context.Context, id, payload string) error {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	return c.send(ctx, payload)
}

// CloseAll closes every connection with reason.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close(ws.StatusGoingAway, reason)
	}
}

// PushToWebSocket sends payload to the open connection with the given id.
func (l *Listener) PushToWebSocket(ctx context.Context, id, payload string) error {
	return l.hub.Push(ctx, id, payload)
}

type connection struct {
	id          string
	path        string
	def         *mock.Definition
	conn        *ws.Conn
	connectedAt time.Time
	lastActive  atomic.Int64
	closed      atomic.Bool
}

func (c *connection) info() ConnectionInfo {
	return ConnectionInfo{ID: c.id, Path: c.path, DefinitionID: c.def.ID, ConnectedAt: c.connectedAt}
}

func (c *connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *connection) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastActive.Load()))
}

func (c *connection) send(ctx context.Context, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, ws.MessageText, []byte(payload)); err != nil {
		return err
	}
	c.touch()
	return nil
}

func (c *connection) close(code ws.StatusCode, reason string) {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close(code, reason)
	}
}

// serveWebSocket upgrades r and answers each text frame from def's rules,
// in the order the frames arrive.
func (l *Listener) serveWebSocket(w http.ResponseWriter, r *http.Request, upgrade *mock.Request, def *mock.Definition) {
	wsConn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    ws.CompressionDisabled,
	})
	if err != nil {
		l.log.Warn("websocket accept failed", "path", r.URL.Path, "error", err)
		return
	}
	wsConn.SetReadLimit(maxMessageSize)

	c := &connection{
		id:          uuid.NewString(),
		path:        r.URL.Path,
		def:         def,
		conn:        wsConn,
		connectedAt: time.Now(),
	}
	c.touch()
	l.hub.add(c)
	log := l.log.With("connection", c.id, "path", c.path)
	log.Debug("websocket connected", "definition", def.ID)

	// The request context ends with the listener, hijacked or not.
	ctx, cancel := context.WithCancel(l.ctx)
	defer func() {
		cancel()
		l.hub.remove(c.id)
		c.close(ws.StatusNormalClosure, "")
		log.Debug("websocket disconnected")
	}()

	if timeout := def.WebSocketTimeout.Duration(); timeout > 0 {
		go watchIdle(ctx, c, timeout)
	}

	if def.PushIDOnConnect {
		msg, _ := json.Marshal(map[string]string{"id": c.id})
		if err := c.send(ctx, string(msg)); err != nil {
			return
		}
	}
	for i := range def.Events {
		ev := engine.Render(&def.Events[i], upgrade)
		if ev.Delay > 0 && !sleep(ctx, ev.Delay.Duration()) {
			return
		}
		if err := c.send(ctx, ev.Body); err != nil {
			return
		}
	}

	for {
		typ, data, err := wsConn.Read(ctx)
		if err != nil {
			return
		}
		c.touch()
		if typ != ws.MessageText {
			continue
		}

		frame := *upgrade
		frame.Body = data
		resp := l.frameResponse(&frame, def)
		if resp == nil {
			continue
		}
		if resp.Delay > 0 && !sleep(ctx, resp.Delay.Duration()) {
			return
		}
		if err := c.send(ctx, resp.Body); err != nil {
			log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// frameResponse picks the reply to one frame. Definitions without rules
// reply with their fixed response, if any.
func (l *Listener) frameResponse(frame *mock.Request, def *mock.Definition) *mock.Response {
	if len(def.Rules) == 0 {
		return engine.Render(def.Response, frame)
	}
	return l.run.Matcher.MatchRules(frame, def).Response
}

// watchIdle closes c once it has been idle longer than timeout.
func watchIdle(ctx context.Context, c *connection, timeout time.Duration) {
	tick := time.Second
	if timeout < 4*tick {
		tick = timeout / 4
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.idle() > timeout {
				c.close(ws.StatusGoingAway, "idle timeout")
				return
			}
		}
	}
}

// isWebSocketUpgrade checks if the request is a WebSocket upgrade request.
func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") {
		return false
	}
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
